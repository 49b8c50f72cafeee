package log

import "log/slog"

// SetDefaultLogger routes the slog package-level functions through l, so
// libraries that log via slog.Default share cibox's level and format.
func SetDefaultLogger(l *Logger) {
	if l == nil {
		return
	}
	slog.SetDefault(l.Logger)
}

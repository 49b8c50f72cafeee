package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level is a slog level. cibox only uses the four standard ones.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config configures New. Stdout is reserved for reports, so a nil Output
// means stderr.
type Config struct {
	Level       Level
	Format      Format
	Output      io.Writer
	AddSource   bool
	ServiceName string
}

func (c Config) writer() io.Writer {
	if c.Output == nil {
		return os.Stderr
	}
	return c.Output
}

// DefaultConfig logs text at INFO to stderr.
func DefaultConfig() Config {
	return Config{
		Level:       LevelInfo,
		Format:      FormatText,
		ServiceName: "cibox",
	}
}

// ParseLevel accepts debug, info, warn(ing) and error in any case.
// Anything else is INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// ParseFormat maps "text" and "console" to FormatText and anything else,
// including the empty string, to FormatJSON.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "console":
		return FormatText
	default:
		return FormatJSON
	}
}

// FromStrings builds a Config from the log.level and log.format settings.
// Debug logging also records source locations.
func FromStrings(level, format string) Config {
	cfg := DefaultConfig()
	cfg.Level = ParseLevel(level)
	cfg.Format = ParseFormat(format)
	cfg.AddSource = cfg.Level == LevelDebug
	return cfg
}

package log

import (
	stderrors "errors"
	"io"
	"log/slog"

	"github.com/felixgeelhaar/cibox/internal/errors"
)

// Logger is a slog.Logger that knows about runs, jobs and coded errors.
type Logger struct {
	*slog.Logger
}

// New builds a Logger writing config.Format records at config.Level or above.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{
		Level:     config.Level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == FormatText {
		handler = slog.NewTextHandler(config.writer(), opts)
	} else {
		handler = slog.NewJSONHandler(config.writer(), opts)
	}

	l := slog.New(handler)
	if config.ServiceName != "" {
		l = l.With("service", config.ServiceName)
	}
	return &Logger{Logger: l}
}

// Default logs at INFO in text form to stderr.
func Default() *Logger {
	return New(DefaultConfig())
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With returns a Logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithRun scopes the logger to a pipeline run.
func (l *Logger) WithRun(runID, pipeline string) *Logger {
	return l.With("run_id", runID, "pipeline", pipeline)
}

// WithJob scopes the logger to a single job.
func (l *Logger) WithJob(jobID string) *Logger {
	return l.With("job_id", jobID)
}

// WithError attaches err. Coded errors are flattened into error_code,
// suggestions, docs_url and cause fields so they stay queryable.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.With(errorArgs(err)...)
}

func errorArgs(err error) []any {
	var coded *errors.Error
	if !stderrors.As(err, &coded) {
		return []any{"error", err.Error()}
	}

	args := []any{"error", coded.Message, "error_code", string(coded.Code)}
	if len(coded.Suggestions) > 0 {
		args = append(args, "suggestions", coded.Suggestions)
	}
	if coded.DocsURL != "" {
		args = append(args, "docs_url", coded.DocsURL)
	}
	if coded.Cause != nil {
		args = append(args, "cause", coded.Cause.Error())
	}
	return args
}

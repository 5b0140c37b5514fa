package annex

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with annex-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithVariant adds a variant field to the logger.
func (l *Logger) WithVariant(v Variant) *Logger {
	return &Logger{
		Logger: l.Logger.With("variant", v.String()),
	}
}

// LogTrain logs a training run.
func (l *Logger) LogTrain(ctx context.Context, n int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "train failed",
			"vectors", n,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "train completed",
			"vectors", n,
		)
	}
}

// LogAdd logs an add operation.
func (l *Logger) LogAdd(ctx context.Context, n int, ntotal int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add failed",
			"vectors", n,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "add completed",
			"vectors", n,
			"ntotal", ntotal,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, nq, k int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"queries", nq,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"queries", nq,
			"k", k,
		)
	}
}

// LogRemove logs an identifier removal.
func (l *Logger) LogRemove(ctx context.Context, requested int, removed int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "remove failed",
			"requested", requested,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "remove completed",
			"requested", requested,
			"removed", removed,
		)
	}
}

// LogSnapshot logs an index write to durable storage.
func (l *Logger) LogSnapshot(ctx context.Context, filename string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"filename", filename,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"filename", filename,
		)
	}
}

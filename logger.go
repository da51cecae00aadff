package skim

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with skim-specific context.
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
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithK adds a k (selection size) field to the logger.
func (l *Logger) WithK(k int) *Logger {
	return &Logger{
		Logger: l.Logger.With("k", k),
	}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With("count", count),
	}
}

// LogPush logs a push operation.
func (l *Logger) LogPush(ctx context.Context, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "push failed",
			"size", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "push completed",
			"size", size,
		)
	}
}

// LogOffer logs an offer operation.
func (l *Logger) LogOffer(ctx context.Context, kept bool, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "offer failed",
			"size", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "offer completed",
			"size", size,
			"kept", kept,
		)
	}
}

// LogSelect logs a selection operation.
func (l *Logger) LogSelect(ctx context.Context, op string, k, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "selection failed",
			"op", op,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "selection completed",
			"op", op,
			"k", k,
			"results", results,
		)
	}
}

// LogSnapshot logs a snapshot operation.
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

// LogLoad logs a snapshot load operation.
func (l *Logger) LogLoad(ctx context.Context, filename string, entries int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot load failed",
			"filename", filename,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot loaded",
			"filename", filename,
			"entries", entries,
		)
	}
}

// LogCompact logs an arena compaction.
func (l *Logger) LogCompact(reclaimed int64) {
	if reclaimed > 0 {
		l.Debug("compaction completed",
			"reclaimed_bytes", reclaimed,
		)
	}
}

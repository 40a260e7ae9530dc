package hexcache

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with hexcache-specific context.
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
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithCoord adds a coordinate id field to the logger.
func (l *Logger) WithCoord(coordID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("coord", coordID),
	}
}

// WithDepth adds a depth field to the logger.
func (l *Logger) WithDepth(depth int) *Logger {
	return &Logger{
		Logger: l.Logger.With("depth", depth),
	}
}

// WithTopic adds a bus topic field to the logger.
func (l *Logger) WithTopic(topic string) *Logger {
	return &Logger{
		Logger: l.Logger.With("topic", topic),
	}
}

package logger

import (
	"context"
	"fmt"
	"log/slog"
)

type contextKey struct{}

// WithLogger returns a new context with the given logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// WithValues returns a context whose logger carries the given attributes.
// Arguments are slog.Attr values or key-value pairs, as accepted by slog.
func WithValues(ctx context.Context, keyvals ...any) context.Context {
	if danglingKey(keyvals) {
		keyvals = append(keyvals, "MISSING_VALUE")
	}
	return WithLogger(ctx, FromContext(ctx).With(keyvals...))
}

func danglingKey(keyvals []any) bool {
	for i := 0; i < len(keyvals); i++ {
		if _, ok := keyvals[i].(slog.Attr); ok {
			continue
		}
		if i == len(keyvals)-1 {
			return true
		}
		i++
	}
	return false
}

// FromContext returns the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return defaultLogger
	}
	if value, ok := ctx.Value(contextKey{}).(Logger); ok {
		return value
	}
	return defaultLogger
}

// Debug logs a message with debug level.
func Debug(ctx context.Context, msg string, tags ...any) {
	logAt(ctx, slog.LevelDebug, msg, tags...)
}

// Info logs a message with info level.
func Info(ctx context.Context, msg string, tags ...any) {
	logAt(ctx, slog.LevelInfo, msg, tags...)
}

// Warn logs a message with warn level.
func Warn(ctx context.Context, msg string, tags ...any) {
	logAt(ctx, slog.LevelWarn, msg, tags...)
}

// Error logs a message with error level.
func Error(ctx context.Context, msg string, tags ...any) {
	logAt(ctx, slog.LevelError, msg, tags...)
}

// Debugf logs a formatted message with debug level.
func Debugf(ctx context.Context, format string, v ...any) {
	logAt(ctx, slog.LevelDebug, fmt.Sprintf(format, v...))
}

// Infof logs a formatted message with info level.
func Infof(ctx context.Context, format string, v ...any) {
	logAt(ctx, slog.LevelInfo, fmt.Sprintf(format, v...))
}

// Warnf logs a formatted message with warn level.
func Warnf(ctx context.Context, format string, v ...any) {
	logAt(ctx, slog.LevelWarn, fmt.Sprintf(format, v...))
}

// Errorf logs a formatted message with error level.
func Errorf(ctx context.Context, format string, v ...any) {
	logAt(ctx, slog.LevelError, fmt.Sprintf(format, v...))
}

// logAt keeps source attribution pointing at the caller of the package-level
// helper rather than at this file.
func logAt(ctx context.Context, level slog.Level, msg string, tags ...any) {
	l := FromContext(ctx)
	if a, ok := l.(*appLogger); ok {
		a.log(4, level, msg, tags...)
		return
	}
	switch level {
	case slog.LevelDebug:
		l.Debug(msg, tags...)
	case slog.LevelWarn:
		l.Warn(msg, tags...)
	case slog.LevelError:
		l.Error(msg, tags...)
	default:
		l.Info(msg, tags...)
	}
}

package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// Logger is the structured logger used across blobtrigger.
type Logger interface {
	Debug(msg string, tags ...any)
	Info(msg string, tags ...any)
	Warn(msg string, tags ...any)
	Error(msg string, tags ...any)

	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)

	With(attrs ...any) Logger
	WithGroup(name string) Logger
}

var _ Logger = (*appLogger)(nil)

type appLogger struct {
	logger         *slog.Logger
	guardedHandler *guardedHandler
	debug          bool
}

// Config holds the logger construction options.
type Config struct {
	debug  bool
	format string
	writer io.Writer
	quiet  bool
}

type Option func(*Config)

// WithDebug sets the level of the logger to debug.
func WithDebug() Option {
	return func(o *Config) {
		o.debug = true
	}
}

// WithFormat sets the format of the logger (text or json).
func WithFormat(format string) Option {
	return func(o *Config) {
		o.format = format
	}
}

// WithWriter sets an additional writer logs are copied to.
func WithWriter(w io.Writer) Option {
	return func(o *Config) {
		o.writer = w
	}
}

// WithQuiet suppresses output to stderr.
func WithQuiet() Option {
	return func(o *Config) {
		o.quiet = true
	}
}

var defaultLogger = NewLogger(WithFormat("text"))

func NewLogger(opts ...Option) Logger {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	level := slog.LevelInfo
	if cfg.debug {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var (
		handlers       []slog.Handler
		guardedHandler *guardedHandler
	)

	if !cfg.quiet {
		handlers = append(handlers, newHandler(os.Stderr, cfg.format, handlerOpts))
	}

	if cfg.writer != nil {
		handler := newHandler(cfg.writer, cfg.format, handlerOpts)
		guardedHandler = newGuardedHandler(handler, cfg.writer)
		handlers = append(handlers, guardedHandler)
	}

	return &appLogger{
		logger:         slog.New(slogmulti.Fanout(handlers...)),
		guardedHandler: guardedHandler,
		debug:          cfg.debug,
	}
}

var _ slog.Handler = (*guardedHandler)(nil)

// guardedHandler serializes writes to a shared writer so lines from
// concurrent loggers never interleave.
type guardedHandler struct {
	handler slog.Handler
	writer  io.Writer
	mu      *sync.Mutex
}

func newGuardedHandler(handler slog.Handler, writer io.Writer) *guardedHandler {
	return &guardedHandler{
		handler: handler,
		writer:  writer,
		mu:      &sync.Mutex{},
	}
}

// Enabled implements slog.Handler.
func (s *guardedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return s.handler.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (s *guardedHandler) Handle(ctx context.Context, record slog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler.Handle(ctx, record)
}

// WithAttrs implements slog.Handler.
func (s *guardedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &guardedHandler{
		handler: s.handler.WithAttrs(attrs),
		writer:  s.writer,
		mu:      s.mu,
	}
}

// WithGroup implements slog.Handler.
func (s *guardedHandler) WithGroup(name string) slog.Handler {
	return &guardedHandler{
		handler: s.handler.WithGroup(name),
		writer:  s.writer,
		mu:      s.mu,
	}
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// Debugf implements Logger.
func (a *appLogger) Debugf(format string, v ...any) {
	a.log(3, slog.LevelDebug, fmt.Sprintf(format, v...))
}

// Errorf implements Logger.
func (a *appLogger) Errorf(format string, v ...any) {
	a.log(3, slog.LevelError, fmt.Sprintf(format, v...))
}

// Infof implements Logger.
func (a *appLogger) Infof(format string, v ...any) {
	a.log(3, slog.LevelInfo, fmt.Sprintf(format, v...))
}

// Warnf implements Logger.
func (a *appLogger) Warnf(format string, v ...any) {
	a.log(3, slog.LevelWarn, fmt.Sprintf(format, v...))
}

// Debug implements Logger.
func (a *appLogger) Debug(msg string, tags ...any) {
	a.log(3, slog.LevelDebug, msg, tags...)
}

// Error implements Logger.
func (a *appLogger) Error(msg string, tags ...any) {
	a.log(3, slog.LevelError, msg, tags...)
}

// Info implements Logger.
func (a *appLogger) Info(msg string, tags ...any) {
	a.log(3, slog.LevelInfo, msg, tags...)
}

// Warn implements Logger.
func (a *appLogger) Warn(msg string, tags ...any) {
	a.log(3, slog.LevelWarn, msg, tags...)
}

// log writes a record attributed to the caller skip frames up the stack.
// Source attribution only matters in debug mode, where AddSource is on.
func (a *appLogger) log(skip int, level slog.Level, msg string, tags ...any) {
	if !a.logger.Enabled(context.Background(), level) {
		return
	}
	if !a.debug {
		a.logger.Log(context.Background(), level, msg, tags...)
		return
	}

	var pcs [1]uintptr
	runtime.Callers(skip, pcs[:])

	record := slog.NewRecord(time.Now(), level, msg, pcs[0])
	record.Add(tags...)
	_ = a.logger.Handler().Handle(context.Background(), record)
}

// With implements Logger.
func (a *appLogger) With(attrs ...any) Logger {
	return &appLogger{
		logger:         a.logger.With(attrs...),
		guardedHandler: a.guardedHandler,
		debug:          a.debug,
	}
}

// WithGroup implements Logger.
func (a *appLogger) WithGroup(name string) Logger {
	return &appLogger{
		logger:         a.logger.WithGroup(name),
		guardedHandler: a.guardedHandler,
		debug:          a.debug,
	}
}

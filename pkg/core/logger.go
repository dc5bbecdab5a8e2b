package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// Logger provides levelled logging for the server and the pool.
// Implementations must be safe for concurrent use by many workers.
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})

	// With returns a logger that adds the given key/value pairs to every record.
	With(args ...interface{}) Logger
}

// slogLogger implements Logger on top of log/slog.
type slogLogger struct {
	l *slog.Logger
}

// NewLogger wraps an slog handler.
func NewLogger(handler slog.Handler) Logger {
	return &slogLogger{l: slog.New(handler)}
}

// NewDefaultLogger logs text records at info level to stderr.
func NewDefaultLogger() Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelInfo,
	}))
}

// NewJSONLogger logs JSON records at info level to stdout.
func NewJSONLogger() Logger {
	return NewLogger(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelInfo,
	}))
}

// NewLoggerFor builds a logger for the given format ("text" or "json") and level name.
func NewLoggerFor(w io.Writer, format, level string) (Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{AddSource: true, Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return NewLogger(slog.NewTextHandler(w, opts)), nil
	case "json":
		return NewLogger(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// NopLogger discards everything. Handy in tests.
func NopLogger() Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a level name to an slog level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

func (l *slogLogger) With(args ...interface{}) Logger {
	return &slogLogger{l: l.l.With(args...)}
}

func (l *slogLogger) Error(args ...interface{}) { l.log(slog.LevelError, fmt.Sprint(args...)) }

func (l *slogLogger) Errorf(format string, args ...interface{}) {
	l.log(slog.LevelError, fmt.Sprintf(format, args...))
}

func (l *slogLogger) Warn(args ...interface{}) { l.log(slog.LevelWarn, fmt.Sprint(args...)) }

func (l *slogLogger) Warnf(format string, args ...interface{}) {
	l.log(slog.LevelWarn, fmt.Sprintf(format, args...))
}

func (l *slogLogger) Info(args ...interface{}) { l.log(slog.LevelInfo, fmt.Sprint(args...)) }

func (l *slogLogger) Infof(format string, args ...interface{}) {
	l.log(slog.LevelInfo, fmt.Sprintf(format, args...))
}

func (l *slogLogger) Debug(args ...interface{}) { l.log(slog.LevelDebug, fmt.Sprint(args...)) }

func (l *slogLogger) Debugf(format string, args ...interface{}) {
	l.log(slog.LevelDebug, fmt.Sprintf(format, args...))
}

// log records the caller of the public method as the source location.
func (l *slogLogger) log(level slog.Level, msg string) {
	ctx := context.Background()
	if !l.l.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	_ = l.l.Handler().Handle(ctx, r)
}

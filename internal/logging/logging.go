package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"workflow-suite/core/internal/reqctx"
)

// Logger is a structured logger backed by logrus. Methods take a message
// followed by alternating key/value pairs.
type Logger struct {
	entry *logrus.Entry
}

// Options configures a Logger.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// NewLogger creates a new Logger writing text to stdout at info level.
func NewLogger() *Logger {
	return New(Options{})
}

// New creates a Logger from opts.
func New(opts Options) *Logger {
	base := logrus.New()
	if opts.Output != nil {
		base.SetOutput(opts.Output)
	} else {
		base.SetOutput(os.Stdout)
	}

	level, err := logrus.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.EqualFold(opts.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{entry: logrus.NewEntry(base)}
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(fields(args))}
}

// WithContext returns a child logger annotated with the correlation id and
// actor found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	f := logrus.Fields{}
	if id := reqctx.CorrelationID(ctx); id != "" {
		f["correlation_id"] = id
	}
	if user := reqctx.UserID(ctx); user != "" {
		f["actor"] = user
	}
	return &Logger{entry: l.entry.WithContext(ctx).WithFields(f)}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Debug(msg)
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Info(msg)
}

// Warn logs a warning.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Warn(msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Error(msg)
}

// Logrus exposes the underlying logger for libraries that accept one.
func (l *Logger) Logrus() *logrus.Logger {
	return l.entry.Logger
}

func fields(args []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 >= len(args) {
			f["!BADKEY"] = key
			break
		}
		f[key] = args[i+1]
	}
	return f
}

// Package obslog provides the service's structured logger: a simple
// Debug/Info/Warning/Error/Critical method set backed by zap.
package obslog

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.Logger, tagged with a component name that is attached
// to every line it writes.
type Logger struct {
	name string
	zap  *zap.Logger
}

// New builds a Logger writing structured JSON in production and console
// output when level is "debug". name identifies the component; callers
// typically create one Logger per subsystem.
func New(level string, name string) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	if level == "" {
		level = "info"
	}
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		zl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(zl)
	cfg.EncoderConfig.MessageKey = "message"
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zl)
	}

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{name: name, zap: base.Named(name)}, nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop(name string) *Logger {
	return &Logger{name: name, zap: zap.NewNop()}
}

// With returns a child Logger tagged with an additional component suffix.
func (l *Logger) With(name string) *Logger {
	return &Logger{name: l.name + "." + name, zap: l.zap.Named(name)}
}

// Debug logs a formatted debug-level message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.zap.Debug(fmt.Sprintf(format, args...))
}

// Info logs a formatted info-level message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.zap.Info(fmt.Sprintf(format, args...))
}

// Warning logs a formatted warn-level message.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.zap.Warn(fmt.Sprintf(format, args...))
}

// Error logs a formatted error-level message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.zap.Error(fmt.Sprintf(format, args...))
}

// Critical logs at error level with a critical=true field, flushes, and
// exits the process with status 1. Reserved for irrecoverable startup
// failures.
func (l *Logger) Critical(format string, args ...interface{}) {
	l.zap.Error(fmt.Sprintf(format, args...), zap.Bool("critical", true))
	_ = l.zap.Sync()
	os.Exit(1)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// Package logger provides logging utilities for the dashboard and its commands.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging functionality.
type Logger struct {
	internal *zap.SugaredLogger
	level    zap.AtomicLevel
}

// NewLogger creates a new logger instance with the specified level.
func NewLogger(level string) *Logger {
	lvl := zap.NewAtomicLevelAt(ParseLevel(level))

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		lvl,
	)

	return &Logger{
		internal: zap.New(core).Sugar(),
		level:    lvl,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{
		internal: zap.NewNop().Sugar(),
		level:    zap.NewAtomicLevelAt(zapcore.FatalLevel),
	}
}

// ParseLevel maps a config level name to a zap level. Unknown names map to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLevel changes the level at runtime.
func (l *Logger) SetLevel(level string) {
	l.level.SetLevel(ParseLevel(level))
}

// Info logs an info level message.
func (l *Logger) Info(msg string, args ...any) {
	l.internal.Infow(msg, args...)
}

// Error logs an error level message.
func (l *Logger) Error(msg string, args ...any) {
	l.internal.Errorw(msg, args...)
}

// Debug logs a debug level message.
func (l *Logger) Debug(msg string, args ...any) {
	l.internal.Debugw(msg, args...)
}

// Warn logs a warning level message.
func (l *Logger) Warn(msg string, args ...any) {
	l.internal.Warnw(msg, args...)
}

// With creates a child logger with the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		internal: l.internal.With(args...),
		level:    l.level,
	}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.internal.Sync()
}

// Package logger provides the process-wide logging facade backed by zap.
package logger

import (
	"errors"
	"os"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines a simple interface for logging.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
}

// Options configures the global logger.
type Options struct {
	Level string
	// File enables rotated file output in addition to stdout when set.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  = newZap(Options{}, level)
	std   Logger = base.Sugar()
)

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return ec
}

func newZap(opts Options, lvl zap.AtomicLevel) *zap.Logger {
	encoder := zapcore.NewConsoleEncoder(encoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), lvl),
	}
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 14),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(rotator), lvl))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(logLevel string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(logLevel)))); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// Init rebuilds the global logger with the given options.
func Init(opts Options) {
	mu.Lock()
	defer mu.Unlock()
	level.SetLevel(parseLevel(opts.Level))
	_ = base.Sync()
	base = newZap(opts, level)
	std = base.Sugar()
}

// SetGlobalLogLevel changes the level of the global logger.
// Unknown levels fall back to "info".
func SetGlobalLogLevel(logLevel string) {
	level.SetLevel(parseLevel(logLevel))
}

// NewLogger returns an independent stdout logger at the given level.
func NewLogger(logLevel string) Logger {
	return newZap(Options{}, zap.NewAtomicLevelAt(parseLevel(logLevel))).Sugar()
}

// Zap exposes the structured logger for components that log with fields.
func Zap() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.WithOptions(zap.AddCallerSkip(-1))
}

// Sync flushes buffered log entries. Terminals and pipes cannot be fsynced;
// those errors are ignored.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	var errs error
	for _, err := range multierr.Errors(base.Sync()) {
		if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
			continue
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

func current() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// Debug logs a debug message using the global logger.
func Debug(args ...interface{}) { current().Debug(args...) }

// Debugf logs a debug message with formatting.
func Debugf(format string, args ...interface{}) { current().Debugf(format, args...) }

// Info logs an informational message using the global logger.
func Info(args ...interface{}) { current().Info(args...) }

// Infof logs an informational message with formatting.
func Infof(format string, args ...interface{}) { current().Infof(format, args...) }

// Warn logs a warning.
func Warn(args ...interface{}) { current().Warn(args...) }

// Warnf logs a warning with formatting.
func Warnf(format string, args ...interface{}) { current().Warnf(format, args...) }

// Error logs an error message.
func Error(args ...interface{}) { current().Error(args...) }

// Errorf logs an error message with formatting.
func Errorf(format string, args ...interface{}) { current().Errorf(format, args...) }

// Fatal logs a fatal error message and exits.
func Fatal(args ...interface{}) { current().Fatal(args...) }

// Fatalf logs a fatal error message with formatting and exits.
func Fatalf(format string, args ...interface{}) { current().Fatalf(format, args...) }

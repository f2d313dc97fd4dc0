package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Logger is a thin key/value wrapper around zap's sugared logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a logger for the given mode ("development" or "production").
func New(mode string) (*Logger, error) {
	var (
		base *zap.Logger
		err  error
	)
	switch strings.ToLower(mode) {
	case "dev", "development", "debug":
		base, err = zap.NewDevelopment()
	default:
		base, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: base.Sugar()}, nil
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// With returns a child logger carrying the extra fields.
func (l *Logger) With(kv ...interface{}) *Logger {
	if l == nil {
		return Nop().With(kv...)
	}
	return &Logger{sugar: l.sugar.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.get().Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.get().Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.get().Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.get().Errorw(msg, kv...) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.sugar.Sync()
}

func (l *Logger) get() *zap.SugaredLogger {
	if l == nil || l.sugar == nil {
		return zap.NewNop().Sugar()
	}
	return l.sugar
}

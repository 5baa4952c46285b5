// Package log provides a zap-backed logger satisfying the runtime's Logger
// and StructuredLogger interfaces.
package log

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a sugared zap logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a logger writing JSON to w at the given level.
func New(w io.Writer, level zapcore.Level) *Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(w),
		level,
	)
	return &Logger{sugar: zap.New(core).Sugar()}
}

// NewDevelopment builds a console logger at debug level.
func NewDevelopment() *Logger {
	logger, _ := zap.NewDevelopment()
	return &Logger{sugar: logger.Sugar()}
}

// NewNop builds a logger that discards everything.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// FromZap wraps an existing zap logger.
func FromZap(logger *zap.Logger) *Logger {
	if logger == nil {
		return NewNop()
	}
	return &Logger{sugar: logger.Sugar()}
}

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Debugw logs a message with key/value pairs at debug level.
func (l *Logger) Debugw(msg string, keyvals ...any) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Debugw(msg, keyvals...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil || l.sugar == nil {
		return nil
	}
	return l.sugar.Sync()
}

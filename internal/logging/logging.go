// Package logging adapts zap to the runnable.Logger interface.
package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agentstation/runnable"
)

// Logger is a runnable.Logger backed by a zap.SugaredLogger.
type Logger struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

var _ runnable.Logger = (*Logger)(nil)

// New builds a zap logger at the given level. Development mode uses the
// console encoder with caller and stack information.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger, nil
}

// Wrap adapts a zap logger. A nil logger yields a no-op logger.
func Wrap(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logger{base: l, sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return Wrap(zap.NewNop())
}

// Debug logs at debug level.
func (l *Logger) Debug(_ context.Context, msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

// Info logs at info level.
func (l *Logger) Info(_ context.Context, msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Error logs at error level.
func (l *Logger) Error(_ context.Context, msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// Zap returns the underlying logger.
func (l *Logger) Zap() *zap.Logger {
	return l.base
}

package amqprecover

import (
	"go.uber.org/zap"
)

// Logger is the structured logging seam every component in this package
// logs through, a thin interface wrapping zap so call sites never depend
// directly on its concrete logger type.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, err error, fields map[string]any)
}

// zapLogger is the Logger implementation backed by a *zap.Logger. It is not
// the default: a Config without WithLogger uses noopLogger.
type zapLogger struct {
	z *zap.Logger
}

// NewZapLogger wraps an existing *zap.Logger as this package's Logger seam.
func NewZapLogger(z *zap.Logger) Logger {
	return &zapLogger{z: z}
}

// NewProductionLogger builds a JSON zap.Logger suitable as a default when the
// caller does not supply its own Logger.
func NewProductionLogger() Logger {
	z, err := zap.NewProduction()
	if err != nil {
		z = zap.NewNop()
	}
	return &zapLogger{z: z}
}

func toFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (l *zapLogger) Debug(msg string, fields map[string]any) {
	l.z.Debug(msg, toFields(fields)...)
}

func (l *zapLogger) Info(msg string, fields map[string]any) {
	l.z.Info(msg, toFields(fields)...)
}

func (l *zapLogger) Warn(msg string, fields map[string]any) {
	l.z.Warn(msg, toFields(fields)...)
}

func (l *zapLogger) Error(msg string, err error, fields map[string]any) {
	f := toFields(fields)
	if err != nil {
		f = append(f, zap.Error(err))
	}
	l.z.Error(msg, f...)
}

// noopLogger discards everything; used by tests that don't care about logs.
type noopLogger struct{}

func (noopLogger) Debug(string, map[string]any)       {}
func (noopLogger) Info(string, map[string]any)        {}
func (noopLogger) Warn(string, map[string]any)        {}
func (noopLogger) Error(string, error, map[string]any) {}

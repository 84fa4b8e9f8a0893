// Package logger wraps zap with the small, stable surface the rest of this
// codebase depends on: level/format configuration, named sub-loggers, and a
// handful of typed field constructors.
package logger

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // "console" or "json"
}

// Logger is a thin wrapper around a zap.Logger.
type Logger struct {
	z *zap.Logger
}

// Field is a structured logging field.
type Field = zap.Field

// New builds a Logger from Config.
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.TimeKey = "ts"

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), level)
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	return &Logger{z: z}, nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// Named returns a child logger with the given name appended.
func (l *Logger) Named(name string) *Logger {
	return &Logger{z: l.z.Named(name)}
}

// With returns a child logger with the given fields attached to every entry.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.z.Sync() }

// Field constructors, mirroring zap's.
func String(k, v string) Field             { return zap.String(k, v) }
func Int(k string, v int) Field            { return zap.Int(k, v) }
func Int64(k string, v int64) Field        { return zap.Int64(k, v) }
func Float64(k string, v float64) Field    { return zap.Float64(k, v) }
func Bool(k string, v bool) Field          { return zap.Bool(k, v) }
func Error(err error) Field                { return zap.Error(err) }
func Any(k string, v any) Field            { return zap.Any(k, v) }
func Duration(k string, v time.Duration) Field { return zap.Duration(k, v) }
func Time(k string, v time.Time) Field     { return zap.Time(k, v) }

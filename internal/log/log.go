// Package log is driftwatch's process-wide logging facade. It keeps a
// single zap SugaredLogger configured from the environment so both
// binaries and every internal package log through one sink.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the shared logger. DRIFTWATCH_LOG_LEVEL picks the level
// (debug, info, warn, error); unset or unrecognized values mean info.
var Logger = build()

func build() *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if raw := os.Getenv("DRIFTWATCH_LOG_LEVEL"); raw != "" {
		if parsed, err := zapcore.ParseLevel(raw); err == nil {
			level = parsed
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableCaller = true
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// The production config cannot fail to build; fall back to a
		// no-op logger rather than crash before main runs.
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

// Sync flushes buffered entries. Both binaries defer it from main.
func Sync() {
	_ = Logger.Sync()
}

// Info logs its arguments at info level.
func Info(args ...any) { Logger.Info(args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { Logger.Infof(format, args...) }

// Warn logs its arguments at warn level.
func Warn(args ...any) { Logger.Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { Logger.Warnf(format, args...) }

// Error logs its arguments at error level.
func Error(args ...any) { Logger.Error(args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { Logger.Errorf(format, args...) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { Logger.Debugf(format, args...) }

// Fatal logs its arguments and exits with status 1.
func Fatal(args ...any) { Logger.Fatal(args...) }

// Fatalf logs a formatted message and exits with status 1.
func Fatalf(format string, args ...any) { Logger.Fatalf(format, args...) }

// Package logger provides process-wide structured logging for the gateway.
//
// Initialize must be called once at process startup (before any other
// package logs) so that later calls to the package-level helpers have a
// configured sink. Every helper is safe for concurrent use.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	sugar  *zap.SugaredLogger
	base   *zap.Logger
	atomic = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Initialize configures the global logger. Level is read from the
// GATEWAY_LOG_LEVEL environment variable (debug, info, warn, error),
// defaulting to info. Output is JSON when GATEWAY_LOG_FORMAT=json,
// otherwise a human-readable console encoder is used.
func Initialize() {
	mu.Lock()
	defer mu.Unlock()

	if lvl, err := zapcore.ParseLevel(os.Getenv("GATEWAY_LOG_LEVEL")); err == nil {
		atomic.SetLevel(lvl)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if os.Getenv("GATEWAY_LOG_FORMAT") == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), atomic)
	base = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	sugar = base.Sugar()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if sugar == nil {
		// Fall back to a sane default so packages that log before
		// Initialize (e.g. in tests) do not panic.
		return zap.NewExample().Sugar()
	}
	return sugar
}

// V reports whether debug-level logging is currently enabled.
func V() bool {
	return atomic.Level().Enabled(zapcore.DebugLevel)
}

// Debug logs at debug level.
func Debug(args ...any) { get().Debug(args...) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { get().Debugf(format, args...) }

// Debugw logs a message with structured key/value pairs at debug level.
func Debugw(msg string, kv ...any) { get().Debugw(msg, kv...) }

// Info logs at info level.
func Info(args ...any) { get().Info(args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { get().Infof(format, args...) }

// Infow logs a message with structured key/value pairs at info level.
func Infow(msg string, kv ...any) { get().Infow(msg, kv...) }

// Warn logs at warn level.
func Warn(args ...any) { get().Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { get().Warnf(format, args...) }

// Warnw logs a message with structured key/value pairs at warn level.
func Warnw(msg string, kv ...any) { get().Warnw(msg, kv...) }

// Error logs at error level.
func Error(args ...any) { get().Error(args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { get().Errorf(format, args...) }

// Errorw logs a message with structured key/value pairs at error level.
func Errorw(msg string, kv ...any) { get().Errorw(msg, kv...) }

// Fatalf logs a formatted message at fatal level then exits the process.
func Fatalf(format string, args ...any) { get().Fatalf(format, args...) }

// Sync flushes any buffered log entries. Call before process exit.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if base == nil {
		return nil
	}
	return base.Sync()
}

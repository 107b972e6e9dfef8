// Package logger provides leveled printf-style logging backed by zap.
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	sugar  = zap.NewNop().Sugar()
	exitFn = os.Exit
)

// ParseLevel maps a level name to a zap level. Unknown names yield info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Init configures the global logger. Format is "json" or "text".
func Init(level, format string) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.ToLower(format) == "text" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), ParseLevel(level))
	Set(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)))
}

// Set replaces the global logger. Tests use it with zaptest/observer cores.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	sugar = l.Sugar()
}

// Sync flushes buffered entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = sugar.Sync()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Debug logs a message at debug level
func Debug(format string, args ...interface{}) { get().Debugf(format, args...) }

// Info logs a message at info level
func Info(format string, args ...interface{}) { get().Infof(format, args...) }

// Warn logs a message at warn level
func Warn(format string, args ...interface{}) { get().Warnf(format, args...) }

// Error logs a message at error level
func Error(format string, args ...interface{}) { get().Errorf(format, args...) }

// Fatal logs a message and exits.
func Fatal(format string, args ...interface{}) {
	l := get()
	l.Errorf(format, args...)
	_ = l.Sync()
	exitFn(1)
}

// Package log is the process-wide structured logger.
//
// Everything goes to stderr: stdout belongs to the hook decision document.
package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the logging verbosity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config holds logger configuration.
type Config struct {
	Level  Level
	Format string // "console" or "json"
	Output io.Writer
}

// DefaultConfig is quiet enough for a hook process: warnings and up.
func DefaultConfig() Config {
	return Config{
		Level:  LevelWarn,
		Format: "console",
	}
}

var (
	globalLogger *zap.SugaredLogger
	globalMutex  sync.RWMutex
)

// Init replaces the global logger.
func Init(cfg Config) {
	logger := build(cfg)

	globalMutex.Lock()
	defer globalMutex.Unlock()
	globalLogger = logger
}

// Get returns the global logger, initializing it with DefaultConfig on first use.
func Get() *zap.SugaredLogger {
	globalMutex.RLock()
	logger := globalLogger
	globalMutex.RUnlock()
	if logger != nil {
		return logger
	}

	fresh := build(DefaultConfig())

	globalMutex.Lock()
	defer globalMutex.Unlock()
	if globalLogger == nil {
		globalLogger = fresh
	}
	return globalLogger
}

// ParseLevel maps a user-supplied string to a Level. Unknown values fall back to warn.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelInfo:
		return LevelInfo
	case LevelError:
		return LevelError
	default:
		return LevelWarn
	}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

func build(cfg Config) *zap.SugaredLogger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var enc zapcore.Encoder
	if cfg.Format == "json" {
		encCfg.TimeKey = "ts"
		encCfg.LevelKey = "level"
		encCfg.MessageKey = "msg"
		encCfg.CallerKey = "caller"
		encCfg.NameKey = "logger"
		encCfg.StacktraceKey = "stacktrace"
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(out), zapLevel(cfg.Level))
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar().Named("aops")
}

// Debug logs a message with key/value pairs at debug level.
func Debug(msg string, kv ...interface{}) {
	Get().Debugw(msg, kv...)
}

// Info logs a message with key/value pairs at info level.
func Info(msg string, kv ...interface{}) {
	Get().Infow(msg, kv...)
}

// Warn logs a message with key/value pairs at warn level.
func Warn(msg string, kv ...interface{}) {
	Get().Warnw(msg, kv...)
}

// Error logs a message with key/value pairs at error level.
func Error(msg string, kv ...interface{}) {
	Get().Errorw(msg, kv...)
}

// Sync flushes buffered entries. Safe to call on exit.
func Sync() {
	_ = Get().Sync() //nolint:errcheck // stderr sync fails on some terminals
}

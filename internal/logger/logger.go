package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log *zap.Logger

// Init initializes the global logger with the level from config.
func Init(level string) {
	var lvl zapcore.Level
	switch level {
	case "debug":
		lvl = zap.DebugLevel
	case "info":
		lvl = zap.InfoLevel
	case "warn":
		lvl = zap.WarnLevel
	case "error":
		lvl = zap.ErrorLevel
	default:
		lvl = zap.InfoLevel
	}

	cfg := zap.Config{
		Encoding:         "json",
		Level:            zap.NewAtomicLevelAt(lvl),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    zap.NewProductionEncoderConfig(),
	}

	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	Log = l
}

// L returns the global logger, falling back to a no-op logger so packages
// can log safely before Init runs (mostly in tests).
func L() *zap.Logger {
	if Log == nil {
		return zap.NewNop()
	}
	return Log
}

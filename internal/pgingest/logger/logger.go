package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.SugaredLogger
)

// LogConfig controls the global logger.
type LogConfig struct {
	Level string
	// File, when non-empty, sends log output to this path instead of stderr.
	// Used in daemon mode where stderr is detached.
	File string
}

// InitLogger initializes the global sugared logger.
func InitLogger(cfg LogConfig) error {
	zcfg := zap.NewProductionConfig()
	switch cfg.Level {
	case "debug":
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info":
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn":
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.File != "" {
		zcfg.OutputPaths = []string{cfg.File}
		zcfg.ErrorOutputPaths = []string{cfg.File}
	}

	z, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	logger = z.Sugar()
	return nil
}

// L returns the global sugared logger.
// If InitLogger has not been called, it initializes at info level.
func L() *zap.SugaredLogger {
	if logger == nil {
		_ = InitLogger(LogConfig{Level: "info"})
	}
	return logger
}

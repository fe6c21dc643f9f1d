package bot

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"discord-guard-bot/internal/config"
)

// NewLogger builds the process logger. Production mode writes JSON; the
// development mode writes colored console lines.
func NewLogger(cfg config.LogConfig, worker string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	if worker != "" {
		logger = logger.With(zap.String("worker", worker))
	}
	return logger, nil
}

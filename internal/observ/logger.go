// Package observ builds the process logger.
package observ

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log entry.
const ServiceName = "contestpulse"

// NewLogger creates a structured logger based on environment. Production
// writes JSON with ISO8601 timestamps; anything else writes coloured console
// output. An unparseable level falls back to info and is reported once.
func NewLogger(env, level string) (*zap.Logger, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapLevel, levelErr := zapcore.ParseLevel(level)
	if levelErr != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.InitialFields = map[string]any{"service": ServiceName}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	if levelErr != nil {
		logger.Warn("unknown log level, using info", zap.String("level", level))
	}

	return logger, nil
}

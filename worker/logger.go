package worker

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func loggerProvider(config Config) (*zap.SugaredLogger, error) {
	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

package cdc

import (
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoLoggerAdapter routes the mongo driver's structured logs to zap
type MongoLoggerAdapter struct {
	*zap.SugaredLogger
}

func (a *MongoLoggerAdapter) Info(level int, msg string, keysAndValues ...interface{}) {
	if level == int(options.LogLevelInfo) {
		a.Infow(msg, keysAndValues...)
		return
	}
	a.Debugw(msg, keysAndValues...)
}

func (a *MongoLoggerAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.Errorw(msg, append(keysAndValues, zap.Error(err))...)
}

var _ options.LogSink = &MongoLoggerAdapter{}

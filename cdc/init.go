package cdc

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Runner is a long-running pipeline controlled by the host process
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Done is closed when the current run exits
	Done() <-chan struct{}
	// Err returns the fatal error which terminated the last run, nil after a clean stop
	Err() error
}

func AttachPipelineHooks(runner Runner, config Config, lifecycle fx.Lifecycle, shutdowner fx.Shutdowner, logger *zap.SugaredLogger) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := runner.Start(ctx); err != nil {
				return err
			}
			done := runner.Done()
			go func() {
				<-done
				err := runner.Err()
				if err == nil {
					return
				}
				logger.Errorw("cdc pipeline terminated", zap.Error(err))
				if !config.ShutdownOnFatal {
					return
				}
				if err := shutdowner.Shutdown(); err != nil {
					logger.Errorw("error shutting down", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return runner.Stop(ctx)
		},
	})
}

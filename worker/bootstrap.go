package worker

import (
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/tidepool-org/cdc-worker/cdc"
	"github.com/tidepool-org/cdc-worker/checkpoint"
	"github.com/tidepool-org/cdc-worker/feed"
	"github.com/tidepool-org/cdc-worker/pipeline"
	"github.com/tidepool-org/cdc-worker/publisher"
)

var dependencies = fx.Provide(
	configProvider,
	loggerProvider,
	cdcConfigProvider,
	metricsRegistryProvider,
	metricsRegistererProvider,
	healthCheckServerProvider,
)

var Modules = []fx.Option{
	dependencies,
	feed.Module,
	publisher.Module,
	checkpoint.Module,
	pipeline.Module,
}

func New() *fx.App {
	invokes := fx.Invoke(
		startPipeline,
		startHealthCheckServer,
	)
	opts := append(Modules, invokes, fx.WithLogger(fxLogger))
	return fx.New(opts...)
}

func fxLogger(logger *zap.SugaredLogger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: logger.Desugar().Named("fx")}
}

type Components struct {
	fx.In

	Runner            cdc.Runner
	CDCConfig         cdc.Config
	HealthCheckServer *http.Server
	Logger            *zap.SugaredLogger
	Lifecycle         fx.Lifecycle
	Shutdowner        fx.Shutdowner
}

func startPipeline(components Components) {
	cdc.AttachPipelineHooks(components.Runner, components.CDCConfig, components.Lifecycle, components.Shutdowner, components.Logger)
}

package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tidepool-org/cdc-worker/cdc"
)

func healthCheckServerProvider(config Config, runner cdc.Runner, registry *prometheus.Registry) *http.Server {
	return &http.Server{
		Addr:    config.HealthCheckAddress,
		Handler: healthCheckHandler(runner, registry),
	}
}

func healthCheckHandler(runner cdc.Runner, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		// The pipeline is unhealthy only after it was terminated by a fatal error
		if runner.Err() != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

func startHealthCheckServer(components Components) {
	components.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				err := components.HealthCheckServer.ListenAndServe()
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					components.Logger.Errorw("http listen and serve error", zap.Error(err))
					_ = components.Shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return components.HealthCheckServer.Shutdown(ctx)
		},
	})
}

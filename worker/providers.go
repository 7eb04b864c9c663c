package worker

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tidepool-org/cdc-worker/cdc"
)

type Config struct {
	LogLevel           string `envconfig:"LOG_LEVEL" default:"info"`
	HealthCheckAddress string `envconfig:"HEALTH_CHECK_ADDRESS" default:":8080"`
}

func configProvider() (Config, error) {
	cfg := Config{}
	err := envconfig.Process("", &cfg)
	return cfg, err
}

func cdcConfigProvider() (cdc.Config, error) {
	return cdc.GetConfig()
}

func metricsRegistryProvider() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func metricsRegistererProvider(registry *prometheus.Registry) prometheus.Registerer {
	return registry
}

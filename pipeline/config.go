package pipeline

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	"github.com/tidepool-org/cdc-worker/cdc"
)

type Config struct {
	// AutoRecover resubscribes from the current point in time after the change stream was invalidated
	AutoRecover bool `envconfig:"CDC_AUTO_RECOVER" default:"true"`

	ReconnectInitialInterval time.Duration `envconfig:"CDC_RECONNECT_INITIAL_INTERVAL" default:"500ms"`
	ReconnectMaxInterval     time.Duration `envconfig:"CDC_RECONNECT_MAX_INTERVAL" default:"30s"`
	// ReconnectMaxElapsed escalates transient faults to fatal after the pipeline was unhealthy for so long, 0 retries forever
	ReconnectMaxElapsed time.Duration `envconfig:"CDC_RECONNECT_MAX_ELAPSED" default:"0"`

	PublishAttempts uint          `envconfig:"CDC_PUBLISH_ATTEMPTS" default:"5"`
	PublishDelay    time.Duration `envconfig:"CDC_PUBLISH_DELAY" default:"500ms"`
	PublishMaxDelay time.Duration `envconfig:"CDC_PUBLISH_MAX_DELAY" default:"30s"`

	ShutdownTimeout time.Duration `envconfig:"CDC_SHUTDOWN_TIMEOUT" default:"10s"`
}

func NewConfig() (Config, error) {
	config := Config{}
	if err := envconfig.Process("", &config); err != nil {
		return config, err
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	if c.ReconnectInitialInterval <= 0 || c.ReconnectMaxInterval < c.ReconnectInitialInterval {
		return errors.New("invalid reconnect intervals")
	}
	if c.PublishAttempts == 0 {
		return errors.New("publish attempts must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	return nil
}

func (c Config) RetryOptions() []cdc.RetryOption {
	return []cdc.RetryOption{
		cdc.WithAttempts(c.PublishAttempts),
		cdc.WithDelay(c.PublishDelay, c.PublishMaxDelay),
	}
}

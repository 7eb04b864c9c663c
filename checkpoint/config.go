package checkpoint

import (
	"fmt"
	"net"
	"strconv"

	"github.com/kelseyhightower/envconfig"
)

const (
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
	BackendPebble = "pebble"
	BackendMemory = "memory"
	BackendNone   = "none"
)

type Config struct {
	Backend    string `envconfig:"CDC_CHECKPOINT_BACKEND" default:"redis"`
	KeyPrefix  string `envconfig:"CDC_CHECKPOINT_KEY_PREFIX" default:"cdc:checkpoint:"`
	Collection string `envconfig:"CDC_CHECKPOINT_COLLECTION" default:"cdc_checkpoints"`
	Dir        string `envconfig:"CDC_CHECKPOINT_DIR" default:"./data/checkpoints"`

	// The redis backend shares the connection settings of the destination stream
	RedisHost     string `envconfig:"ETL_REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"ETL_REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"ETL_REDIS_PASSWORD"`
	RedisDatabase int    `envconfig:"ETL_REDIS_DB" default:"0"`
}

func NewConfig() (Config, error) {
	config := Config{}
	if err := envconfig.Process("", &config); err != nil {
		return config, err
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendRedis, BackendMongo, BackendMemory, BackendNone:
		return nil
	case BackendPebble:
		if c.Dir == "" {
			return fmt.Errorf("checkpoint directory is required for the pebble backend")
		}
		return nil
	default:
		return fmt.Errorf("unsupported checkpoint backend %q", c.Backend)
	}
}

func (c Config) RedisAddress() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

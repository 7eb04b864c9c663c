package cdc

import "github.com/kelseyhightower/envconfig"

type Config struct {
	Enabled         bool `envconfig:"CDC_ENABLED" default:"true"`
	ShutdownOnFatal bool `envconfig:"CDC_SHUTDOWN_ON_FATAL" default:"true"`
}

func GetConfig() (Config, error) {
	config := Config{}
	err := envconfig.Process("", &config)
	return config, err
}

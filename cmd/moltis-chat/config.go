package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zhubby/moltis-sub001/pkg/gateway"
)

// Config is the yaml config file for the CLI. Flags override file values.
type Config struct {
	Gateway struct {
		URL       string `yaml:"url"`
		Reconnect struct {
			InitialMs int     `yaml:"initialMs"`
			Factor    float64 `yaml:"factor"`
			MaxMs     int     `yaml:"maxMs"`
		} `yaml:"reconnect"`
	} `yaml:"gateway"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	cfg.Gateway.URL = "ws://127.0.0.1:18789/ws"
	cfg.Log.Level = "info"
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "reading config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parsing config file")
	}
	return cfg, nil
}

func (c Config) gatewayConfig() gateway.Config {
	return gateway.Config{
		URL:                   c.Gateway.URL,
		InitialReconnectDelay: time.Duration(c.Gateway.Reconnect.InitialMs) * time.Millisecond,
		BackoffFactor:         c.Gateway.Reconnect.Factor,
		MaxReconnectDelay:     time.Duration(c.Gateway.Reconnect.MaxMs) * time.Millisecond,
	}
}

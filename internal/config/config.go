// Package config loads roamd configuration from env and an optional .env
// file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds daemon configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the control API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// MetricsAddr is the Prometheus endpoint address (e.g. :9090).
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	// HealthGRPCAddr is the gRPC health probe address; empty disables it.
	HealthGRPCAddr string `mapstructure:"HEALTH_GRPC_ADDR"`
	// NATSURL is the broker for events and executor channels; empty runs
	// roamd broker-less with loopback executor channels.
	NATSURL string `mapstructure:"NATS_URL"`
	// ResultStorePath is the scratch path for the command result store.
	ResultStorePath string `mapstructure:"RESULT_STORE_PATH"`
	// CommandTimeout is the fixed per-command reply deadline (e.g. "30s").
	CommandTimeout string `mapstructure:"COMMAND_TIMEOUT"`
	// SimBootDelay is how long simulated instances take to reach running.
	SimBootDelay string `mapstructure:"SIM_BOOT_DELAY"`
	// SimTerminateDelay is how long simulated instances take to terminate.
	SimTerminateDelay string `mapstructure:"SIM_TERMINATE_DELAY"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Missing .env is ignored; env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("HEALTH_GRPC_ADDR", "")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("RESULT_STORE_PATH", "./data/results")
	v.SetDefault("COMMAND_TIMEOUT", "30s")
	v.SetDefault("SIM_BOOT_DELAY", "2s")
	v.SetDefault("SIM_TERMINATE_DELAY", "1s")
	v.SetDefault("APP_ENV", "development")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.ResultStorePath == "" {
		return nil, errors.New("config: RESULT_STORE_PATH must be set")
	}
	return &cfg, nil
}

// CommandTimeoutDuration parses CommandTimeout. Returns 30s if unset or invalid.
func (c *Config) CommandTimeoutDuration() time.Duration {
	return parseDuration(c.CommandTimeout, 30*time.Second)
}

// SimBootDelayDuration parses SimBootDelay. Returns 2s if unset or invalid.
func (c *Config) SimBootDelayDuration() time.Duration {
	return parseDuration(c.SimBootDelay, 2*time.Second)
}

// SimTerminateDelayDuration parses SimTerminateDelay. Returns 1s if unset or invalid.
func (c *Config) SimTerminateDelayDuration() time.Duration {
	return parseDuration(c.SimTerminateDelay, time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

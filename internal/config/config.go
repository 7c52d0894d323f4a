// Package config loads configuration from FLOW7_-prefixed environment
// variables, one struct per concern. Validation runs at load time so a
// misconfigured process fails at startup instead of mid-request.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ServerConfig holds all configuration for the server binary.
type ServerConfig struct {
	// HTTPAddr is the listen address of the REST API.
	HTTPAddr string `env:"FLOW7_HTTP_ADDR" envDefault:":8080"`
	// Env selects the runtime profile: dev or prod.
	Env string `env:"FLOW7_ENV" envDefault:"dev"`

	Storage       StorageConfig
	Scheduler     SchedulerConfig
	Dispatch      DispatchConfig
	Observability ObservabilityConfig
}

// Validate checks cross-field constraints.
func (c *ServerConfig) Validate() error {
	if c.Env != "dev" && c.Env != "prod" {
		return fmt.Errorf("unknown FLOW7_ENV: %s", c.Env)
	}
	return c.Storage.Validate()
}

// LoadServerConfig parses and validates server configuration from the
// environment.
func LoadServerConfig() (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse server config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WorkerConfig holds all configuration for the worker binary, which
// runs the dispatch pump without the HTTP surface.
type WorkerConfig struct {
	Storage       StorageConfig
	Scheduler     SchedulerConfig
	Dispatch      DispatchConfig
	Observability ObservabilityConfig
}

// LoadWorkerConfig parses and validates worker configuration from the
// environment.
func LoadWorkerConfig() (*WorkerConfig, error) {
	cfg := &WorkerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse worker config: %w", err)
	}
	if err := cfg.Storage.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

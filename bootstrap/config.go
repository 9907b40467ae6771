package bootstrap

import (
	"fmt"
	"time"

	"github.com/lexfront/connkit/backend"
	"github.com/lexfront/connkit/config"
	"github.com/lexfront/connkit/connection"
	"github.com/lexfront/connkit/observability"
	"github.com/lexfront/connkit/recovery"
	"github.com/lexfront/connkit/resilience"
	"github.com/lexfront/connkit/resolver"
	"github.com/lexfront/connkit/statusapi"
	"github.com/lexfront/connkit/validation"
)

// Config is the full connkit process configuration.
//
//	name: connkitd
//	environment: production
//	connection:
//	  url: wss://realtime.example.com/socket
//	  policy: {max_attempts: 5, base_interval: 1s, multiplier: 2}
//	resolver:
//	  cdn: {base_url: https://cdn.example.com/modules, suffix: .js}
//	backend:
//	  redis: {enabled: true, url: redis://localhost:6379/0}
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Connection connection.Config      `yaml:"connection" mapstructure:"connection"`
	Retry      resilience.RetryPolicy `yaml:"retry" mapstructure:"retry"`
	Resolver   resolver.Config        `yaml:"resolver" mapstructure:"resolver"`
	Recovery   recovery.Config        `yaml:"recovery" mapstructure:"recovery"`
	Backend    backend.Config         `yaml:"backend" mapstructure:"backend"`
	Status     statusapi.Config       `yaml:"status" mapstructure:"status"`
	Telemetry  observability.Config   `yaml:"telemetry" mapstructure:"telemetry"`

	GracefulTimeout time.Duration `yaml:"graceful_timeout" mapstructure:"graceful_timeout" validate:"gte=0"`
}

// ApplyDefaults fills every section's defaults.
func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Connection.ApplyDefaults()
	c.Retry.ApplyDefaults()
	c.Resolver.ApplyDefaults()
	c.Recovery.ApplyDefaults()
	if c.Backend.Redis.Enabled {
		c.Backend.Redis.ApplyDefaults()
	}
	if c.Backend.Postgres.Enabled {
		c.Backend.Postgres.ApplyDefaults()
	}
	c.Status.ApplyDefaults()
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = 15 * time.Second
	}
}

// Validate checks the service fields, the connection URL and every
// `validate` tag.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Connection.Validate(); err != nil {
		return err
	}
	if c.Backend.Postgres.Enabled && c.Backend.Postgres.DSN == "" {
		return fmt.Errorf("config.backend.postgres.dsn is required when postgres is enabled")
	}
	return validation.Validate(c)
}

// Load reads serviceName's configuration through config.LoadConfig, then
// applies defaults and validates it.
func Load(serviceName string, opts ...config.LoaderOption) (*Config, error) {
	var cfg Config
	if err := config.LoadConfig(serviceName, &cfg, opts...); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = serviceName
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

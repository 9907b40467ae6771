package statusapi

import (
	"fmt"
	"time"
)

// Config is the `status` configuration section.
type Config struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"gte=0"`
	// AllowReset exposes POST /recovery/reset.
	AllowReset bool `yaml:"allow_reset" mapstructure:"allow_reset"`
}

// ApplyDefaults sets port 8081 and 10s timeouts.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8081
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

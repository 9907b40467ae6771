package backend

import (
	"time"
)

// Config is the `backend` configuration section.
type Config struct {
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// RedisConfig configures the Redis client.
type RedisConfig struct {
	// Enabled controls whether the Redis factory is registered.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// URL is a redis:// or rediss:// URL. When set it takes precedence
	// over Addr, Password and DB.
	URL      string `yaml:"url" mapstructure:"url"`
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db" validate:"gte=0"`

	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size" validate:"gte=0"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns" validate:"gte=0"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout" validate:"gte=0"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"gte=0"`
}

// ApplyDefaults sets pool and timeout defaults.
func (c *RedisConfig) ApplyDefaults() {
	if c.Addr == "" && c.URL == "" {
		c.Addr = "localhost:6379"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
}

// PostgresConfig configures the Postgres pool.
type PostgresConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// DSN is a postgres:// URL or key=value connection string.
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	MinConns        int32         `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
	MaxConns        int32         `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" mapstructure:"max_conn_lifetime" validate:"gte=0"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout" validate:"gte=0"`
}

// ApplyDefaults sets pool defaults.
func (c *PostgresConfig) ApplyDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
}

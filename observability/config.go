package observability

import "time"

// Config is the `telemetry` configuration section.
type Config struct {
	// Enabled turns on OTLP export. When false the global no-op providers
	// stay in place and instruments record nothing.
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string        `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure   bool          `yaml:"insecure" mapstructure:"insecure"`
	SampleRate float64       `yaml:"sample_rate" mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Interval   time.Duration `yaml:"interval" mapstructure:"interval" validate:"gte=0"`
}

// TracerConfig derives a tracer configuration for service.
func (c Config) TracerConfig(service, version, env string) TracerConfig {
	tc := DefaultTracerConfig(service)
	tc.ServiceVersion, tc.Environment = version, env
	if c.Endpoint != "" {
		tc.Endpoint = c.Endpoint
	}
	tc.Insecure = c.Insecure
	if c.SampleRate > 0 {
		tc.SampleRate = c.SampleRate
	}
	return tc
}

// MeterConfig derives a meter configuration for service.
func (c Config) MeterConfig(service, version, env string) MeterConfig {
	mc := DefaultMeterConfig(service)
	mc.ServiceVersion, mc.Environment = version, env
	if c.Endpoint != "" {
		mc.Endpoint = c.Endpoint
	}
	mc.Insecure = c.Insecure
	if c.Interval > 0 {
		mc.Interval = c.Interval
	}
	return mc
}

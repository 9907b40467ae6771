package connection

import (
	"time"

	"github.com/lexfront/connkit/resilience"
)

// Policy bounds the reconnect behaviour of a Manager.
type Policy struct {
	// MaxAttempts is the number of reconnects tried after a failure before
	// the manager gives up.
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=0"`
	BaseInterval time.Duration `yaml:"base_interval" mapstructure:"base_interval" validate:"gt=0"`
	Multiplier   float64       `yaml:"multiplier" mapstructure:"multiplier" validate:"gte=1"`
	// MaxInterval caps every delay. Zero means uncapped.
	MaxInterval time.Duration `yaml:"max_interval" mapstructure:"max_interval" validate:"gte=0"`
	// DialTimeout bounds each open attempt. Zero leaves it to the transport.
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout" validate:"gte=0"`
}

// DefaultPolicy returns 5 attempts starting at 2s and doubling, capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		BaseInterval: 2 * time.Second,
		Multiplier:   2,
		MaxInterval:  30 * time.Second,
		DialTimeout:  10 * time.Second,
	}
}

// ApplyDefaults fills a zero BaseInterval or Multiplier. MaxAttempts of zero
// is a valid "never reconnect" setting and is left alone.
func (p *Policy) ApplyDefaults() {
	def := DefaultPolicy()
	if p.BaseInterval <= 0 {
		p.BaseInterval = def.BaseInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
}

// Delay returns the wait before reconnect attempt k (k ≥ 1):
// BaseInterval * Multiplier^(k-1), capped by MaxInterval.
func (p Policy) Delay(k int) time.Duration {
	return resilience.Backoff{
		Base:       p.BaseInterval,
		Multiplier: p.Multiplier,
		Max:        p.MaxInterval,
	}.Delay(k - 1)
}

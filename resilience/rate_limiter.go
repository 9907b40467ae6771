package resilience

import (
	"sync"
	"time"
)

// RateLimiterConfig configures a token bucket.
type RateLimiterConfig struct {
	Name string
	// Rate is the number of tokens added per second.
	Rate float64 `yaml:"rate" mapstructure:"rate" validate:"gte=0"`
	// Burst is the bucket capacity.
	Burst int `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
}

// RateLimiter is a non-blocking token bucket.
type RateLimiter struct {
	cfg RateLimiterConfig
	now func() time.Time

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a full bucket. Burst defaults to max(1, Rate).
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.Rate))
	}
	rl := &RateLimiter{cfg: cfg, now: time.Now}
	rl.tokens = float64(cfg.Burst)
	rl.last = rl.now()
	return rl
}

// Allow takes one token if available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}

// Tokens returns the tokens currently available.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

func (rl *RateLimiter) refill() {
	now := rl.now()
	rl.tokens = min(float64(rl.cfg.Burst), rl.tokens+now.Sub(rl.last).Seconds()*rl.cfg.Rate)
	rl.last = now
}

package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes exponential delays: Base * Multiplier^n, capped by Max.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	// Max caps every delay. Zero means uncapped.
	Max time.Duration
	// Jitter spreads each delay by up to ±Jitter of itself (0.0 to 1.0).
	Jitter float64
}

// Delay returns the wait before retry n, counting from 0.
func (b Backoff) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Base) * math.Pow(mult, float64(n))

	if b.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.Jitter
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

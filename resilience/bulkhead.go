package resilience

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"
)

// ErrBulkheadFull is returned when no slot frees up within MaxWait.
var ErrBulkheadFull = stderrors.New("bulkhead is full")

// BulkheadConfig configures a bulkhead.
type BulkheadConfig struct {
	Name          string
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"gte=0"`
	// MaxWait is how long to wait for a slot. Zero fails immediately.
	MaxWait time.Duration `yaml:"max_wait" mapstructure:"max_wait" validate:"gte=0"`
}

// Bulkhead bounds the number of concurrent calls into a dependency.
type Bulkhead struct {
	cfg      BulkheadConfig
	slots    chan struct{}
	rejected atomic.Int64
}

// NewBulkhead creates a bulkhead; MaxConcurrent defaults to 10.
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	return &Bulkhead{cfg: cfg, slots: make(chan struct{}, cfg.MaxConcurrent)}
}

// Do runs fn in a slot.
func (b *Bulkhead) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.acquire(ctx); err != nil {
		b.rejected.Add(1)
		return err
	}
	defer func() { <-b.slots }()
	return fn(ctx)
}

// Within runs fn in a slot of b and returns its result.
func Within[T any](ctx context.Context, b *Bulkhead, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (b *Bulkhead) acquire(ctx context.Context) error {
	select {
	case b.slots <- struct{}{}:
		return nil
	default:
	}
	if b.cfg.MaxWait <= 0 {
		return ErrBulkheadFull
	}

	timer := time.NewTimer(b.cfg.MaxWait)
	defer timer.Stop()
	select {
	case b.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrBulkheadFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InUse returns the number of occupied slots.
func (b *Bulkhead) InUse() int { return len(b.slots) }

// Rejected returns how many calls were turned away.
func (b *Bulkhead) Rejected() int64 { return b.rejected.Load() }

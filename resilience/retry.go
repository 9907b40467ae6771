package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/lexfront/connkit/errors"
)

// ErrMaxRetriesExceeded is matched by every error Retry returns once the
// retry budget is spent.
var ErrMaxRetriesExceeded = stderrors.New("max retries exceeded")

// RetryPolicy configures Retry.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first call.
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0"`
	BaseDelay  time.Duration `yaml:"base_delay" mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay   time.Duration `yaml:"max_delay" mapstructure:"max_delay" validate:"gte=0"`
	Jitter     float64       `yaml:"jitter" mapstructure:"jitter" validate:"gte=0,lte=1"`

	// OnRetry is called before each wait with the 1-based retry number.
	OnRetry func(retry int, err error, delay time.Duration) `yaml:"-" mapstructure:"-"`
}

// DefaultRetryPolicy returns three retries starting at 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   10 * time.Second,
	}
}

// ApplyDefaults fills zero fields from DefaultRetryPolicy.
func (p *RetryPolicy) ApplyDefaults() {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy().BaseDelay
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
}

// Backoff returns the doubling backoff law of the policy.
func (p RetryPolicy) Backoff() Backoff {
	return Backoff{Base: p.BaseDelay, Multiplier: 2, Max: p.MaxDelay, Jitter: p.Jitter}
}

// ExhaustedError reports a spent retry budget. It unwraps to both
// ErrMaxRetriesExceeded and the last failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retries exceeded after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrMaxRetriesExceeded, e.Last}
}

// AppError renders the exhaustion as a MAX_RETRIES_EXCEEDED AppError.
func (e *ExhaustedError) AppError() *errors.AppError {
	return errors.MaxRetriesExceeded(e.Attempts, e.Last)
}

// Retry calls fn until it succeeds or MaxRetries+1 calls have failed,
// waiting BaseDelay*2^attempt between calls. Cancelling ctx aborts the wait
// and returns ctx.Err().
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	backoff := p.Backoff()

	var last error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff.Delay(attempt - 1)
			if p.OnRetry != nil {
				p.OnRetry(attempt, last, delay)
			}
			if err := wait(ctx, delay); err != nil {
				return zero, err
			}
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		last = err
	}
	return zero, &ExhaustedError{Attempts: p.MaxRetries + 1, Last: last}
}

// RetryFunc is Retry for calls without a result.
func RetryFunc(ctx context.Context, p RetryPolicy, fn func(context.Context) error) error {
	_, err := Retry(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

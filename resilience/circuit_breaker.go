package resilience

import (
	stderrors "errors"
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	// BreakerClosed lets every call through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects every call until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen lets a limited number of probe calls through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Execute while the breaker rejects calls.
var ErrCircuitOpen = stderrors.New("circuit breaker is open")

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	Name string
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"gte=0"`
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown" validate:"gte=0"`
	// HalfOpenProbes successful probes close the breaker again.
	HalfOpenProbes int `yaml:"half_open_probes" mapstructure:"half_open_probes" validate:"gte=0"`

	OnStateChange func(name string, from, to BreakerState) `yaml:"-" mapstructure:"-"`
}

// DefaultCircuitBreakerConfig opens after 5 failures and probes after 30s.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenProbes:   1,
	}
}

// CircuitBreaker fails fast on a dependency that keeps failing.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	inFlight  int // probes admitted while half-open
	successes int // probes succeeded while half-open
	openedAt  time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = def.HalfOpenProbes
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Allow reports whether a call may proceed. A true result while half-open
// consumes one probe slot and must be followed by Record.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	notify := cb.advance()
	allowed := false
	switch cb.state {
	case BreakerClosed:
		allowed = true
	case BreakerHalfOpen:
		if cb.inFlight < cb.cfg.HalfOpenProbes {
			cb.inFlight++
			allowed = true
		}
	}
	cb.mu.Unlock()
	notify()
	return allowed
}

// Record reports the outcome of an allowed call.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	var notify func()
	if err == nil {
		notify = cb.onSuccess()
	} else {
		notify = cb.onFailure()
	}
	cb.mu.Unlock()
	notify()
}

// Execute runs fn through the breaker, returning ErrCircuitOpen when rejected.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.Record(err)
	return err
}

// State returns the current state, applying an elapsed cooldown.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	notify := cb.advance()
	s := cb.state
	cb.mu.Unlock()
	notify()
	return s
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	notify := cb.transition(BreakerClosed)
	cb.failures = 0
	cb.mu.Unlock()
	notify()
}

func (cb *CircuitBreaker) onSuccess() func() {
	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenProbes {
			return cb.transition(BreakerClosed)
		}
	}
	return noop
}

func (cb *CircuitBreaker) onFailure() func() {
	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			return cb.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		return cb.transition(BreakerOpen)
	}
	return noop
}

// advance moves an open breaker to half-open once the cooldown has elapsed.
func (cb *CircuitBreaker) advance() func() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.Cooldown {
		return cb.transition(BreakerHalfOpen)
	}
	return noop
}

// transition must run under mu; the returned func fires OnStateChange and
// must run after mu is released.
func (cb *CircuitBreaker) transition(to BreakerState) func() {
	from := cb.state
	if from == to {
		return noop
	}
	cb.state = to
	cb.inFlight, cb.successes = 0, 0
	switch to {
	case BreakerClosed:
		cb.failures = 0
	case BreakerOpen:
		cb.openedAt = cb.now()
	}
	if cb.cfg.OnStateChange == nil {
		return noop
	}
	name, hook := cb.cfg.Name, cb.cfg.OnStateChange
	return func() { hook(name, from, to) }
}

func noop() {}

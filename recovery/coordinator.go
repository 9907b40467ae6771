package recovery

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexfront/connkit/component"
	"github.com/lexfront/connkit/errors"
	"github.com/lexfront/connkit/hooks"
	"github.com/lexfront/connkit/logger"
	"github.com/lexfront/connkit/resilience"
)

// Config is the `recovery` configuration section.
type Config struct {
	// DebounceWindow coalesces a burst of errors in one scope into one
	// incident. Each qualifying error restarts the window.
	DebounceWindow time.Duration `yaml:"debounce_window" mapstructure:"debounce_window" validate:"gte=0"`
	// EscalationThreshold is the number of narrow remedies a scope gets
	// before the broad remedy runs.
	EscalationThreshold int `yaml:"escalation_threshold" mapstructure:"escalation_threshold" validate:"gte=0"`
	// RemedyTimeout bounds each remedy call.
	RemedyTimeout time.Duration `yaml:"remedy_timeout" mapstructure:"remedy_timeout" validate:"gte=0"`
	// BroadLimit caps how often the broad remedy may run.
	BroadLimit resilience.RateLimiterConfig `yaml:"broad_limit" mapstructure:"broad_limit"`
}

// ApplyDefaults fills zero values: 1s window, threshold 3, 30s remedy
// timeout, one broad reset per minute with a burst of 1.
func (c *Config) ApplyDefaults() {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = time.Second
	}
	if c.EscalationThreshold <= 0 {
		c.EscalationThreshold = 3
	}
	if c.RemedyTimeout <= 0 {
		c.RemedyTimeout = 30 * time.Second
	}
	if c.BroadLimit.Rate <= 0 {
		c.BroadLimit.Rate = 1.0 / 60
	}
	if c.BroadLimit.Burst <= 0 {
		c.BroadLimit.Burst = 1
	}
	if c.BroadLimit.Name == "" {
		c.BroadLimit.Name = "broad-reset"
	}
}

// Incident is one debounced burst of transient errors in a scope.
type Incident struct {
	ID    string    `json:"id"`
	Scope string    `json:"scope"`
	Count int       `json:"count"`
	Broad bool      `json:"broad"`
	Burst int       `json:"burst"`
	Last  error     `json:"-"`
	// First is when the burst's first error was observed.
	First time.Time `json:"first"`
	At    time.Time `json:"at"`
}

// Remedy attempts to recover from an incident.
type Remedy func(ctx context.Context, inc Incident) error

// EventType discriminates Event.
type EventType string

const (
	EventClassified      EventType = "classified"
	EventIncident        EventType = "incident"
	EventRemedyApplied   EventType = "remedy_applied"
	EventRemedyFailed    EventType = "remedy_failed"
	EventBroadSuppressed EventType = "broad_suppressed"
	EventUnremedied      EventType = "unremedied"
	EventRecovered       EventType = "recovered"
	EventHardReset       EventType = "hard_reset"
)

// Event reports a coordinator decision.
type Event struct {
	Type     EventType
	Class    Class
	Scope    string
	Err      error
	Incident *Incident
}

type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func realAfterFunc(d time.Duration, f func()) timer { return time.AfterFunc(d, f) }

type scopeState struct {
	counter int
	seq     uint64
	timer   timer
	burst   int
	first   time.Time
	last    error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClassifier replaces DefaultClassifier.
func WithClassifier(c Classifier) Option {
	return func(co *Coordinator) { co.classifier = c }
}

// WithLogger sets the coordinator's logger.
func WithLogger(l *logger.Logger) Option {
	return func(co *Coordinator) { co.log = l }
}

// WithNarrow sets the narrow remedy for scope.
func WithNarrow(scope string, r Remedy) Option {
	return func(co *Coordinator) { co.narrow[scope] = r }
}

// WithBroad sets the broad remedy.
func WithBroad(r Remedy) Option {
	return func(co *Coordinator) { co.broad = r }
}

// Coordinator classifies errors and drives recovery.
type Coordinator struct {
	cfg        Config
	classifier Classifier
	narrow     map[string]Remedy
	broad      Remedy
	limiter    *resilience.RateLimiter
	log        *logger.Logger
	hub        hooks.Hub[Event]
	after      afterFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	scopes  map[string]*scopeState
	stopped bool
}

// New creates a Coordinator.
func New(cfg Config, opts ...Option) *Coordinator {
	cfg.ApplyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:        cfg,
		classifier: DefaultClassifier(),
		narrow:     make(map[string]Remedy),
		limiter:    resilience.NewRateLimiter(cfg.BroadLimit),
		after:      realAfterFunc,
		ctx:        ctx,
		cancel:     cancel,
		scopes:     make(map[string]*scopeState),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.OrDefault(c.log, "recovery")
	return c
}

// SetNarrow sets the narrow remedy for scope after construction.
func (c *Coordinator) SetNarrow(scope string, r Remedy) {
	c.mu.Lock()
	c.narrow[scope] = r
	c.mu.Unlock()
}

// SetBroad sets the broad remedy after construction.
func (c *Coordinator) SetBroad(r Remedy) {
	c.mu.Lock()
	c.broad = r
	c.mu.Unlock()
}

// Subscribe registers fn for coordinator events.
func (c *Coordinator) Subscribe(fn func(Event)) func() {
	return c.hub.Subscribe(fn)
}

// Observe classifies err and schedules recovery for transient errors.
func (c *Coordinator) Observe(err error) Class {
	cl := c.classifier.Classify(err)
	if cl.Class == ClassNone {
		return ClassNone
	}
	if cl.Scope == "" {
		cl.Scope = ScopeDefault
	}

	fields := logger.MergeWithError(logger.Fields(logger.FieldClass, cl.Class.String(), logger.FieldScope, cl.Scope), err)
	switch cl.Class {
	case ClassTransient:
		c.log.Debug("transient error observed", fields)
		c.debounce(cl.Scope, err)
	case ClassConfiguration:
		c.log.Error("configuration issue, not remedied", fields)
	default:
		c.log.Error("fatal error, not remedied", fields)
	}
	c.hub.Publish(Event{Type: EventClassified, Class: cl.Class, Scope: cl.Scope, Err: err})
	return cl.Class
}

func (c *Coordinator) debounce(scope string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	st := c.scopeLocked(scope)
	if st.timer != nil {
		st.timer.Stop()
	}
	if st.burst == 0 {
		st.first = time.Now()
	}
	st.seq++
	st.burst++
	st.last = err
	seq := st.seq
	st.timer = c.after(c.cfg.DebounceWindow, func() { c.fire(scope, seq) })
}

func (c *Coordinator) scopeLocked(scope string) *scopeState {
	st, ok := c.scopes[scope]
	if !ok {
		st = &scopeState{}
		c.scopes[scope] = st
	}
	return st
}

// fire runs when a scope's debounce window closes.
func (c *Coordinator) fire(scope string, seq uint64) {
	c.mu.Lock()
	st := c.scopes[scope]
	if c.stopped || st == nil || st.seq != seq || st.timer == nil {
		c.mu.Unlock()
		return
	}
	st.timer = nil
	st.counter++
	inc := Incident{
		ID:    uuid.NewString(),
		Scope: scope,
		Count: st.counter,
		Burst: st.burst,
		Last:  st.last,
		First: st.first,
		At:    time.Now(),
	}
	st.burst = 0
	st.last = nil
	if st.counter > c.cfg.EscalationThreshold {
		inc.Broad = true
		st.counter = 0
	}
	remedy := c.narrow[scope]
	if inc.Broad {
		remedy = c.broad
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	c.log.Warn("recovery incident", logger.Fields(
		logger.FieldIncident, inc.ID, logger.FieldScope, scope, logger.FieldCount, inc.Count,
		"broad", inc.Broad, "burst", inc.Burst))
	c.hub.Publish(Event{Type: EventIncident, Class: ClassTransient, Scope: scope, Incident: &inc})

	if inc.Broad && !c.limiter.Allow() {
		c.log.Warn("broad reset suppressed by rate limit", logger.Fields(logger.FieldIncident, inc.ID))
		c.hub.Publish(Event{Type: EventBroadSuppressed, Class: ClassTransient, Scope: scope, Incident: &inc})
		return
	}
	c.apply(scope, remedy, &inc)
}

func (c *Coordinator) apply(scope string, remedy Remedy, inc *Incident) {
	if remedy == nil {
		c.log.Warn("no remedy for scope", logger.Fields(logger.FieldScope, scope, logger.FieldIncident, inc.ID))
		c.hub.Publish(Event{Type: EventUnremedied, Class: ClassTransient, Scope: scope, Incident: inc})
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.RemedyTimeout)
	defer cancel()
	err := runRemedy(ctx, remedy, *inc)

	fields := logger.Fields(logger.FieldIncident, inc.ID, logger.FieldScope, scope, "broad", inc.Broad)
	if err != nil {
		c.log.Error("remedy failed", logger.MergeWithError(fields, err))
		c.hub.Publish(Event{Type: EventRemedyFailed, Class: ClassTransient, Scope: scope, Err: err, Incident: inc})
		return
	}
	c.log.Info("remedy applied", fields)
	c.hub.Publish(Event{Type: EventRemedyApplied, Class: ClassTransient, Scope: scope, Incident: inc})
}

func runRemedy(ctx context.Context, r Remedy, inc Incident) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Internal(fmt.Errorf("remedy panicked: %v", p))
		}
	}()
	return r(ctx, inc)
}

// MarkRecovered resets the incident counter of scope after a successful
// recovery.
func (c *Coordinator) MarkRecovered(scope string) {
	c.mu.Lock()
	st, ok := c.scopes[scope]
	had := ok && st.counter > 0
	if ok {
		st.counter = 0
	}
	c.mu.Unlock()

	if had {
		c.log.Info("scope recovered", logger.Fields(logger.FieldScope, scope))
		c.hub.Publish(Event{Type: EventRecovered, Scope: scope})
	}
}

// HardReset runs the broad remedy now, bypassing the rate limit, and
// clears every counter and pending window.
func (c *Coordinator) HardReset(ctx context.Context) error {
	c.mu.Lock()
	for _, st := range c.scopes {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.seq++
		st.counter = 0
		st.burst = 0
		st.last = nil
	}
	broad := c.broad
	c.mu.Unlock()

	inc := Incident{ID: uuid.NewString(), Scope: "operator", Broad: true, At: time.Now()}
	c.log.Warn("hard reset requested", logger.Fields(logger.FieldIncident, inc.ID))
	c.hub.Publish(Event{Type: EventHardReset, Incident: &inc})
	if broad == nil {
		return nil
	}
	return runRemedy(ctx, broad, inc)
}

// Counter returns the current incident count for scope.
func (c *Coordinator) Counter(scope string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.scopes[scope]; ok {
		return st.counter
	}
	return 0
}

// Counters returns a copy of every scope's incident count.
func (c *Coordinator) Counters() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.scopes))
	for k, st := range c.scopes {
		out[k] = st.counter
	}
	return out
}

// Guard runs fn and observes a panic instead of crashing the process.
func (c *Coordinator) Guard(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			c.log.Error("recovered panic", logger.Fields("panic", fmt.Sprint(p), "stack", string(debug.Stack())))
			c.Observe(errors.Internal(fmt.Errorf("panic: %v", p)))
		}
	}()
	fn()
}

// Go runs fn on a new goroutine. A returned error or a panic is observed.
// fn's context is also cancelled by Stop.
func (c *Coordinator) Go(ctx context.Context, fn func(ctx context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(c.ctx, cancel)
		defer stop()
		c.Guard(func() {
			if err := fn(ctx); err != nil {
				c.Observe(err)
			}
		})
	}()
}

// Watch observes every error received on errs until ctx ends or errs is
// closed.
func (c *Coordinator) Watch(ctx context.Context, errs <-chan error) {
	c.Go(ctx, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case err, ok := <-errs:
				if !ok {
					return nil
				}
				c.Observe(err)
			}
		}
	})
}

// --- component.Component ---

// Name implements component.Component.
func (c *Coordinator) Name() string { return "recovery" }

// Start implements component.Component.
func (c *Coordinator) Start(context.Context) error { return nil }

// Stop cancels pending windows and running remedies and waits for them.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	for _, st := range c.scopes {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
	}
	c.mu.Unlock()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health reports degraded while any scope has an unrecovered incident.
func (c *Coordinator) Health(context.Context) component.Health {
	h := component.Health{Name: c.Name(), Status: component.StatusHealthy}
	for scope, n := range c.Counters() {
		if n > 0 {
			h.Status = component.StatusDegraded
			h.Message = fmt.Sprintf("scope %s has %d open incidents", scope, n)
			break
		}
	}
	return h
}

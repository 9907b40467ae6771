package resolver

import (
	"context"
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lexfront/connkit/component"
	"github.com/lexfront/connkit/errors"
	"github.com/lexfront/connkit/hooks"
	"github.com/lexfront/connkit/logger"
	"github.com/lexfront/connkit/resilience"
)

// Config is the `resolver` configuration section.
type Config struct {
	// TierTimeout bounds a tier without its own Timeout.
	TierTimeout time.Duration                   `yaml:"tier_timeout" mapstructure:"tier_timeout" validate:"gte=0"`
	Breaker     resilience.CircuitBreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	CDN         HTTPTierConfig                  `yaml:"cdn" mapstructure:"cdn"`
	Mirror      FileTierConfig                  `yaml:"mirror" mapstructure:"mirror"`
}

// ApplyDefaults sets a 5s tier timeout.
func (c *Config) ApplyDefaults() {
	if c.TierTimeout <= 0 {
		c.TierTimeout = 5 * time.Second
	}
}

// Attempt is the outcome of one tier during a resolution.
type Attempt struct {
	Tier    string `json:"tier"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Resolution records which tier served an id.
type Resolution struct {
	ID       string        `json:"id"`
	Source   string        `json:"source"`
	Stub     bool          `json:"stub"`
	Attempts []Attempt     `json:"attempts"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTiers sets the chain used when Resolve is called without tiers.
func WithTiers(tiers ...Tier) Option {
	return func(r *Resolver) { r.defaults = tiers }
}

// WithLogger sets the resolver's logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// Resolver memoizes module resolution by id.
type Resolver struct {
	cfg      Config
	defaults []Tier
	log      *logger.Logger
	group    singleflight.Group
	bypass   atomic.Bool
	hub      hooks.Hub[Resolution]

	mu       sync.RWMutex
	cache    map[string]Module
	records  map[string]Resolution
	breakers map[string]*resilience.CircuitBreaker
}

// New creates a Resolver.
func New(cfg Config, opts ...Option) *Resolver {
	cfg.ApplyDefaults()
	r := &Resolver{
		cfg:      cfg,
		cache:    make(map[string]Module),
		records:  make(map[string]Resolution),
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.OrDefault(r.log, "resolver")
	return r
}

// OnResolved registers fn for every completed resolution.
func (r *Resolver) OnResolved(fn func(Resolution)) func() {
	return r.hub.Subscribe(fn)
}

// SetBypassPrimary makes later resolutions skip Primary tiers. Cached ids
// are unaffected.
func (r *Resolver) SetBypassPrimary(on bool) {
	if r.bypass.Swap(on) != on {
		r.log.Info("primary tier bypass changed", logger.Fields("bypass", on))
	}
}

// BypassPrimary reports the routing flag.
func (r *Resolver) BypassPrimary() bool { return r.bypass.Load() }

// Resolve returns the module for id, trying tiers in order and falling
// back to a stub. It never fails. An empty tiers uses the default chain.
//
// The first completed result is cached permanently. A caller whose ctx ends
// while the shared load is running receives an uncached stub.
func (r *Resolver) Resolve(ctx context.Context, id string, tiers ...Tier) Module {
	if m, ok := r.cached(id); ok {
		return m
	}
	if len(tiers) == 0 {
		tiers = r.defaults
	}

	ch := r.group.DoChan(id, func() (any, error) {
		return r.load(context.WithoutCancel(ctx), id, tiers), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Module)
	case <-ctx.Done():
		r.log.Warn("resolve abandoned by caller", logger.Fields(logger.FieldModuleID, id, logger.FieldError, ctx.Err().Error()))
		return NewStub(id)
	}
}

// Resolutions returns a snapshot of every resolution, ordered by id.
func (r *Resolver) Resolutions() []Resolution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Resolution, 0, len(r.records))
	for _, id := range slices.Sorted(maps.Keys(r.records)) {
		out = append(out, r.records[id])
	}
	return out
}

// Breaker returns the circuit breaker guarding tier name.
func (r *Resolver) Breaker(name string) *resilience.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	if !ok {
		cfg := r.cfg.Breaker
		cfg.Name = name
		cfg.OnStateChange = func(name string, from, to resilience.BreakerState) {
			r.log.Info("tier breaker changed", logger.Fields(logger.FieldTier, name, logger.FieldFrom, from.String(), logger.FieldTo, to.String()))
		}
		cb = resilience.NewCircuitBreaker(cfg)
		r.breakers[name] = cb
	}
	return cb
}

func (r *Resolver) cached(id string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.cache[id]
	return m, ok
}

func (r *Resolver) load(ctx context.Context, id string, tiers []Tier) Module {
	if m, ok := r.cached(id); ok {
		return m
	}

	start := time.Now()
	rec := Resolution{ID: id, At: start}
	var mod Module

	for _, t := range tiers {
		if t.Primary && r.bypass.Load() {
			rec.Attempts = append(rec.Attempts, Attempt{Tier: t.Name, Skipped: true, Error: "primary bypassed"})
			continue
		}
		cb := r.Breaker(t.Name)
		if !cb.Allow() {
			rec.Attempts = append(rec.Attempts, Attempt{Tier: t.Name, Skipped: true, Error: resilience.ErrCircuitOpen.Error()})
			continue
		}

		m, err := r.runTier(ctx, t, id)
		if stderrors.Is(err, ErrNotFound) {
			// a miss is a healthy answer
			cb.Record(nil)
		} else {
			cb.Record(err)
		}
		if err != nil {
			tierErr := errors.LoaderTierError(t.Name, id, err)
			rec.Attempts = append(rec.Attempts, Attempt{Tier: t.Name, Error: err.Error()})
			r.log.Warn("tier failed", logger.MergeWithError(logger.Fields(logger.FieldModuleID, id, logger.FieldTier, t.Name), tierErr))
			continue
		}
		rec.Attempts = append(rec.Attempts, Attempt{Tier: t.Name})
		mod = m
		break
	}

	if mod == nil {
		mod = NewStub(id)
		r.log.Warn("all tiers failed, using stub", logger.Fields(logger.FieldModuleID, id, logger.FieldCount, len(tiers)))
	} else {
		r.log.Debug("module resolved", logger.Fields(logger.FieldModuleID, id, logger.FieldSource, mod.Source()))
	}
	rec.Source = mod.Source()
	rec.Stub = mod.IsStub()
	rec.Duration = time.Since(start)

	r.mu.Lock()
	r.cache[id] = mod
	r.records[id] = rec
	r.mu.Unlock()

	r.hub.Publish(rec)
	return mod
}

type tierResult struct {
	mod Module
	err error
}

// runTier runs t.Load under its timeout. A loader that ignores ctx is
// abandoned when the timeout fires; a panic becomes an error.
func (r *Resolver) runTier(parent context.Context, t Tier, id string) (Module, error) {
	if t.Load == nil {
		return nil, fmt.Errorf("tier %s has no loader", t.Name)
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = r.cfg.TierTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan tierResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- tierResult{err: fmt.Errorf("tier panicked: %v", p)}
			}
		}()
		m, err := t.Load(ctx, id)
		if err == nil && m == nil {
			err = ErrNotFound
		}
		done <- tierResult{mod: m, err: err}
	}()

	select {
	case res := <-done:
		return res.mod, res.err
	case <-ctx.Done():
		return nil, errors.Timeout("load " + t.Name).WithCause(ctx.Err())
	}
}

// --- component.Component ---

// Name implements component.Component.
func (r *Resolver) Name() string { return "resolver" }

// Start implements component.Component.
func (r *Resolver) Start(context.Context) error { return nil }

// Stop implements component.Component.
func (r *Resolver) Stop(context.Context) error { return nil }

// Health reports degraded while any id is served by a stub.
func (r *Resolver) Health(context.Context) component.Health {
	h := component.Health{Name: r.Name(), Status: component.StatusHealthy}
	var stubs []string
	for _, rec := range r.Resolutions() {
		if rec.Stub {
			stubs = append(stubs, rec.ID)
		}
	}
	if len(stubs) > 0 {
		h.Status = component.StatusDegraded
		h.Message = fmt.Sprintf("stubbed: %v", stubs)
	}
	return h
}

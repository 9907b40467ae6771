package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lexfront/connkit/component"
	"github.com/lexfront/connkit/errors"
	"github.com/lexfront/connkit/hooks"
	"github.com/lexfront/connkit/logger"
	"github.com/lexfront/connkit/resilience"
)

// ErrReset is the cause reported to callers whose construction finished
// after the key was reset.
var ErrReset = stderrors.New("client: key was reset during construction")

// Factory constructs one client.
type Factory func(ctx context.Context) (any, error)

// WithRetry wraps factory so transient failures are retried under p.
func WithRetry(p resilience.RetryPolicy, factory Factory) Factory {
	return func(ctx context.Context) (any, error) {
		return resilience.Retry(ctx, p, func(ctx context.Context) (any, error) {
			return factory(ctx)
		})
	}
}

// EventType discriminates Event.
type EventType string

const (
	EventCreated EventType = "created"
	EventFailed  EventType = "failed"
	EventReset   EventType = "reset"
)

// Event reports a registry change for one key.
type Event struct {
	Type     EventType
	Key      string
	Err      error
	Duration time.Duration
}

// Status is the diagnostic view of one key.
type Status struct {
	Key       string    `json:"key"`
	Ready     bool      `json:"ready"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

type entry struct {
	value     any
	createdAt time.Time
}

// Registry is a keyed set of singleton clients.
type Registry struct {
	log   *logger.Logger
	group singleflight.Group
	hub   hooks.Hub[Event]

	mu        sync.RWMutex
	instances map[string]entry
	factories map[string]Factory
	gens      map[string]uint64
	lastErr   map[string]error
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		log:       logger.OrDefault(log, "clients"),
		instances: make(map[string]entry),
		factories: make(map[string]Factory),
		gens:      make(map[string]uint64),
		lastErr:   make(map[string]error),
	}
}

// Subscribe registers fn for registry events.
func (r *Registry) Subscribe(fn func(Event)) func() {
	return r.hub.Subscribe(fn)
}

// Register names the factory used by Client for key.
func (r *Registry) Register(key string, factory Factory) {
	r.mu.Lock()
	r.factories[key] = factory
	r.mu.Unlock()
}

// Client returns the instance for key using its registered factory.
func (r *Registry) Client(ctx context.Context, key string) (any, error) {
	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.ClientConstructionFailed(key, fmt.Errorf("no factory registered for %q", key))
	}
	return r.GetOrCreate(ctx, key, factory)
}

// GetOrCreate returns the instance for key, constructing it with factory
// when none exists. Concurrent callers share one construction. A failure
// is returned as CLIENT_CONSTRUCTION_FAILED and not cached.
//
// At most one factory runs per key. A caller arriving after a Reset waits
// for the discarded construction to finish and then starts a fresh one.
func (r *Registry) GetOrCreate(ctx context.Context, key string, factory Factory) (any, error) {
	for {
		if v, ok := r.Get(key); ok {
			return v, nil
		}
		gen := r.gen(key)
		ch := r.group.DoChan(key, func() (any, error) {
			return r.construct(context.WithoutCancel(ctx), key, factory)
		})
		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		// joined a flight that a Reset before this call discarded
		if stderrors.Is(res.Err, ErrReset) && r.gen(key) == gen {
			continue
		}
		return res.Val, res.Err
	}
}

func (r *Registry) gen(key string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gens[key]
}

// GetOrCreateAs is GetOrCreate with a typed factory and result.
func GetOrCreateAs[T any](ctx context.Context, r *Registry, key string, factory func(context.Context) (T, error)) (T, error) {
	v, err := r.GetOrCreate(ctx, key, func(ctx context.Context) (any, error) {
		return factory(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, errors.ClientConstructionFailed(key, fmt.Errorf("registered instance is %T, not %T", v, zero))
	}
	return t, nil
}

func (r *Registry) construct(ctx context.Context, key string, factory Factory) (any, error) {
	r.mu.RLock()
	if e, ok := r.instances[key]; ok {
		r.mu.RUnlock()
		return e.value, nil
	}
	gen := r.gens[key]
	r.mu.RUnlock()

	start := time.Now()
	v, err := callFactory(ctx, factory)
	elapsed := time.Since(start)

	if err != nil {
		appErr := errors.ClientConstructionFailed(key, err)
		r.mu.Lock()
		r.lastErr[key] = appErr
		r.mu.Unlock()
		r.log.Warn("client construction failed", logger.MergeWithError(logger.Fields(logger.FieldClientKey, key), err))
		r.hub.Publish(Event{Type: EventFailed, Key: key, Err: appErr, Duration: elapsed})
		return nil, appErr
	}

	r.mu.Lock()
	if r.gens[key] != gen {
		r.mu.Unlock()
		closeInstance(v)
		return nil, errors.ClientConstructionFailed(key, ErrReset)
	}
	r.instances[key] = entry{value: v, createdAt: time.Now()}
	delete(r.lastErr, key)
	r.mu.Unlock()

	r.log.Info("client constructed", logger.Fields(logger.FieldClientKey, key, logger.FieldDuration, elapsed.Milliseconds()))
	r.hub.Publish(Event{Type: EventCreated, Key: key, Duration: elapsed})
	return v, nil
}

func callFactory(ctx context.Context, factory Factory) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("factory panicked: %v", p)
		}
	}()
	v, err = factory(ctx)
	if err == nil && v == nil {
		err = stderrors.New("factory returned nil")
	}
	return v, err
}

// Get returns the constructed instance for key, if any.
func (r *Registry) Get(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.instances[key]
	return e.value, ok
}

// Keys returns every key with a constructed instance, a registered factory
// or a recorded failure, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make(map[string]struct{}, len(r.instances)+len(r.factories))
	for k := range r.instances {
		keys[k] = struct{}{}
	}
	for k := range r.factories {
		keys[k] = struct{}{}
	}
	for k := range r.lastErr {
		keys[k] = struct{}{}
	}
	return slices.Sorted(maps.Keys(keys))
}

// Statuses reports every key.
func (r *Registry) Statuses() []Status {
	keys := r.Keys()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(keys))
	for _, k := range keys {
		s := Status{Key: k}
		if e, ok := r.instances[k]; ok {
			s.Ready = true
			s.CreatedAt = e.createdAt
		}
		if err := r.lastErr[k]; err != nil {
			s.LastError = err.Error()
		}
		out = append(out, s)
	}
	return out
}

// Reset drops the instance for key and closes it. The next GetOrCreate
// constructs a fresh one. A construction in flight for key is discarded
// once it finishes; its callers get ErrReset.
func (r *Registry) Reset(key string) {
	r.mu.Lock()
	e, had := r.instances[key]
	delete(r.instances, key)
	r.gens[key]++
	r.mu.Unlock()

	if had {
		closeInstance(e.value)
	}
	r.log.Info("client reset", logger.Fields(logger.FieldClientKey, key))
	r.hub.Publish(Event{Type: EventReset, Key: key})
}

// ResetAll resets every key.
func (r *Registry) ResetAll() {
	for _, k := range r.Keys() {
		r.Reset(k)
	}
}

func closeInstance(v any) {
	switch c := v.(type) {
	case interface{ Close() error }:
		_ = c.Close()
	case interface{ Close() }:
		c.Close()
	}
}

// --- component.Component ---

// Name implements component.Component.
func (r *Registry) Name() string { return "clients" }

// Start implements component.Component. Clients are built on first use.
func (r *Registry) Start(context.Context) error { return nil }

// Stop closes every constructed instance.
func (r *Registry) Stop(context.Context) error {
	r.mu.Lock()
	instances := r.instances
	r.instances = make(map[string]entry)
	for k := range instances {
		r.gens[k]++
	}
	r.mu.Unlock()

	for _, e := range instances {
		closeInstance(e.value)
	}
	return nil
}

// Health reports degraded while any key's last construction failed.
func (r *Registry) Health(context.Context) component.Health {
	h := component.Health{Name: r.Name(), Status: component.StatusHealthy}
	var failed []string
	for _, s := range r.Statuses() {
		if !s.Ready && s.LastError != "" {
			failed = append(failed, s.Key)
		}
	}
	if len(failed) > 0 {
		h.Status = component.StatusDegraded
		h.Message = fmt.Sprintf("failed: %v", failed)
	}
	return h
}

package resolver

import (
	"context"
	stderrors "errors"
	"sync"
	"time"
)

// ErrNotFound is returned by a tier that does not carry the requested id.
var ErrNotFound = stderrors.New("resolver: module not found")

// LoadFunc loads one module.
type LoadFunc func(ctx context.Context, id string) (Module, error)

// Tier is one candidate source in the fallback chain.
type Tier struct {
	Name string
	// Primary tiers are skipped while the resolver bypasses the primary path.
	Primary bool
	// Timeout bounds Load. Zero uses the resolver's TierTimeout.
	Timeout time.Duration
	Load    LoadFunc
}

// Catalog holds in-process module factories.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]LoadFunc
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]LoadFunc)}
}

// Register adds or replaces the factory for id.
func (c *Catalog) Register(id string, load LoadFunc) {
	c.mu.Lock()
	c.factories[id] = load
	c.mu.Unlock()
}

// RegisterModule registers a fixed module value.
func (c *Catalog) RegisterModule(m Module) {
	c.Register(m.ID(), func(context.Context, string) (Module, error) { return m, nil })
}

func (c *Catalog) load(ctx context.Context, id string) (Module, error) {
	c.mu.RLock()
	load, ok := c.factories[id]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return load(ctx, id)
}

// CatalogTier is the primary tier: an in-process import from c.
func CatalogTier(c *Catalog) Tier {
	return Tier{Name: "catalog", Primary: true, Load: c.load}
}

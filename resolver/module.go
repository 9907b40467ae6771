package resolver

import (
	"context"
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
)

// ErrUnknownMember is returned by Call on a real module without that member.
var ErrUnknownMember = stderrors.New("resolver: unknown module member")

// Member is one callable export of a module.
type Member func(ctx context.Context, args ...any) (any, error)

// Module is anything a tier can produce.
type Module interface {
	ID() string
	// Source names the tier that produced the module, or "stub".
	Source() string
	IsStub() bool
	// Call invokes an exported member by name.
	Call(ctx context.Context, member string, args ...any) (any, error)
}

// ResourceModule is a module built from members and, for fetched
// modules, the raw bytes that were loaded.
type ResourceModule struct {
	id      string
	source  string
	content []byte
	members map[string]Member
}

// NewModule returns a module with the given members.
func NewModule(id, source string, members map[string]Member) *ResourceModule {
	return &ResourceModule{id: id, source: source, members: maps.Clone(members)}
}

// NewResource returns a module carrying fetched content and no members.
func NewResource(id, source string, content []byte) *ResourceModule {
	return &ResourceModule{id: id, source: source, content: content}
}

func (m *ResourceModule) ID() string     { return m.id }
func (m *ResourceModule) Source() string { return m.source }
func (m *ResourceModule) IsStub() bool   { return false }

// Content returns the bytes the module was loaded from, if any.
func (m *ResourceModule) Content() []byte { return m.content }

// Members lists exported member names in sorted order.
func (m *ResourceModule) Members() []string {
	return slices.Sorted(maps.Keys(m.members))
}

func (m *ResourceModule) Call(ctx context.Context, member string, args ...any) (any, error) {
	fn, ok := m.members[member]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMember, m.id, member)
	}
	return fn(ctx, args...)
}

// stub answers every call with (nil, nil).
type stub struct{ id string }

// SourceStub is the Source of synthesized stubs.
const SourceStub = "stub"

// NewStub returns an inert module for id.
func NewStub(id string) Module { return stub{id: id} }

func (s stub) ID() string     { return s.id }
func (s stub) Source() string { return SourceStub }
func (s stub) IsStub() bool   { return true }

func (s stub) Call(context.Context, string, ...any) (any, error) { return nil, nil }

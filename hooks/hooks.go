// Package hooks provides the subscribe/unsubscribe event fan-out every
// connkit component exposes to its embedding application.
package hooks

import (
	"sync"
)

// Hub delivers events of type E to subscribers synchronously, in
// subscription order, on the publisher's goroutine.
//
// Handlers must not block; hand work off to a goroutine when needed.
// A handler may unsubscribe itself or others while being called.
type Hub[E any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber[E]
}

type subscriber[E any] struct {
	id uint64
	fn func(E)
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is idempotent.
func (h *Hub[E]) Subscribe(fn func(E)) (unsubscribe func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, subscriber[E]{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub[E]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			// copy so an in-progress Publish keeps its snapshot intact
			next := make([]subscriber[E], 0, len(h.subs)-1)
			next = append(next, h.subs[:i]...)
			h.subs = append(next, h.subs[i+1:]...)
			return
		}
	}
}

// Publish calls every current subscriber with e.
func (h *Hub[E]) Publish(e E) {
	h.mu.RLock()
	subs := h.subs
	h.mu.RUnlock()
	for _, s := range subs {
		s.fn(e)
	}
}

// Len returns the number of subscribers.
func (h *Hub[E]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

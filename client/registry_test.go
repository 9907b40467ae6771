package client

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexfront/connkit/errors"
	"github.com/lexfront/connkit/logger"
	"github.com/lexfront/connkit/resilience"
)

type fakeClient struct {
	id     int
	closed atomic.Bool
}

func (c *fakeClient) Close() error {
	c.closed.Store(true)
	return nil
}

func TestGetOrCreate_ConcurrentCallersShareOneInstance(t *testing.T) {
	r := NewRegistry(logger.Nop())
	var calls atomic.Int32
	release := make(chan struct{})
	factory := func(context.Context) (any, error) {
		n := calls.Add(1)
		<-release
		return &fakeClient{id: int(n)}, nil
	}

	const n = 32
	got := make([]any, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i], errs[i] = r.GetOrCreate(context.Background(), "redis", factory)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("factory calls = %d, want 1", calls.Load())
	}
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if got[i] != got[0] {
			t.Fatalf("caller %d got a different instance", i)
		}
	}
}

func TestGetOrCreate_FailureNotCached(t *testing.T) {
	r := NewRegistry(logger.Nop())
	var calls atomic.Int32
	factory := func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, stderrors.New("dial tcp: refused")
		}
		return &fakeClient{}, nil
	}

	_, err := r.GetOrCreate(context.Background(), "pg", factory)
	if !errors.HasCode(err, errors.ErrCodeClientConstruction) {
		t.Fatalf("err = %v, want CLIENT_CONSTRUCTION_FAILED", err)
	}
	if _, ok := r.Get("pg"); ok {
		t.Fatal("failed construction must not be cached")
	}
	if s := r.Statuses(); len(s) != 1 || s[0].LastError == "" {
		t.Errorf("statuses = %+v", s)
	}

	v, err := r.GetOrCreate(context.Background(), "pg", factory)
	if err != nil || v == nil {
		t.Fatalf("retry = (%v, %v)", v, err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestGetOrCreate_FactoryEdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		factory Factory
	}{
		{"panic", func(context.Context) (any, error) { panic("nil config") }},
		{"nil instance", func(context.Context) (any, error) { return nil, nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(logger.Nop())
			_, err := r.GetOrCreate(context.Background(), "k", tt.factory)
			if !errors.HasCode(err, errors.ErrCodeClientConstruction) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestGetOrCreateAs(t *testing.T) {
	r := NewRegistry(logger.Nop())
	c, err := GetOrCreateAs(context.Background(), r, "cache", func(context.Context) (*fakeClient, error) {
		return &fakeClient{id: 7}, nil
	})
	if err != nil || c.id != 7 {
		t.Fatalf("got (%v, %v)", c, err)
	}

	_, err = GetOrCreateAs(context.Background(), r, "cache", func(context.Context) (string, error) { return "x", nil })
	if !errors.HasCode(err, errors.ErrCodeClientConstruction) {
		t.Errorf("type mismatch err = %v", err)
	}
}

func TestReset_ClosesAndRebuilds(t *testing.T) {
	r := NewRegistry(logger.Nop())
	var events []EventType
	r.Subscribe(func(e Event) { events = append(events, e.Type) })

	var n atomic.Int32
	r.Register("redis", func(context.Context) (any, error) {
		return &fakeClient{id: int(n.Add(1))}, nil
	})

	first, err := r.Client(context.Background(), "redis")
	if err != nil {
		t.Fatal(err)
	}
	r.Reset("redis")
	if !first.(*fakeClient).closed.Load() {
		t.Error("reset should close the old instance")
	}

	second, err := r.Client(context.Background(), "redis")
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Error("expected a fresh instance after reset")
	}
	want := []EventType{EventCreated, EventReset, EventCreated}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestReset_DiscardsInFlightConstruction(t *testing.T) {
	r := NewRegistry(logger.Nop())
	started := make(chan struct{})
	release := make(chan struct{})
	built := &fakeClient{}

	done := make(chan error, 1)
	go func() {
		_, err := r.GetOrCreate(context.Background(), "k", func(context.Context) (any, error) {
			close(started)
			<-release
			return built, nil
		})
		done <- err
	}()
	<-started
	r.Reset("k")
	close(release)

	if err := <-done; !stderrors.Is(err, ErrReset) {
		t.Errorf("err = %v, want ErrReset", err)
	}
	if !built.closed.Load() {
		t.Error("discarded instance should be closed")
	}
	if _, ok := r.Get("k"); ok {
		t.Error("discarded instance must not be cached")
	}
}

func TestReset_CallerAfterResetWaitsForDiscardedConstruction(t *testing.T) {
	r := NewRegistry(logger.Nop())
	var running, peak, calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	factory := func(context.Context) (any, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return &fakeClient{}, nil
	}

	ctx := context.Background()
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.GetOrCreate(ctx, "k", factory)
		firstErr <- err
	}()
	<-started
	r.Reset("k")

	type result struct {
		v   any
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := r.GetOrCreate(ctx, "k", factory)
		second <- result{v, err}
	}()

	time.Sleep(20 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("factory calls = %d while the discarded construction runs, want 1", n)
	}
	close(release)

	if err := <-firstErr; !stderrors.Is(err, ErrReset) {
		t.Errorf("first caller err = %v, want ErrReset", err)
	}
	got := <-second
	if got.err != nil || got.v == nil {
		t.Fatalf("second caller = %v, %v", got.v, got.err)
	}
	if cached, ok := r.Get("k"); !ok || cached != got.v {
		t.Error("fresh instance should be cached")
	}
	if calls.Load() != 2 || peak.Load() != 1 {
		t.Errorf("calls = %d peak = %d, want 2 and 1", calls.Load(), peak.Load())
	}
}

func TestClient_Unregistered(t *testing.T) {
	r := NewRegistry(logger.Nop())
	if _, err := r.Client(context.Background(), "nope"); !errors.HasCode(err, errors.ErrCodeClientConstruction) {
		t.Errorf("err = %v", err)
	}
}

func TestWithRetry(t *testing.T) {
	var calls atomic.Int32
	f := WithRetry(resilience.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}, func(context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, stderrors.New("not yet")
		}
		return &fakeClient{}, nil
	})
	r := NewRegistry(logger.Nop())
	if _, err := r.GetOrCreate(context.Background(), "k", f); err != nil {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestStop_ClosesAll(t *testing.T) {
	r := NewRegistry(logger.Nop())
	a, b := &fakeClient{}, &fakeClient{}
	_, _ = r.GetOrCreate(context.Background(), "a", func(context.Context) (any, error) { return a, nil })
	_, _ = r.GetOrCreate(context.Background(), "b", func(context.Context) (any, error) { return b, nil })

	if err := r.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !a.closed.Load() || !b.closed.Load() {
		t.Error("Stop should close every instance")
	}
	if len(r.Keys()) != 0 {
		t.Errorf("keys = %v after stop", r.Keys())
	}
}

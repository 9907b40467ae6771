package recovery

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lexfront/connkit/errors"
	"github.com/lexfront/connkit/logger"
	"github.com/lexfront/connkit/resilience"
)

type fakeTimer struct {
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) after(_ time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

// fireAll runs every timer that has not been stopped.
func (c *fakeClock) fireAll() {
	c.mu.Lock()
	var live []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			t.stopped = true
			live = append(live, t)
		}
	}
	c.mu.Unlock()
	for _, t := range live {
		t.f()
	}
}

type remedyLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *remedyLog) remedy(name string) Remedy {
	return func(_ context.Context, inc Incident) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.calls = append(l.calls, fmt.Sprintf("%s:%d", name, inc.Count))
		return nil
	}
}

func newTestCoordinator(t *testing.T, threshold int, opts ...Option) (*Coordinator, *fakeClock, *remedyLog) {
	t.Helper()
	rl := &remedyLog{}
	all := append([]Option{
		WithLogger(logger.Nop()),
		WithNarrow(ScopeTransport, rl.remedy("reconnect")),
		WithBroad(rl.remedy("broad")),
	}, opts...)
	c := New(Config{EscalationThreshold: threshold, BroadLimit: resilience.RateLimiterConfig{Rate: 100, Burst: 100}}, all...)
	clk := &fakeClock{}
	c.after = clk.after
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c, clk, rl
}

func transportErr() error {
	return errors.TransportError("ws://x", stderrors.New("reset by peer"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantClass Class
		wantScope string
	}{
		{"nil", nil, ClassNone, ""},
		{"cancelled", context.Canceled, ClassNone, ""},
		{"transport", transportErr(), ClassTransient, ScopeTransport},
		{"exhausted reconnects", errors.MaxReconnectAttemptsExceeded("ws://x", 5, nil), ClassTransient, ScopeTransport},
		{"loader tier", errors.LoaderTierError("cdn", "charts", stderrors.New("503")), ClassTransient, ScopeModule},
		{"client", errors.ClientConstructionFailed("redis", stderrors.New("refused")), ClassTransient, ScopeClient},
		{"explicit scope", errors.Timeout("sync").WithDetail("scope", "billing"), ClassTransient, "billing"},
		{"configuration", errors.ConfigurationIssue("connection.url", "empty"), ClassConfiguration, ScopeDefault},
		{"missing field", errors.MissingField("dsn"), ClassConfiguration, ScopeDefault},
		{"deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), ClassTransient, ScopeTransport},
		{"internal wrapping transient", errors.Internal(transportErr()), ClassTransient, ScopeTransport},
		{"internal", errors.Internal(stderrors.New("nil map")), ClassFatal, ScopeDefault},
		{"plain", stderrors.New("boom"), ClassFatal, ScopeDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultClassifier().Classify(tt.err)
			if got.Class != tt.wantClass || got.Scope != tt.wantScope {
				t.Errorf("Classify = %s/%s, want %s/%s", got.Class, got.Scope, tt.wantClass, tt.wantScope)
			}
		})
	}
}

func TestObserve_BurstCoalescesIntoOneIncident(t *testing.T) {
	c, clk, rl := newTestCoordinator(t, 3)

	for range 5 {
		if cl := c.Observe(transportErr()); cl != ClassTransient {
			t.Fatalf("class = %s", cl)
		}
	}
	clk.fireAll()

	if len(rl.calls) != 1 || rl.calls[0] != "reconnect:1" {
		t.Errorf("remedies = %v, want [reconnect:1]", rl.calls)
	}
	if c.Counter(ScopeTransport) != 1 {
		t.Errorf("counter = %d", c.Counter(ScopeTransport))
	}
}

func TestObserve_StaleWindowDoesNotFire(t *testing.T) {
	c, clk, rl := newTestCoordinator(t, 3)
	c.Observe(transportErr())
	first := clk.timers[0]
	c.Observe(transportErr())

	first.f()
	if len(rl.calls) != 0 {
		t.Fatalf("restarted window fired early: %v", rl.calls)
	}
	clk.fireAll()
	if len(rl.calls) != 1 {
		t.Errorf("remedies = %v", rl.calls)
	}
}

func TestObserve_EscalatesAboveThreshold(t *testing.T) {
	c, clk, rl := newTestCoordinator(t, 2)

	for range 4 {
		c.Observe(transportErr())
		clk.fireAll()
	}

	want := []string{"reconnect:1", "reconnect:2", "broad:3", "reconnect:1"}
	if fmt.Sprint(rl.calls) != fmt.Sprint(want) {
		t.Errorf("remedies = %v, want %v", rl.calls, want)
	}
}

func TestObserve_MarkRecoveredResetsCounter(t *testing.T) {
	c, clk, rl := newTestCoordinator(t, 2)
	var recovered int
	c.Subscribe(func(e Event) {
		if e.Type == EventRecovered {
			recovered++
		}
	})

	for range 2 {
		c.Observe(transportErr())
		clk.fireAll()
	}
	c.MarkRecovered(ScopeTransport)
	c.MarkRecovered(ScopeTransport)
	c.Observe(transportErr())
	clk.fireAll()

	want := []string{"reconnect:1", "reconnect:2", "reconnect:1"}
	if fmt.Sprint(rl.calls) != fmt.Sprint(want) {
		t.Errorf("remedies = %v, want %v", rl.calls, want)
	}
	if recovered != 1 {
		t.Errorf("recovered events = %d, want 1", recovered)
	}
}

func TestObserve_StructuralErrorsAreNotRemedied(t *testing.T) {
	c, clk, rl := newTestCoordinator(t, 1)
	var classified []Class
	c.Subscribe(func(e Event) {
		if e.Type == EventClassified {
			classified = append(classified, e.Class)
		}
	})

	c.Observe(errors.ConfigurationIssue("backend.redis.url", "bad scheme"))
	c.Observe(stderrors.New("unexpected"))
	clk.fireAll()

	if len(clk.timers) != 0 || len(rl.calls) != 0 {
		t.Errorf("timers = %d, remedies = %v", len(clk.timers), rl.calls)
	}
	if fmt.Sprint(classified) != "[configuration fatal]" {
		t.Errorf("classified = %v", classified)
	}
}

func TestObserve_ScopesAreIndependent(t *testing.T) {
	rl := &remedyLog{}
	c, clk, base := newTestCoordinator(t, 3, WithNarrow(ScopeModule, rl.remedy("bypass")))

	c.Observe(transportErr())
	c.Observe(errors.LoaderTierError("catalog", "charts", stderrors.New("import failed")))
	clk.fireAll()

	if len(base.calls) != 1 || len(rl.calls) != 1 {
		t.Errorf("transport remedies = %v, module remedies = %v", base.calls, rl.calls)
	}
}

func TestObserve_BroadRateLimited(t *testing.T) {
	rl := &remedyLog{}
	c := New(Config{EscalationThreshold: 1, BroadLimit: resilience.RateLimiterConfig{Rate: 0.001, Burst: 1}},
		WithLogger(logger.Nop()), WithBroad(rl.remedy("broad")), WithNarrow(ScopeClient, rl.remedy("reset")))
	clk := &fakeClock{}
	c.after = clk.after
	var suppressed int
	c.Subscribe(func(e Event) {
		if e.Type == EventBroadSuppressed {
			suppressed++
		}
	})

	for range 4 {
		c.Observe(errors.ClientConstructionFailed("redis", stderrors.New("refused")))
		clk.fireAll()
	}

	want := []string{"reset:1", "broad:2", "reset:1"}
	if fmt.Sprint(rl.calls) != fmt.Sprint(want) {
		t.Errorf("remedies = %v, want %v", rl.calls, want)
	}
	if suppressed != 1 {
		t.Errorf("suppressed = %d, want 1", suppressed)
	}
}

func TestRemedyFailureAndPanic(t *testing.T) {
	tests := []struct {
		name   string
		remedy Remedy
	}{
		{"error", func(context.Context, Incident) error { return stderrors.New("still down") }},
		{"panic", func(context.Context, Incident) error { panic("nil conn") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clk, _ := newTestCoordinator(t, 3, WithNarrow(ScopeTransport, tt.remedy))
			var failed int
			c.Subscribe(func(e Event) {
				if e.Type == EventRemedyFailed {
					failed++
				}
			})
			c.Observe(transportErr())
			clk.fireAll()
			if failed != 1 {
				t.Errorf("failed events = %d", failed)
			}
		})
	}
}

func TestIncidentIDsAreUnique(t *testing.T) {
	c, clk, _ := newTestCoordinator(t, 10)
	seen := map[string]bool{}
	c.Subscribe(func(e Event) {
		if e.Type == EventIncident {
			seen[e.Incident.ID] = true
		}
	})
	for range 3 {
		c.Observe(transportErr())
		clk.fireAll()
	}
	if len(seen) != 3 {
		t.Errorf("unique incident ids = %d, want 3", len(seen))
	}
}

func TestHardReset(t *testing.T) {
	c, clk, rl := newTestCoordinator(t, 3)
	c.Observe(transportErr())
	clk.fireAll()
	c.Observe(transportErr())

	if err := c.HardReset(context.Background()); err != nil {
		t.Fatal(err)
	}
	clk.fireAll()

	if c.Counter(ScopeTransport) != 0 {
		t.Errorf("counter = %d after hard reset", c.Counter(ScopeTransport))
	}
	want := []string{"reconnect:1", "broad:0"}
	if fmt.Sprint(rl.calls) != fmt.Sprint(want) {
		t.Errorf("remedies = %v, want %v", rl.calls, want)
	}
}

func TestGuardAndGo(t *testing.T) {
	c, _, _ := newTestCoordinator(t, 3)
	var mu sync.Mutex
	var classes []Class
	c.Subscribe(func(e Event) {
		if e.Type == EventClassified {
			mu.Lock()
			classes = append(classes, e.Class)
			mu.Unlock()
		}
	})

	c.Guard(func() { panic("boom") })

	done := make(chan struct{})
	c.Go(context.Background(), func(context.Context) error {
		defer close(done)
		return transportErr()
	})
	<-done
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(classes) != "[fatal transient]" {
		t.Errorf("classes = %v", classes)
	}
}

func TestWatch(t *testing.T) {
	c, clk, rl := newTestCoordinator(t, 3)
	errs := make(chan error)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Watch(ctx, errs)

	errs <- transportErr()
	errs <- transportErr()
	close(errs)
	time.Sleep(10 * time.Millisecond)
	clk.fireAll()

	if len(rl.calls) != 1 {
		t.Errorf("remedies = %v", rl.calls)
	}
}

func TestStop_DropsPendingWindows(t *testing.T) {
	c, clk, rl := newTestCoordinator(t, 3)
	c.Observe(transportErr())
	if err := c.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, tm := range clk.timers {
		tm.f()
	}
	if len(rl.calls) != 0 {
		t.Errorf("remedies after stop = %v", rl.calls)
	}
}

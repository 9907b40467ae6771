package bootstrap

import (
	"bytes"
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lexfront/connkit/client"
	"github.com/lexfront/connkit/component"
	"github.com/lexfront/connkit/config"
	"github.com/lexfront/connkit/connection"
	"github.com/lexfront/connkit/logger"
	"github.com/lexfront/connkit/recovery"
	"github.com/lexfront/connkit/resolver"
	"github.com/lexfront/connkit/statusapi"
)

func init() { gin.SetMode(gin.TestMode) }

type testConn struct {
	mu     sync.Mutex
	closed []int
}

func (c *testConn) Send(context.Context, []byte) error { return nil }

func (c *testConn) Close(code int, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, code)
	return nil
}

// testTransport always opens and keeps the latest callbacks.
type testTransport struct {
	mu    sync.Mutex
	opens int
	cb    connection.Callbacks
}

func (f *testTransport) Open(_ context.Context, _ string, cb connection.Callbacks) (connection.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	f.cb = cb
	return &testConn{}, nil
}

func (f *testTransport) state() (int, connection.Callbacks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.cb
}

func newTestConfig() *Config {
	return &Config{
		ServiceConfig: config.ServiceConfig{
			Name:        "connkitd",
			Version:     "1.0.0",
			Environment: "development",
		},
		Connection: connection.Config{
			URL:    "wss://rt.example.com/socket",
			Policy: connection.Policy{MaxAttempts: 2, BaseInterval: 10 * time.Millisecond, Multiplier: 2},
		},
		Recovery:        recovery.Config{DebounceWindow: 10 * time.Millisecond, EscalationThreshold: 3},
		GracefulTimeout: 2 * time.Second,
	}
}

func newTestApp(t *testing.T, cfg *Config, opts ...Option) (*App, *testTransport) {
	t.Helper()
	tr := &testTransport{}
	opts = append([]Option{WithLogger(logger.Nop()), WithTransport(tr)}, opts...)
	app, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	app.Summary.SetOutput(&bytes.Buffer{})
	return app, tr
}

func statusConfig() statusapi.Config {
	return statusapi.Config{Enabled: true, Host: "127.0.0.1", AllowReset: true}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew(t *testing.T) {
	app, _ := newTestApp(t, newTestConfig())

	if app.Name != "connkitd" || app.Version != "1.0.0" {
		t.Errorf("name/version = %q/%q", app.Name, app.Version)
	}
	if app.InstanceID == "" {
		t.Error("expected an instance id")
	}
	if app.Status != nil {
		t.Error("status API should be disabled by default")
	}

	var names []string
	for _, c := range app.Components.All() {
		names = append(names, c.Name())
	}
	want := "telemetry,clients,resolver,connection,recovery"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("components = %s, want %s", got, want)
	}
	if app.gracefulTimeout != 2*time.Second {
		t.Errorf("graceful timeout = %s", app.gracefulTimeout)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing name", func(c *Config) { c.Name = "" }},
		{"missing url", func(c *Config) { c.Connection.URL = "" }},
		{"bad environment", func(c *Config) { c.Environment = "qa" }},
		{"postgres without dsn", func(c *Config) { c.Backend.Postgres.Enabled = true }},
		{"sample rate above one", func(c *Config) { c.Telemetry.SampleRate = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig()
			tt.mutate(cfg)
			if _, err := New(cfg, WithLogger(logger.Nop()), WithTransport(&testTransport{})); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := New(nil); err == nil {
		t.Error("nil config should fail")
	}
}

func TestNew_ResolverTiers(t *testing.T) {
	cfg := newTestConfig()
	cfg.Resolver.CDN.BaseURL = "https://cdn.example.com/modules"
	cfg.Resolver.Mirror.Dir = "/srv/modules"
	extra := resolver.Tier{Name: "fixture"}

	app, _ := newTestApp(t, cfg, WithFs(afero.NewMemMapFs()), WithTiers(extra))

	var names []string
	for _, tier := range app.tiers {
		names = append(names, tier.Name)
	}
	if got := strings.Join(names, ","); got != "catalog,cdn,mirror,fixture" {
		t.Errorf("tiers = %s", got)
	}
}

func TestStartAndShutdown(t *testing.T) {
	app, tr := newTestApp(t, newTestConfig())
	var order []string
	app.OnStart(func(context.Context) error { order = append(order, "start"); return nil })
	app.OnReady(func(context.Context) error { order = append(order, "ready"); return nil })
	app.OnStop(func(context.Context) error { order = append(order, "stop"); return nil })

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if app.Connection.State() != connection.StateOpen {
		t.Fatalf("state = %s", app.Connection.State())
	}
	if opens, _ := tr.state(); opens != 1 {
		t.Errorf("opens = %d", opens)
	}
	if err := app.ReadyCheck(ctx); err != nil {
		t.Errorf("ready check: %v", err)
	}

	if err := app.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if app.Connection.State() != connection.StateClosed {
		t.Errorf("state after shutdown = %s", app.Connection.State())
	}
	if got := strings.Join(order, ","); got != "start,ready,stop" {
		t.Errorf("hooks = %s", got)
	}
}

func TestStart_HookFailureUnwinds(t *testing.T) {
	app, _ := newTestApp(t, newTestConfig())
	app.OnStart(func(context.Context) error { return stderrors.New("boom") })

	if err := app.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if app.Connection.State() != connection.StateClosed {
		t.Errorf("state = %s, want closed after unwind", app.Connection.State())
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	app, _ := newTestApp(t, newTestConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	eventually(t, "open connection", func() bool { return app.Connection.State() == connection.StateOpen })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestTransportErrorReconnects(t *testing.T) {
	app, tr := newTestApp(t, newTestConfig())
	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer app.Shutdown(ctx)

	_, cb := tr.state()
	cb.OnError(stderrors.New("read: connection reset"))
	cb.OnError(stderrors.New("read: connection reset"))

	eventually(t, "reconnect remedy", func() bool {
		opens, _ := tr.state()
		return opens == 2 && app.Connection.State() == connection.StateOpen
	})
	eventually(t, "transport scope recovered", func() bool {
		return app.Recovery.Counter(recovery.ScopeTransport) == 0
	})
}

func TestAbnormalDropHealedByBackoffIsNotReconnectedAgain(t *testing.T) {
	cfg := newTestConfig()
	cfg.Recovery.DebounceWindow = 100 * time.Millisecond
	app, tr := newTestApp(t, cfg)
	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer app.Shutdown(ctx)

	var mu sync.Mutex
	applied := 0
	app.Recovery.Subscribe(func(e recovery.Event) {
		if e.Type == recovery.EventRemedyApplied && e.Scope == recovery.ScopeTransport {
			mu.Lock()
			applied++
			mu.Unlock()
		}
	})

	_, cb := tr.state()
	cb.OnError(stderrors.New("read: connection reset"))
	cb.OnClose(connection.CloseAbnormal, "")

	eventually(t, "transport remedy", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return applied == 1
	})
	if opens, _ := tr.state(); opens != 2 {
		t.Errorf("opens = %d, want 2 (backoff reconnect only)", opens)
	}
	if app.Connection.State() != connection.StateOpen {
		t.Errorf("state = %s", app.Connection.State())
	}
}

func TestClientFailureRebuildsClient(t *testing.T) {
	app, _ := newTestApp(t, newTestConfig())
	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer app.Shutdown(ctx)

	var mu sync.Mutex
	calls := 0
	app.Clients.Register("cache", func(context.Context) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, stderrors.New("dial tcp: connection refused")
		}
		return "cache-client", nil
	})

	if _, err := app.Clients.Client(ctx, "cache"); err == nil {
		t.Fatal("first construction should fail")
	}
	eventually(t, "client rebuilt by remedy", func() bool {
		_, ok := app.Clients.Get("cache")
		return ok
	})
}

func TestModuleFailureBypassesPrimary(t *testing.T) {
	fixture := resolver.Tier{Name: "fixture", Load: func(_ context.Context, id string) (resolver.Module, error) {
		return resolver.NewResource(id, "fixture", nil), nil
	}}
	app, _ := newTestApp(t, newTestConfig(), WithTiers(fixture))
	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer app.Shutdown(ctx)

	app.Catalog.Register("charts", func(context.Context, string) (resolver.Module, error) {
		return nil, stderrors.New("chunk load failed")
	})

	m := app.Resolver.Resolve(ctx, "charts")
	if m.Source() != "fixture" || m.IsStub() {
		t.Fatalf("module = %s stub=%v", m.Source(), m.IsStub())
	}
	eventually(t, "primary bypass", app.Resolver.BypassPrimary)
}

func TestModuleNotFoundIsNotObserved(t *testing.T) {
	app, _ := newTestApp(t, newTestConfig())
	var mu sync.Mutex
	var scopes []string
	app.Recovery.Subscribe(func(e recovery.Event) {
		if e.Type == recovery.EventClassified {
			mu.Lock()
			scopes = append(scopes, e.Scope)
			mu.Unlock()
		}
	})

	if m := app.Resolver.Resolve(context.Background(), "unknown"); !m.IsStub() {
		t.Fatalf("expected stub, got %s", m.Source())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(scopes) != 0 {
		t.Errorf("observed scopes = %v", scopes)
	}
}

func TestStatusAPI(t *testing.T) {
	cfg := newTestConfig()
	cfg.Status = statusConfig()
	app, _ := newTestApp(t, cfg)
	if app.Status == nil {
		t.Fatal("status API not built")
	}

	resets := 0
	app.Clients.Subscribe(func(e client.Event) {
		if e.Type == client.EventReset {
			resets++
		}
	})
	app.Clients.Register("cache", func(context.Context) (any, error) { return "c", nil })
	if _, err := app.Clients.Client(context.Background(), "cache"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/status/connection", http.StatusOK},
		{http.MethodGet, "/status/clients", http.StatusOK},
		{http.MethodGet, "/status/recovery", http.StatusOK},
		{http.MethodPost, "/recovery/reset", http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			app.Status.Engine().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if resets != 1 {
		t.Errorf("resets = %d, want 1 from the hard reset", resets)
	}
}

func TestInstrumentsRecordTransitions(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	app, _ := newTestApp(t, newTestConfig(), WithMeter(mp.Meter("test")))

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := app.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "connkit.connection.transitions" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	// idle->connecting, connecting->open, open->closing, closing->closed
	if total != 4 {
		t.Errorf("transitions = %d, want 4", total)
	}
}

func TestSummary(t *testing.T) {
	cfg := newTestConfig()
	cfg.Status = statusConfig()
	cfg.Backend.Redis.Enabled = true
	cfg.Backend.Redis.Addr = "127.0.0.1:1"
	app, _ := newTestApp(t, cfg)
	app.trackSummary()

	var buf bytes.Buffer
	app.Summary.SetOutput(&buf)
	app.Summary.SetStartupDuration(1500 * time.Millisecond)
	app.Summary.DisplaySummary(app.Components)

	out := buf.String()
	for _, want := range []string{
		"connkitd v1.0.0 started in 1.50s",
		"connection [connection]",
		"catalog [tier]: primary",
		"redis [backend]: lazy",
		"status-api [server]",
		"/status/connection",
		"Health Check",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	yml := `name: connkitd
environment: staging
connection:
  url: wss://rt.example.com/socket
  policy:
    max_attempts: 7
    base_interval: 250ms
recovery:
  escalation_threshold: 5
status:
  enabled: true
  port: 9090
`
	if err := afero.WriteFile(fs, "/etc/connkitd/config.yml", []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("connkitd", config.WithFs(fs), config.WithConfigFile("/etc/connkitd/config.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Connection.Policy.MaxAttempts != 7 || cfg.Connection.Policy.BaseInterval != 250*time.Millisecond {
		t.Errorf("policy = %+v", cfg.Connection.Policy)
	}
	if cfg.Connection.Policy.Multiplier != 2 {
		t.Errorf("multiplier default = %v", cfg.Connection.Policy.Multiplier)
	}
	if cfg.Recovery.EscalationThreshold != 5 || cfg.Recovery.DebounceWindow != time.Second {
		t.Errorf("recovery = %+v", cfg.Recovery)
	}
	if !cfg.Status.Enabled || cfg.Status.Port != 9090 {
		t.Errorf("status = %+v", cfg.Status)
	}
	if cfg.GracefulTimeout != 15*time.Second {
		t.Errorf("graceful timeout = %s", cfg.GracefulTimeout)
	}
}

func TestTelemetryDisabled(t *testing.T) {
	tel := &telemetry{}
	ctx := context.Background()
	if err := tel.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if h := tel.Health(ctx); h.Status != component.StatusHealthy || h.Message != "disabled" {
		t.Errorf("health = %+v", h)
	}
	if err := tel.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}

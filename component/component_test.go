package component

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/lexfront/connkit/logger"
)

type mockComponent struct {
	name       string
	startErr   error
	stopErr    error
	health     Health
	startOrder *[]string
	stopOrder  *[]string
}

func (m *mockComponent) Name() string { return m.name }
func (m *mockComponent) Start(ctx context.Context) error {
	if m.startOrder != nil {
		*m.startOrder = append(*m.startOrder, m.name)
	}
	return m.startErr
}
func (m *mockComponent) Stop(ctx context.Context) error {
	if m.stopOrder != nil {
		*m.stopOrder = append(*m.stopOrder, m.name)
	}
	return m.stopErr
}
func (m *mockComponent) Health(ctx context.Context) Health { return m.health }
func (m *mockComponent) Describe() Description {
	return Description{Type: "mock", Details: m.name}
}

func newRegistry() *Registry { return NewRegistry(logger.Nop()) }

func TestRegisterDuplicate(t *testing.T) {
	r := newRegistry()
	if err := r.Register(&mockComponent{name: "connection"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register(&mockComponent{name: "connection"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if r.Get("connection") == nil || r.Get("missing") != nil {
		t.Error("unexpected Get results")
	}
	if len(r.All()) != 1 {
		t.Errorf("expected 1 component, got %d", len(r.All()))
	}
}

func TestStartStopOrder(t *testing.T) {
	var started, stopped []string
	r := newRegistry()
	for _, name := range []string{"clients", "connection", "recovery"} {
		_ = r.Register(&mockComponent{name: name, startOrder: &started, stopOrder: &stopped})
	}

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}

	if strings.Join(started, ",") != "clients,connection,recovery" {
		t.Errorf("unexpected start order %v", started)
	}
	if strings.Join(stopped, ",") != "recovery,connection,clients" {
		t.Errorf("unexpected stop order %v", stopped)
	}
}

func TestStartAllStopsAtFailure(t *testing.T) {
	var started, stopped []string
	r := newRegistry()
	_ = r.Register(&mockComponent{name: "a", startOrder: &started, stopOrder: &stopped})
	_ = r.Register(&mockComponent{name: "b", startErr: stderrors.New("dial"), startOrder: &started, stopOrder: &stopped})
	_ = r.Register(&mockComponent{name: "c", startOrder: &started, stopOrder: &stopped})

	err := r.StartAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "start b") {
		t.Fatalf("expected start b error, got %v", err)
	}
	if len(started) != 2 {
		t.Errorf("expected c to be skipped, started %v", started)
	}

	_ = r.StopAll(context.Background())
	if strings.Join(stopped, ",") != "a" {
		t.Errorf("expected only a to be stopped, got %v", stopped)
	}
}

func TestStopAllJoinsErrors(t *testing.T) {
	errA, errB := stderrors.New("a failed"), stderrors.New("b failed")
	r := newRegistry()
	_ = r.Register(&mockComponent{name: "a", stopErr: errA})
	_ = r.Register(&mockComponent{name: "b", stopErr: errB})
	_ = r.StartAll(context.Background())

	err := r.StopAll(context.Background())
	if !stderrors.Is(err, errA) || !stderrors.Is(err, errB) {
		t.Errorf("expected both stop errors, got %v", err)
	}
}

func TestHealthAllAndOverall(t *testing.T) {
	r := newRegistry()
	_ = r.Register(&mockComponent{name: "a", health: Health{Status: StatusHealthy}})
	_ = r.Register(&mockComponent{name: "b", health: Health{Name: "b", Status: StatusDegraded}})

	reports := r.HealthAll(context.Background())
	if len(reports) != 2 || reports[0].Name != "a" {
		t.Fatalf("expected name filled in, got %+v", reports)
	}
	if Overall(reports) != StatusDegraded {
		t.Errorf("expected degraded, got %s", Overall(reports))
	}

	tests := []struct {
		name    string
		reports []Health
		want    HealthStatus
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Health{{Status: StatusHealthy}}, StatusHealthy},
		{"unhealthy wins", []Health{{Status: StatusDegraded}, {Status: StatusUnhealthy}}, StatusUnhealthy},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Overall(tc.reports); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

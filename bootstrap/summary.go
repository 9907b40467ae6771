package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/lexfront/connkit/component"
)

// InfrastructureInfo describes one outward dependency of the process.
type InfrastructureInfo struct {
	Name    string
	Type    string // "connection", "backend", "tier", "server"
	Details string
}

// RouteInfo represents a registered HTTP route.
type RouteInfo struct {
	Method string
	Path   string
}

// Summary tracks and displays the application bootstrap process.
type Summary struct {
	serviceName     string
	version         string
	startupDuration time.Duration
	infrastructure  []InfrastructureInfo
	routes          []RouteInfo
	out             io.Writer
}

// NewSummary creates a new bootstrap summary tracker writing to stdout.
func NewSummary(serviceName, version string) *Summary {
	return &Summary{serviceName: serviceName, version: version, out: os.Stdout}
}

// SetOutput redirects the printed summary.
func (s *Summary) SetOutput(w io.Writer) { s.out = w }

// SetStartupDuration records the total startup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// TrackInfrastructure adds an infrastructure entry.
func (s *Summary) TrackInfrastructure(name, kind, details string) {
	s.infrastructure = append(s.infrastructure, InfrastructureInfo{Name: name, Type: kind, Details: details})
}

// TrackRoute records an HTTP route.
func (s *Summary) TrackRoute(method, path string) {
	s.routes = append(s.routes, RouteInfo{Method: method, Path: path})
}

// trackSummary collects what New built. Repeated starts replace the lists.
func (a *App) trackSummary() {
	s := a.Summary
	s.infrastructure, s.routes = nil, nil

	s.TrackInfrastructure("connection", "connection", a.Connection.Describe().Details)
	for _, t := range a.tiers {
		details := "fallback"
		if t.Primary {
			details = "primary"
		}
		s.TrackInfrastructure(t.Name, "tier", details)
	}
	for _, key := range a.backends {
		s.TrackInfrastructure(key, "backend", "lazy")
	}
	if a.Status != nil {
		s.TrackInfrastructure(a.Status.Name(), "server", a.Status.Addr())
		for _, r := range a.Status.Engine().Routes() {
			s.TrackRoute(r.Method, r.Path)
		}
	}
}

// DisplaySummary prints the summary including live health from registry.
func (s *Summary) DisplaySummary(registry *component.Registry) {
	w := s.out
	fmt.Fprintf(w, "\n🚀 %s v%s started in %.2fs\n\n", s.serviceName, s.version, s.startupDuration.Seconds())

	if len(s.infrastructure) > 0 {
		fmt.Fprintf(w, "📊 Infrastructure\n")
		for i, inf := range s.infrastructure {
			fmt.Fprintf(w, "   %s %s %s [%s]: %s\n", branch(i, len(s.infrastructure)), typeIcon(inf.Type), inf.Name, inf.Type, inf.Details)
		}
	}

	if len(s.routes) > 0 {
		fmt.Fprintf(w, "\n🌐 Routes (%d)\n", len(s.routes))
		for i, r := range s.routes {
			fmt.Fprintf(w, "   %s %-7s %s\n", branch(i, len(s.routes)), r.Method, r.Path)
		}
	}

	if registry != nil {
		results := registry.HealthAll(context.Background())
		if len(results) > 0 {
			healthy := 0
			fmt.Fprintf(w, "\n🏥 Health Check\n")
			for i, h := range results {
				msg := ""
				if h.Message != "" {
					msg = " (" + h.Message + ")"
				}
				fmt.Fprintf(w, "   %s %s %s: %s%s\n", branch(i, len(results)), healthStatusIcon(h.Status), h.Name, strings.ToLower(string(h.Status)), msg)
				if h.Status == component.StatusHealthy {
					healthy++
				}
			}
			if healthy == len(results) {
				fmt.Fprintf(w, "\n✅ All components healthy (%d/%d)\n", healthy, len(results))
			} else {
				fmt.Fprintf(w, "\n⚠️  Some components have issues (%d/%d healthy)\n", healthy, len(results))
			}
		}
	}
	fmt.Fprintf(w, "\n")
}

func branch(i, n int) string {
	if i == n-1 {
		return "└──"
	}
	return "├──"
}

func typeIcon(kind string) string {
	switch kind {
	case "connection":
		return "🔌"
	case "backend":
		return "🗄️"
	case "tier":
		return "📦"
	case "server":
		return "🌐"
	default:
		return "•"
	}
}

func healthStatusIcon(status component.HealthStatus) string {
	switch status {
	case component.StatusHealthy:
		return "✅"
	case component.StatusDegraded:
		return "⚠️"
	case component.StatusUnhealthy:
		return "❌"
	default:
		return "❓"
	}
}

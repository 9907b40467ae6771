package component

import "context"

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Health holds health information for a component.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Component is a lifecycle-managed part of a connkit process.
type Component interface {
	// Name returns the unique name of the component for registration.
	Name() string

	// Start brings the component up. It may return before the component is
	// fully healthy; Health reports progress.
	Start(ctx context.Context) error

	// Stop shuts the component down and releases resources.
	Stop(ctx context.Context) error

	Health(ctx context.Context) Health
}

// Description is a one-line self-report shown in the startup summary.
type Description struct {
	Name    string
	Type    string // "connection", "registry", "coordinator", ...
	Details string
}

// Describable is optionally implemented by components.
type Describable interface {
	Describe() Description
}

// Overall folds individual health reports into one status: unhealthy wins
// over degraded, which wins over healthy.
func Overall(reports []Health) HealthStatus {
	status := StatusHealthy
	for _, h := range reports {
		switch h.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

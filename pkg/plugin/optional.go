package plugin

import "context"

// Stopper is implemented by modules that hold resources. The loader calls
// Stop when the module is unloaded, replaced, or at shutdown.
type Stopper interface {
	Stop(ctx context.Context) error
}

// HealthChecker is implemented by modules that report their health status.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// HealthStatus represents a module's health report.
type HealthStatus struct {
	Status  string            `json:"status"` // "healthy", "degraded", "unhealthy"
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

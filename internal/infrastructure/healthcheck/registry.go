package healthcheck

import (
	"context"
	"sync"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/infrastructure/httpserver"
)

// Registry runs a set of component checkers for the HTTP health endpoints.
type Registry struct {
	checkers []appcore.HealthChecker
}

var _ httpserver.HealthChecker = (*Registry)(nil)

// NewRegistry creates a registry over checkers.
func NewRegistry(checkers ...appcore.HealthChecker) *Registry {
	return &Registry{checkers: checkers}
}

// IsReady reports whether every component is healthy. Degraded components
// still accept traffic.
func (r *Registry) IsReady(ctx context.Context) bool {
	for _, status := range r.GetHealthStatus(ctx) {
		if status.Status == httpserver.StatusUnhealthy {
			return false
		}
	}
	return true
}

// GetHealthStatus runs all checkers concurrently and returns their statuses
// in registration order.
func (r *Registry) GetHealthStatus(ctx context.Context) []httpserver.ComponentStatus {
	statuses := make([]httpserver.ComponentStatus, len(r.checkers))

	var wg sync.WaitGroup
	for i, checker := range r.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = toComponentStatus(checker.Name(), checker.Check(ctx))
		}()
	}
	wg.Wait()

	return statuses
}

func toComponentStatus(name string, status appcore.HealthStatus) httpserver.ComponentStatus {
	result := httpserver.ComponentStatus{
		Name:      name,
		Status:    httpserver.StatusHealthy,
		Message:   status.Message,
		Details:   status.Details,
		CheckedAt: status.CheckedAt,
	}
	switch {
	case !status.Healthy:
		result.Status = httpserver.StatusUnhealthy
	case status.Degraded:
		result.Status = httpserver.StatusDegraded
	}
	return result
}

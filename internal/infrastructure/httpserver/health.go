package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Component and overall statuses reported by the health endpoints.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	// StatusDegraded marks a component that serves traffic but needs attention,
	// e.g. views lagging behind the event store.
	StatusDegraded = "degraded"
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// ComponentStatus is the result of checking one component.
type ComponentStatus struct {
	Name      string         `json:"name"`
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CheckedAt time.Time      `json:"checked_at,omitzero"`
}

// HealthResponse is the body of every health endpoint.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components []ComponentStatus `json:"components,omitempty"`
}

// HealthChecker reports readiness and per-component status.
// Both calls receive the request context.
type HealthChecker interface {
	IsReady(ctx context.Context) bool
	GetHealthStatus(ctx context.Context) []ComponentStatus
}

// HealthEndpoints serves liveness, readiness and component details.
type HealthEndpoints struct {
	checker HealthChecker
}

// NewHealthEndpoints creates endpoints backed by checker. A nil checker
// reports the process as ready with no components.
func NewHealthEndpoints(checker HealthChecker) *HealthEndpoints {
	return &HealthEndpoints{checker: checker}
}

// Register mounts:
//   - GET /health                 liveness, always 200
//   - GET /ready                  200 when ready, 503 otherwise
//   - GET /health/details         every component with the overall status
//   - GET /health/details/:name   a single component, 404 when unknown
func (h *HealthEndpoints) Register(e *echo.Echo) {
	e.GET("/health", h.handleHealth)
	e.GET("/ready", h.handleReady)
	e.GET("/health/details", h.handleHealthDetails)
	e.GET("/health/details/:name", h.handleComponent)
}

func (h *HealthEndpoints) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: StatusHealthy})
}

func (h *HealthEndpoints) handleReady(c echo.Context) error {
	ctx := c.Request().Context()
	components := h.components(ctx)

	if h.checker == nil || h.checker.IsReady(ctx) {
		return c.JSON(http.StatusOK, HealthResponse{Status: StatusReady, Components: components})
	}
	return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: StatusNotReady, Components: components})
}

func (h *HealthEndpoints) handleHealthDetails(c echo.Context) error {
	components := h.components(c.Request().Context())
	status, code := OverallStatus(components)

	return c.JSON(code, HealthResponse{Status: status, Components: components})
}

func (h *HealthEndpoints) handleComponent(c echo.Context) error {
	name := c.Param("name")
	for _, comp := range h.components(c.Request().Context()) {
		if comp.Name != name {
			continue
		}
		status, code := OverallStatus([]ComponentStatus{comp})
		return c.JSON(code, HealthResponse{Status: status, Components: []ComponentStatus{comp}})
	}
	return echo.NewHTTPError(http.StatusNotFound, "unknown component "+name)
}

func (h *HealthEndpoints) components(ctx context.Context) []ComponentStatus {
	if h.checker == nil {
		return nil
	}
	return h.checker.GetHealthStatus(ctx)
}

// OverallStatus folds component statuses: any unhealthy component makes the
// whole unhealthy (503), otherwise any degraded one makes it degraded (200).
func OverallStatus(components []ComponentStatus) (string, int) {
	status := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			return StatusUnhealthy, http.StatusServiceUnavailable
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status, http.StatusOK
}

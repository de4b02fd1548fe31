package healthcheck

import (
	"context"
	"fmt"
	"time"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/infrastructure/projector"
)

// DefaultSampleSize is the number of aggregates ViewSyncChecker compares.
const DefaultSampleSize = 100

// ViewVerifier compares a stored view with its history.
type ViewVerifier interface {
	Name() string
	Verify(ctx context.Context, loader projector.EventLoader, aggregateID string) (bool, error)
}

// ViewSyncChecker samples aggregates and reports views that drifted from the
// event history, for example after a failed dispatch.
type ViewSyncChecker struct {
	verifier   ViewVerifier
	source     projector.HistorySource
	sampleSize int
}

// NewViewSyncChecker creates a new view sync health checker.
func NewViewSyncChecker(verifier ViewVerifier, source projector.HistorySource, sampleSize int) *ViewSyncChecker {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &ViewSyncChecker{
		verifier:   verifier,
		source:     source,
		sampleSize: sampleSize,
	}
}

// Name returns the name of this health checker.
func (c *ViewSyncChecker) Name() string {
	return "view_sync_" + c.verifier.Name()
}

// Check compares up to sampleSize views with their histories.
// Out-of-sync views make the component degraded rather than unhealthy: the
// event store stays correct and the views can be rebuilt.
func (c *ViewSyncChecker) Check(ctx context.Context) appcore.HealthStatus {
	ids, err := c.source.AggregateIDs(ctx)
	if err != nil {
		return appcore.HealthStatus{
			Healthy:   false,
			Message:   fmt.Sprintf("failed to list aggregates: %v", err),
			CheckedAt: time.Now(),
		}
	}
	if len(ids) > c.sampleSize {
		ids = ids[:c.sampleSize]
	}

	var outOfSync []string
	for _, id := range ids {
		consistent, verifyErr := c.verifier.Verify(ctx, c.source, id)
		if verifyErr != nil {
			return appcore.HealthStatus{
				Healthy:   false,
				Message:   fmt.Sprintf("failed to verify view %s: %v", id, verifyErr),
				CheckedAt: time.Now(),
			}
		}
		if !consistent {
			outOfSync = append(outOfSync, id)
		}
	}

	details := map[string]any{
		"sampled":     len(ids),
		"out_of_sync": len(outOfSync),
	}
	if len(outOfSync) > 0 {
		details["aggregate_ids"] = outOfSync
	}

	return appcore.HealthStatus{
		Healthy:   true,
		Degraded:  len(outOfSync) > 0,
		Message:   fmt.Sprintf("views checked: %d, out of sync: %d", len(ids), len(outOfSync)),
		Details:   details,
		CheckedAt: time.Now(),
	}
}

package appcore

import (
	"context"

	"github.com/lllypuk/cqrskit/internal/domain/event"
)

// Query is a processor notified with every batch of newly committed events.
// The commit is already durable when Dispatch runs, so implementations handle
// their own failures instead of returning them.
type Query interface {
	Dispatch(ctx context.Context, aggregateID string, events []event.Envelope)
}

// View is a materialized read model folded from events.
type View interface {
	Update(env event.Envelope)
}

// ViewContext carries the optimistic version token of a stored view.
type ViewContext struct {
	ViewInstanceID string
	Version        uint64
}

// NewViewContext creates a ViewContext. Version 0 means no row exists yet.
func NewViewContext(viewInstanceID string, version uint64) ViewContext {
	return ViewContext{ViewInstanceID: viewInstanceID, Version: version}
}

// ViewRepository persists views keyed by id with an insert-or-update protocol.
type ViewRepository[V any] interface {
	// Load returns the view, false when no row exists.
	Load(ctx context.Context, viewID string) (V, bool, error)

	// LoadWithContext returns the view and its version token; the context is
	// nil when no row exists.
	LoadWithContext(ctx context.Context, viewID string) (V, *ViewContext, error)

	// UpdateView inserts the view when vc.Version is 0 and updates it otherwise,
	// writing vc.Version+1.
	UpdateView(ctx context.Context, view V, vc ViewContext) error
}

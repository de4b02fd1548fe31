package appcore

import (
	"context"

	"github.com/lllypuk/cqrskit/internal/domain/event"
)

// EventStore loads and commits the event history of aggregates of type A.
// The interface is declared here (on the consumer side - application layer),
// not in infrastructure.
type EventStore[A Aggregate] interface {
	// LoadEvents returns all events of an aggregate in ascending sequence order.
	// An aggregate without history yields an empty slice, not an error.
	LoadEvents(ctx context.Context, aggregateID string) ([]event.Envelope, error)

	// LoadAggregate returns the context for the next commit: the current
	// sequence and, depending on the store mode, the restored state.
	LoadAggregate(ctx context.Context, aggregateID string) (*AggregateContext[A], error)

	// Commit atomically appends events after actx.CurrentSequence.
	// Returns ErrConcurrencyConflict if another writer committed first.
	Commit(
		ctx context.Context,
		events []event.Event,
		actx *AggregateContext[A],
		metadata event.Metadata,
	) ([]event.Envelope, error)
}

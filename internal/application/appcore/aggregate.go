// Package appcore provides the ports of the persistence core: aggregates,
// event stores, query processors, view repositories and the error taxonomy.
package appcore

import (
	"context"

	"github.com/lllypuk/cqrskit/internal/domain/command"
	"github.com/lllypuk/cqrskit/internal/domain/event"
)

// Command is a request to change the state of an aggregate.
type Command = command.Command

// Aggregate is a consistency boundary whose state is the fold of its events.
// Implementations are expected to be pointer types so that snapshots can be
// decoded into them.
type Aggregate interface {
	// AggregateType returns the stable name of the aggregate kind
	AggregateType() string

	// Handle validates a command against the current state and returns the
	// events it produces. It must not mutate state.
	Handle(ctx context.Context, cmd Command) ([]event.Event, error)

	// Apply folds a single event into the state.
	Apply(evt event.Event)
}

// AggregateContext is returned by a load and passed back into the next commit
// as the expected-state token.
type AggregateContext[A Aggregate] struct {
	AggregateID string
	Aggregate   A

	// CurrentSequence is the highest committed sequence seen by the load
	CurrentSequence uint64

	// CurrentSnapshot is the version of the snapshot the state was restored
	// from, nil when no snapshot was used
	CurrentSnapshot *uint64

	// SnapshotSequence is the event sequence covered by CurrentSnapshot
	SnapshotSequence uint64
}

// Package eventstore persists aggregate event streams and snapshots and
// restores aggregate state from them.
package eventstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/infrastructure/codec"
)

// SerializedEvent is the storage form of a committed event.
type SerializedEvent struct {
	AggregateID   string
	AggregateType string
	Sequence      uint64
	EventType     string
	EventVersion  string
	Payload       codec.Document
	Metadata      codec.Document
}

// SerializedSnapshot is the storage form of an aggregate snapshot.
type SerializedSnapshot struct {
	AggregateID            string
	AggregateType          string
	CurrentSequence        uint64
	CurrentSnapshot        codec.Document
	CurrentSnapshotVersion uint64
}

// SnapshotUpdate describes a snapshot write performed in the same atomic unit
// as an event append.
type SnapshotUpdate struct {
	AggregateType string
	Snapshot      codec.Document

	// Sequence is the last event sequence folded into Snapshot
	Sequence uint64

	// Version is the snapshot version being written
	Version uint64

	// ExpectedVersion is the version currently stored; 0 means no row exists
	ExpectedVersion uint64
}

// EventRepository is the document-level storage port of the event store.
type EventRepository interface {
	// GetEvents returns all events of an aggregate ordered by sequence.
	GetEvents(ctx context.Context, aggregateID string) ([]SerializedEvent, error)

	// GetLastEvents returns the events with a sequence greater than afterSequence.
	GetLastEvents(ctx context.Context, aggregateID string, afterSequence uint64) ([]SerializedEvent, error)

	// GetCurrentSequence returns the highest committed sequence, 0 when none.
	GetCurrentSequence(ctx context.Context, aggregateID string) (uint64, error)

	// GetSnapshot returns the stored snapshot or nil.
	GetSnapshot(ctx context.Context, aggregateID string) (*SerializedSnapshot, error)

	// Persist appends events and writes the snapshot atomically. It fails with
	// appcore.ErrConcurrencyConflict when the stored sequence differs from
	// expectedSequence or the snapshot version moved.
	Persist(
		ctx context.Context,
		aggregateID string,
		expectedSequence uint64,
		events []SerializedEvent,
		snapshot *SnapshotUpdate,
	) error

	// ListAggregateIDs returns the ids of all aggregates of a type that have events.
	ListAggregateIDs(ctx context.Context, aggregateType string) ([]string, error)
}

// Mode selects how aggregate state is restored on load.
type Mode int

// Store modes.
const (
	// ModeEvent folds the complete history on every load.
	ModeEvent Mode = iota

	// ModeSnapshot restores from the latest snapshot plus the events after it.
	ModeSnapshot

	// ModeAggregate folds the complete history on every load, like ModeEvent;
	// it is kept as a separate name for configurations that select it.
	ModeAggregate
)

func (m Mode) String() string {
	switch m {
	case ModeEvent:
		return "event"
	case ModeSnapshot:
		return "snapshot"
	case ModeAggregate:
		return "aggregate"
	default:
		return "unknown"
	}
}

// ParseMode converts a configured mode name to a Mode.
// Names are case-insensitive.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(name) {
	case "event", "":
		return ModeEvent, nil
	case "snapshot":
		return ModeSnapshot, nil
	case "aggregate":
		return ModeAggregate, nil
	default:
		return 0, fmt.Errorf("%w: unknown event store mode %q", appcore.ErrInvalidConfiguration, name)
	}
}

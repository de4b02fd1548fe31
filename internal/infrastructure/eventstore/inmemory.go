package eventstore

import (
	"context"
	"sort"
	"sync"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/infrastructure/codec"
)

// InMemoryEventRepository реализует EventRepository в памяти для тестирования
type InMemoryEventRepository struct {
	mu        sync.RWMutex
	events    map[string][]SerializedEvent
	snapshots map[string]SerializedSnapshot
}

// NewInMemoryEventRepository создает новый in-memory репозиторий событий
func NewInMemoryEventRepository() *InMemoryEventRepository {
	return &InMemoryEventRepository{
		events:    make(map[string][]SerializedEvent),
		snapshots: make(map[string]SerializedSnapshot),
	}
}

// GetEvents возвращает все события агрегата
func (r *InMemoryEventRepository) GetEvents(_ context.Context, aggregateID string) ([]SerializedEvent, error) {
	return r.eventsAfter(aggregateID, 0), nil
}

// GetLastEvents возвращает события после указанной позиции
func (r *InMemoryEventRepository) GetLastEvents(
	_ context.Context,
	aggregateID string,
	afterSequence uint64,
) ([]SerializedEvent, error) {
	return r.eventsAfter(aggregateID, afterSequence), nil
}

func (r *InMemoryEventRepository) eventsAfter(aggregateID string, afterSequence uint64) []SerializedEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Возвращаем копию чтобы избежать race conditions
	result := make([]SerializedEvent, 0, len(r.events[aggregateID]))
	for _, rec := range r.events[aggregateID] {
		if rec.Sequence > afterSequence {
			result = append(result, cloneEvent(rec))
		}
	}
	return result
}

// GetCurrentSequence возвращает текущую позицию агрегата
func (r *InMemoryEventRepository) GetCurrentSequence(_ context.Context, aggregateID string) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.currentSequence(aggregateID), nil
}

func (r *InMemoryEventRepository) currentSequence(aggregateID string) uint64 {
	events := r.events[aggregateID]
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].Sequence
}

// GetSnapshot возвращает снапшот агрегата или nil
func (r *InMemoryEventRepository) GetSnapshot(_ context.Context, aggregateID string) (*SerializedSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot, ok := r.snapshots[aggregateID]
	if !ok {
		return nil, nil //nolint:nilnil // absent snapshot is not an error
	}
	snapshot.CurrentSnapshot = codec.Clone(snapshot.CurrentSnapshot)
	return &snapshot, nil
}

// Persist сохраняет события и снапшот под одной блокировкой
func (r *InMemoryEventRepository) Persist(
	_ context.Context,
	aggregateID string,
	expectedSequence uint64,
	events []SerializedEvent,
	snapshot *SnapshotUpdate,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Проверка optimistic locking
	if r.currentSequence(aggregateID) != expectedSequence {
		return appcore.NewPersistenceError("persist events", appcore.ErrConcurrencyConflict, nil)
	}
	for i, rec := range events {
		if rec.Sequence != expectedSequence+uint64(i)+1 {
			return appcore.NewPersistenceError("persist events", appcore.ErrConcurrencyConflict, nil)
		}
	}

	if snapshot != nil {
		stored, exists := r.snapshots[aggregateID]
		if exists != (snapshot.ExpectedVersion != 0) ||
			(exists && stored.CurrentSnapshotVersion != snapshot.ExpectedVersion) {
			return appcore.NewPersistenceError("persist snapshot", appcore.ErrConcurrencyConflict, nil)
		}
	}

	for _, rec := range events {
		r.events[aggregateID] = append(r.events[aggregateID], cloneEvent(rec))
	}

	if snapshot != nil {
		r.snapshots[aggregateID] = SerializedSnapshot{
			AggregateID:            aggregateID,
			AggregateType:          snapshot.AggregateType,
			CurrentSequence:        snapshot.Sequence,
			CurrentSnapshot:        codec.Clone(snapshot.Snapshot),
			CurrentSnapshotVersion: snapshot.Version,
		}
	}

	return nil
}

// ListAggregateIDs возвращает все ID агрегатов указанного типа
func (r *InMemoryEventRepository) ListAggregateIDs(_ context.Context, aggregateType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.events))
	for id, events := range r.events {
		if len(events) > 0 && events[0].AggregateType == aggregateType {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// Clear очищает все события и снапшоты (для тестов)
func (r *InMemoryEventRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = make(map[string][]SerializedEvent)
	r.snapshots = make(map[string]SerializedSnapshot)
}

func cloneEvent(rec SerializedEvent) SerializedEvent {
	rec.Payload = codec.Clone(rec.Payload)
	rec.Metadata = codec.Clone(rec.Metadata)
	return rec
}

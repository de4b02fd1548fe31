package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/infrastructure/codec"
)

// Default collection names.
const (
	DefaultEventsCollection    = "events"
	DefaultSnapshotsCollection = "snapshots"
)

// EventDocument represents an event in MongoDB.
type EventDocument struct {
	ID bson.ObjectID `bson:"_id,omitempty"`

	AggregateID   string    `bson:"aggregate_id"`
	AggregateType string    `bson:"aggregate_type"`
	Sequence      int64     `bson:"sequence"`
	EventType     string    `bson:"event_type"`
	EventVersion  string    `bson:"event_version"`
	Payload       bson.Raw  `bson:"payload"`
	Metadata      bson.Raw  `bson:"metadata"`
	CreatedAt     time.Time `bson:"created_at"`
}

// SnapshotDocument represents the snapshot of an aggregate in MongoDB.
type SnapshotDocument struct {
	AggregateID            string    `bson:"aggregate_id"`
	AggregateType          string    `bson:"aggregate_type"`
	CurrentSequence        int64     `bson:"current_sequence"`
	CurrentSnapshot        bson.Raw  `bson:"current_snapshot,omitempty"`
	CurrentSnapshotVersion int64     `bson:"current_snapshot_version"`
	UpdatedAt              time.Time `bson:"updated_at"`
}

// MongoEventRepository stores events and snapshots in MongoDB collections.
// Persist relies on multi-document transactions, so the server must be a
// replica set or a sharded cluster.
type MongoEventRepository struct {
	client    *mongo.Client
	events    *mongo.Collection
	snapshots *mongo.Collection
	logger    *slog.Logger
}

// MongoOption configures MongoEventRepository.
type MongoOption func(*mongoOptions)

type mongoOptions struct {
	eventsCollection    string
	snapshotsCollection string
	logger              *slog.Logger
}

// WithCollections overrides the events and snapshots collection names.
func WithCollections(events, snapshots string) MongoOption {
	return func(o *mongoOptions) {
		o.eventsCollection = events
		o.snapshotsCollection = snapshots
	}
}

// WithMongoLogger sets the logger for the repository.
func WithMongoLogger(logger *slog.Logger) MongoOption {
	return func(o *mongoOptions) {
		o.logger = logger
	}
}

// NewMongoEventRepository создает новый MongoDB репозиторий событий
func NewMongoEventRepository(client *mongo.Client, databaseName string, opts ...MongoOption) *MongoEventRepository {
	o := &mongoOptions{
		eventsCollection:    DefaultEventsCollection,
		snapshotsCollection: DefaultSnapshotsCollection,
		logger:              slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	database := client.Database(databaseName)

	return &MongoEventRepository{
		client:    client,
		events:    database.Collection(o.eventsCollection),
		snapshots: database.Collection(o.snapshotsCollection),
		logger:    o.logger,
	}
}

// GetEvents загружает все события для агрегата
func (r *MongoEventRepository) GetEvents(ctx context.Context, aggregateID string) ([]SerializedEvent, error) {
	return r.findEvents(ctx, "get events", bson.M{"aggregate_id": aggregateID})
}

// GetLastEvents загружает события после указанной позиции
func (r *MongoEventRepository) GetLastEvents(
	ctx context.Context,
	aggregateID string,
	afterSequence uint64,
) ([]SerializedEvent, error) {
	filter := bson.M{
		"aggregate_id": aggregateID,
		"sequence":     bson.M{"$gt": int64(afterSequence)}, //nolint:gosec // sequences fit in int64
	}
	return r.findEvents(ctx, "get last events", filter)
}

func (r *MongoEventRepository) findEvents(ctx context.Context, op string, filter bson.M) ([]SerializedEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}})

	cursor, err := r.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, appcore.NewPersistenceError(op, appcore.ErrConnection, err)
	}
	defer cursor.Close(ctx)

	var docs []*EventDocument
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, appcore.NewPersistenceError(op, appcore.ErrConnection, err)
	}

	events := make([]SerializedEvent, 0, len(docs))
	for _, doc := range docs {
		rec, errDecode := doc.toSerialized()
		if errDecode != nil {
			return nil, appcore.NewPersistenceError(op, appcore.ErrSerialization, errDecode)
		}
		events = append(events, rec)
	}
	return events, nil
}

// GetCurrentSequence возвращает текущую позицию агрегата
func (r *MongoEventRepository) GetCurrentSequence(ctx context.Context, aggregateID string) (uint64, error) {
	filter := bson.M{"aggregate_id": aggregateID}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "sequence", Value: -1}}).
		SetProjection(bson.M{"sequence": 1})

	var doc EventDocument
	err := r.events.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil // Нет событий еще
		}
		return 0, appcore.NewPersistenceError("get current sequence", appcore.ErrConnection, err)
	}

	return uint64(doc.Sequence), nil //nolint:gosec // sequences are positive
}

// GetSnapshot возвращает снапшот агрегата или nil
func (r *MongoEventRepository) GetSnapshot(ctx context.Context, aggregateID string) (*SerializedSnapshot, error) {
	var doc SnapshotDocument
	err := r.snapshots.FindOne(ctx, bson.M{"aggregate_id": aggregateID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil //nolint:nilnil // absent snapshot is not an error
		}
		return nil, appcore.NewPersistenceError("get snapshot", appcore.ErrConnection, err)
	}

	snapshot := &SerializedSnapshot{
		AggregateID:            doc.AggregateID,
		AggregateType:          doc.AggregateType,
		CurrentSequence:        uint64(doc.CurrentSequence),        //nolint:gosec // positive
		CurrentSnapshotVersion: uint64(doc.CurrentSnapshotVersion), //nolint:gosec // positive
	}
	if len(doc.CurrentSnapshot) > 0 {
		if snapshot.CurrentSnapshot, err = fromBSON(doc.CurrentSnapshot); err != nil {
			return nil, appcore.NewPersistenceError("get snapshot", appcore.ErrSerialization, err)
		}
	}
	return snapshot, nil
}

// Persist сохраняет события и снапшот в одной транзакции
func (r *MongoEventRepository) Persist(
	ctx context.Context,
	aggregateID string,
	expectedSequence uint64,
	events []SerializedEvent,
	snapshot *SnapshotUpdate,
) error {
	if len(events) == 0 && snapshot == nil {
		return nil
	}

	docs := make([]any, 0, len(events))
	now := time.Now().UTC()
	for _, rec := range events {
		doc, err := newEventDocument(rec, now)
		if err != nil {
			return appcore.NewPersistenceError("persist events", appcore.ErrSerialization, err)
		}
		docs = append(docs, doc)
	}

	// Запускаем сессию для транзакции
	session, err := r.client.StartSession()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to start MongoDB session for event store",
			slog.String("aggregate_id", aggregateID),
			slog.String("error", err.Error()),
		)
		return appcore.NewPersistenceError("start session", appcore.ErrConnection, err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		// 1. Проверяем текущую позицию (оптимистичная блокировка)
		current, errSeq := r.GetCurrentSequence(txCtx, aggregateID)
		if errSeq != nil {
			return nil, errSeq
		}
		if current != expectedSequence {
			return nil, appcore.NewPersistenceError("persist events", appcore.ErrConcurrencyConflict, nil)
		}

		// 2. Вставляем события (bulk)
		if len(docs) > 0 {
			if _, errInsert := r.events.InsertMany(txCtx, docs); errInsert != nil {
				return nil, wrapMongoError("persist events", errInsert)
			}
		}

		// 3. Снапшот в той же транзакции
		if snapshot != nil {
			if errSnap := r.writeSnapshot(txCtx, aggregateID, snapshot, now); errSnap != nil {
				return nil, errSnap
			}
		}

		return nil, nil //nolint:nilnil // Transaction success returns nil for both values
	})
	if err != nil {
		var persistErr *appcore.PersistenceError
		if errors.As(err, &persistErr) {
			return err
		}
		return wrapMongoError("persist events", err)
	}

	return nil
}

func (r *MongoEventRepository) writeSnapshot(
	ctx context.Context,
	aggregateID string,
	snapshot *SnapshotUpdate,
	now time.Time,
) error {
	payload, err := toBSON(snapshot.Snapshot)
	if err != nil {
		return appcore.NewPersistenceError("persist snapshot", appcore.ErrSerialization, err)
	}

	if snapshot.ExpectedVersion == 0 {
		doc := SnapshotDocument{
			AggregateID:            aggregateID,
			AggregateType:          snapshot.AggregateType,
			CurrentSequence:        int64(snapshot.Sequence), //nolint:gosec // sequences fit in int64
			CurrentSnapshot:        payload,
			CurrentSnapshotVersion: int64(snapshot.Version), //nolint:gosec // versions fit in int64
			UpdatedAt:              now,
		}
		if _, err = r.snapshots.InsertOne(ctx, doc); err != nil {
			return wrapMongoError("persist snapshot", err)
		}
		return nil
	}

	filter := bson.M{
		"aggregate_id":             aggregateID,
		"current_snapshot_version": int64(snapshot.ExpectedVersion), //nolint:gosec // versions fit in int64
	}
	update := bson.M{"$set": bson.M{
		"current_sequence":         int64(snapshot.Sequence), //nolint:gosec // sequences fit in int64
		"current_snapshot":         payload,
		"current_snapshot_version": int64(snapshot.Version), //nolint:gosec // versions fit in int64
		"updated_at":               now,
	}}

	result, err := r.snapshots.UpdateOne(ctx, filter, update)
	if err != nil {
		return wrapMongoError("persist snapshot", err)
	}
	if result.MatchedCount == 0 {
		return appcore.NewPersistenceError("persist snapshot", appcore.ErrConcurrencyConflict, nil)
	}
	return nil
}

// ListAggregateIDs возвращает все ID агрегатов указанного типа
func (r *MongoEventRepository) ListAggregateIDs(ctx context.Context, aggregateType string) ([]string, error) {
	var ids []string
	err := r.events.Distinct(ctx, "aggregate_id", bson.M{"aggregate_type": aggregateType}).Decode(&ids)
	if err != nil {
		return nil, appcore.NewPersistenceError("list aggregates", appcore.ErrConnection, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func newEventDocument(rec SerializedEvent, createdAt time.Time) (*EventDocument, error) {
	payload, err := toBSON(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload of sequence %d: %w", rec.Sequence, err)
	}
	metadata, err := toBSON(rec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("metadata of sequence %d: %w", rec.Sequence, err)
	}

	return &EventDocument{
		AggregateID:   rec.AggregateID,
		AggregateType: rec.AggregateType,
		Sequence:      int64(rec.Sequence), //nolint:gosec // sequences fit in int64
		EventType:     rec.EventType,
		EventVersion:  rec.EventVersion,
		Payload:       payload,
		Metadata:      metadata,
		CreatedAt:     createdAt,
	}, nil
}

func (d *EventDocument) toSerialized() (SerializedEvent, error) {
	payload, err := fromBSON(d.Payload)
	if err != nil {
		return SerializedEvent{}, fmt.Errorf("payload of sequence %d: %w", d.Sequence, err)
	}
	metadata, err := fromBSON(d.Metadata)
	if err != nil {
		return SerializedEvent{}, fmt.Errorf("metadata of sequence %d: %w", d.Sequence, err)
	}

	return SerializedEvent{
		AggregateID:   d.AggregateID,
		AggregateType: d.AggregateType,
		Sequence:      uint64(d.Sequence), //nolint:gosec // sequences are positive
		EventType:     d.EventType,
		EventVersion:  d.EventVersion,
		Payload:       payload,
		Metadata:      metadata,
	}, nil
}

func toBSON(doc codec.Document) (bson.Raw, error) {
	if doc == nil {
		doc = codec.Document{}
	}
	data, err := bson.Marshal(bsonValue(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document to BSON: %w", err)
	}
	return bson.Raw(data), nil
}

// bsonValue заменяет json.Number на int64 или float64, иначе BSON сохранит строку
func bsonValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = bsonValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = bsonValue(item)
		}
		return out
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		return val
	}
}

// fromBSON преобразует BSON обратно в JSON-совместимый документ
func fromBSON(raw bson.Raw) (codec.Document, error) {
	if len(raw) == 0 {
		return codec.Document{}, nil
	}

	jsonData, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal BSON to JSON: %w", err)
	}

	return codec.Unmarshal(jsonData)
}

func wrapMongoError(op string, err error) error {
	// Ошибка дублирования ключа означает конкурентную запись
	if mongo.IsDuplicateKeyError(err) {
		return appcore.NewPersistenceError(op, appcore.ErrConcurrencyConflict, err)
	}
	return appcore.NewPersistenceError(op, appcore.ErrConnection, err)
}

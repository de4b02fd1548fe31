// Package mongodb provides MongoDB infrastructure components including index management.
package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names as constants for consistency.
const (
	CollectionEvents    = "events"
	CollectionSnapshots = "snapshots"
)

// IndexDefinition describes a MongoDB index to be created.
type IndexDefinition struct {
	Collection string
	Name       string
	Keys       bson.D
	Unique     bool
}

func (d IndexDefinition) model() mongo.IndexModel {
	opts := options.Index().SetName(d.Name)
	if d.Unique {
		opts.SetUnique(true)
	}
	return mongo.IndexModel{Keys: d.Keys, Options: opts}
}

// CreateAllIndexes creates the event store indexes and the indexes of the
// given view collections. This function is idempotent - calling it multiple
// times is safe.
func CreateAllIndexes(ctx context.Context, db *mongo.Database, views ...string) error {
	return createIndexes(ctx, db, GetAllIndexDefinitions(views...))
}

// GetAllIndexDefinitions returns all index definitions for all collections.
func GetAllIndexDefinitions(views ...string) []IndexDefinition {
	var indexes []IndexDefinition

	indexes = append(indexes, GetEventIndexes()...)
	indexes = append(indexes, GetSnapshotIndexes()...)
	for _, view := range views {
		indexes = append(indexes, GetViewIndexes(view)...)
	}

	return indexes
}

// GetEventIndexes returns index definitions for the events collection (Event Store).
func GetEventIndexes() []IndexDefinition {
	return []IndexDefinition{
		{
			// Unique index for optimistic locking - prevents duplicate events for same aggregate+sequence
			Collection: CollectionEvents,
			Name:       "idx_events_aggregate_sequence_unique",
			Keys:       bson.D{{Key: "aggregate_id", Value: 1}, {Key: "sequence", Value: 1}},
			Unique:     true,
		},
		{
			// Index for listing aggregates of a type
			Collection: CollectionEvents,
			Name:       "idx_events_aggregate_type",
			Keys:       bson.D{{Key: "aggregate_type", Value: 1}, {Key: "aggregate_id", Value: 1}},
		},
	}
}

// GetSnapshotIndexes returns index definitions for the snapshots collection.
func GetSnapshotIndexes() []IndexDefinition {
	return []IndexDefinition{
		{
			// One snapshot per aggregate
			Collection: CollectionSnapshots,
			Name:       "idx_snapshots_aggregate_unique",
			Keys:       bson.D{{Key: "aggregate_id", Value: 1}},
			Unique:     true,
		},
	}
}

// GetViewIndexes returns index definitions for a view collection.
func GetViewIndexes(collection string) []IndexDefinition {
	return []IndexDefinition{
		{
			Collection: collection,
			Name:       "idx_" + collection + "_view_id_unique",
			Keys:       bson.D{{Key: "view_id", Value: 1}},
			Unique:     true,
		},
	}
}

// CreateCollectionIndexes creates indexes for a specific collection only.
// Collections other than the event store ones are treated as views.
func CreateCollectionIndexes(ctx context.Context, db *mongo.Database, collectionName string) error {
	var indexes []IndexDefinition

	switch collectionName {
	case CollectionEvents:
		indexes = GetEventIndexes()
	case CollectionSnapshots:
		indexes = GetSnapshotIndexes()
	case "":
		return fmt.Errorf("unknown collection: %q", collectionName)
	default:
		indexes = GetViewIndexes(collectionName)
	}

	return createIndexes(ctx, db, indexes)
}

func createIndexes(ctx context.Context, db *mongo.Database, indexes []IndexDefinition) error {
	for _, idx := range indexes {
		_, err := db.Collection(idx.Collection).Indexes().CreateOne(ctx, idx.model())
		if err != nil {
			return fmt.Errorf("failed to create index %s on collection %s: %w", idx.Name, idx.Collection, err)
		}
	}
	return nil
}

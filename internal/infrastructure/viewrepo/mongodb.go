package viewrepo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
)

// viewDocument is the stored shape of a view: the view itself is kept as an
// embedded document so it stays queryable.
type viewDocument struct {
	ViewID    string    `bson:"view_id"`
	Version   uint64    `bson:"version"`
	Payload   bson.Raw  `bson:"payload"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoViewRepository stores views of type V in a collection, one document per
// view id. The collection needs the unique view_id index from
// mongodb.CreateAllIndexes for inserts to detect duplicates.
type MongoViewRepository[V any] struct {
	collection   *mongo.Collection
	versionCheck bool
}

var _ appcore.ViewRepository[struct{}] = (*MongoViewRepository[struct{}])(nil)

// NewMongoViewRepository creates a repository over a collection.
func NewMongoViewRepository[V any](collection *mongo.Collection, opts ...Option) *MongoViewRepository[V] {
	o := buildOptions(opts)
	return &MongoViewRepository[V]{
		collection:   collection,
		versionCheck: o.versionCheck,
	}
}

// Load returns the view, false when no document exists.
func (r *MongoViewRepository[V]) Load(ctx context.Context, viewID string) (V, bool, error) {
	view, vc, err := r.LoadWithContext(ctx, viewID)
	return view, vc != nil, err
}

// LoadWithContext returns the view and its version token.
func (r *MongoViewRepository[V]) LoadWithContext(ctx context.Context, viewID string) (V, *appcore.ViewContext, error) {
	var zero V

	var doc viewDocument
	err := r.collection.FindOne(ctx, bson.M{"view_id": viewID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return zero, nil, nil
	}
	if err != nil {
		return zero, nil, appcore.NewPersistenceError("load view", appcore.ErrConnection, err)
	}

	var view V
	if err = bson.Unmarshal(doc.Payload, &view); err != nil {
		return zero, nil, appcore.NewPersistenceError("load view", appcore.ErrSerialization, err)
	}

	vc := appcore.NewViewContext(viewID, doc.Version)
	return view, &vc, nil
}

// UpdateView inserts or replaces the view document depending on vc.Version.
func (r *MongoViewRepository[V]) UpdateView(ctx context.Context, view V, vc appcore.ViewContext) error {
	payload, err := bson.Marshal(view)
	if err != nil {
		return appcore.NewPersistenceError("update view", appcore.ErrSerialization, err)
	}

	now := time.Now().UTC()

	if vc.Version == 0 {
		_, err = r.collection.InsertOne(ctx, viewDocument{
			ViewID:    vc.ViewInstanceID,
			Version:   1,
			Payload:   payload,
			UpdatedAt: now,
		})
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return appcore.NewPersistenceError("insert view", appcore.ErrConcurrencyConflict, err)
			}
			return appcore.NewPersistenceError("insert view", appcore.ErrConnection, err)
		}
		return nil
	}

	filter := bson.M{"view_id": vc.ViewInstanceID}
	if r.versionCheck {
		filter["version"] = vc.Version
	}
	update := bson.M{"$set": bson.M{
		"version":    vc.Version + 1,
		"payload":    payload,
		"updated_at": now,
	}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return appcore.NewPersistenceError("update view", appcore.ErrConnection, err)
	}
	if result.MatchedCount == 0 {
		if r.versionCheck {
			return appcore.NewPersistenceError("update view", appcore.ErrConcurrencyConflict, nil)
		}
		return errRowMissing("update view")
	}
	return nil
}

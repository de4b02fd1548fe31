//go:build integration

package eventstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	customerapp "github.com/lllypuk/cqrskit/internal/application/customer"
	"github.com/lllypuk/cqrskit/internal/domain/customer"
	"github.com/lllypuk/cqrskit/internal/domain/event"
	"github.com/lllypuk/cqrskit/internal/infrastructure/eventstore"
	"github.com/lllypuk/cqrskit/internal/infrastructure/mongodb"
	"github.com/lllypuk/cqrskit/tests/testutil"
)

func setupMongoRepository(t *testing.T) *eventstore.MongoEventRepository {
	t.Helper()

	client, db := testutil.SetupSharedTestMongoDBWithClient(t)
	require.NoError(t, mongodb.CreateAllIndexes(context.Background(), db))

	return eventstore.NewMongoEventRepository(client, db.Name())
}

func TestMongoEventRepository_Contract(t *testing.T) {
	for _, tc := range repositoryContract {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, setupMongoRepository(t))
		})
	}
}

func TestMongoEventRepository_SnapshotStoreRoundTrip(t *testing.T) {
	// Arrange
	ctx := testutil.NewTestContext(t)
	repo := setupMongoRepository(t)
	store := eventstore.NewSnapshotStore(repo, customerapp.NewRegistry(), customer.New, 1,
		eventstore.WithUpcasters(customerapp.NewUpcasterPipeline()))
	id := testutil.NewAggregateID()

	actx, err := store.LoadAggregate(ctx, id)
	require.NoError(t, err)

	// Act
	_, err = store.Commit(ctx, []event.Event{
		&customer.NameAdded{Name: "John"},
		&customer.EmailUpdated{NewEmail: "john@example.com"},
	}, actx, testutil.MetadataFixture())
	require.NoError(t, err)

	reloaded, err := store.LoadAggregate(ctx, id)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint64(2), reloaded.CurrentSequence)
	require.NotNil(t, reloaded.CurrentSnapshot)
	assert.Equal(t, uint64(1), *reloaded.CurrentSnapshot)
	assert.Equal(t, "John", reloaded.Aggregate.Name())
	assert.Equal(t, "john@example.com", reloaded.Aggregate.Email())
}

func TestMongoEventRepository_ConcurrentCommitConflict(t *testing.T) {
	// Arrange
	ctx := testutil.NewTestContext(t)
	store := eventstore.NewEventStore(setupMongoRepository(t), customerapp.NewRegistry(), customer.New)
	id := testutil.NewAggregateID()

	first, err := store.LoadAggregate(ctx, id)
	require.NoError(t, err)
	second, err := store.LoadAggregate(ctx, id)
	require.NoError(t, err)

	// Act
	_, err = store.Commit(ctx, []event.Event{&customer.NameAdded{Name: "A"}}, first, event.Metadata{})
	require.NoError(t, err)
	_, err = store.Commit(ctx, []event.Event{&customer.NameAdded{Name: "B"}}, second, event.Metadata{})

	// Assert
	require.ErrorIs(t, err, appcore.ErrConcurrencyConflict)
	events, err := store.LoadEvents(ctx, id)
	require.NoError(t, err)
	testutil.AssertContiguousSequences(t, events, id, 1)
	assert.Len(t, events, 1)
}

package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoDB test configuration constants
const (
	mongoCtxTimeout                = 30 * time.Second
	mongoContainerStartupTimeout   = 60 * time.Second
	mongoContainerTerminateTimeout = 10 * time.Second
	mongoPingTimeout               = 2 * time.Second
	mongoPrimaryWaitTimeout        = 30 * time.Second
	maxTestNameLength              = 40
	mongoReplicaSet                = "rs0"
)

// SetupTestMongoDB connects to an externally managed MongoDB replica set
// (TEST_MONGODB_URI) and returns an isolated database. The test is skipped
// when the variable is not set; use SetupSharedTestMongoDB for a container.
func SetupTestMongoDB(t *testing.T) *mongo.Database {
	t.Helper()

	uri := os.Getenv("TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("TEST_MONGODB_URI not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoCtxTimeout)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}

	// Проверка соединения
	if err = client.Ping(ctx, nil); err != nil {
		t.Fatalf("Failed to ping MongoDB: %v", err)
	}

	// Создаем тестовую БД с уникальным именем
	db := client.Database(generateTestDBName(t.Name()))

	// Cleanup: удаляем БД после теста
	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), mongoCtxTimeout)
		defer cleanupCancel()
		_ = db.Drop(cleanupCtx)
		_ = client.Disconnect(cleanupCtx)
	})

	return db
}

package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// pingRetryDelay is the delay between ping retries when connecting to MongoDB.
const pingRetryDelay = 500 * time.Millisecond

// sharedMongoContainer holds the singleton MongoDB container
var (
	sharedContainer     *SharedMongoContainer
	sharedContainerOnce sync.Once
	errSharedContainer  error
)

// SharedMongoContainer represents a reusable single-node MongoDB replica set.
// The event store commits in multi-document transactions, which MongoDB only
// supports on replica sets.
type SharedMongoContainer struct {
	Container testcontainers.Container
	URI       string
}

// GetSharedMongoContainer returns a singleton MongoDB container.
// The container is started once and reused across all tests.
func GetSharedMongoContainer(ctx context.Context) (*SharedMongoContainer, error) {
	sharedContainerOnce.Do(func() {
		container, err := startMongoContainer(ctx)
		if err != nil {
			errSharedContainer = err
			return
		}
		sharedContainer = container
	})

	return sharedContainer, errSharedContainer
}

// startMongoContainer starts a new MongoDB container and initiates the replica set
func startMongoContainer(ctx context.Context) (*SharedMongoContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        "mongo:8",
		Name:         "cqrskit-test-mongodb", // Required for Reuse mode
		ExposedPorts: []string{"27017/tcp"},
		Cmd:          []string{"--replSet", mongoReplicaSet, "--bind_ip_all"},
		WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(mongoContainerStartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
		Reuse:            true, // Enable container reuse across test runs
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start MongoDB container: %w", err)
	}

	// Reused containers are already initiated; rs.status() succeeds there.
	initScript := fmt.Sprintf(
		"try { rs.status() } catch (e) { rs.initiate({_id: '%s', members: [{_id: 0, host: 'localhost:27017'}]}) }",
		mongoReplicaSet,
	)
	if _, _, err = container.Exec(ctx, []string{"mongosh", "--quiet", "--eval", initScript}); err != nil {
		return nil, fmt.Errorf("failed to initiate replica set: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "27017")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	uri := fmt.Sprintf("mongodb://%s/?directConnection=true", net.JoinHostPort(host, port.Port()))

	if err = waitForPrimary(ctx, uri); err != nil {
		return nil, err
	}

	return &SharedMongoContainer{
		Container: container,
		URI:       uri,
	}, nil
}

// waitForPrimary blocks until the replica set member accepts writes
func waitForPrimary(ctx context.Context, uri string) error {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	deadline := time.Now().Add(mongoPrimaryWaitTimeout)
	for time.Now().Before(deadline) {
		var hello struct {
			IsWritablePrimary bool `bson:"isWritablePrimary"`
		}
		helloCtx, cancel := context.WithTimeout(ctx, mongoPingTimeout)
		err = client.Database("admin").RunCommand(helloCtx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello)
		cancel()
		if err == nil && hello.IsWritablePrimary {
			return nil
		}
		time.Sleep(pingRetryDelay)
	}

	return fmt.Errorf("replica set did not elect a primary within %s", mongoPrimaryWaitTimeout)
}

// SetupSharedTestMongoDB creates a test database using the shared MongoDB container.
// Each test gets its own isolated database within the shared container.
// An external replica set named by TEST_MONGODB_URI takes precedence.
func SetupSharedTestMongoDB(t *testing.T) *mongo.Database {
	t.Helper()

	if os.Getenv("TEST_MONGODB_URI") != "" {
		return SetupTestMongoDB(t)
	}

	_, db := SetupSharedTestMongoDBWithClient(t)
	return db
}

// SetupSharedTestMongoDBWithClient creates a test database and returns both client and database.
// Uses the shared MongoDB container for faster test execution.
func SetupSharedTestMongoDBWithClient(t *testing.T) (*mongo.Client, *mongo.Database) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), mongoCtxTimeout)
	defer cancel()

	container, err := GetSharedMongoContainer(ctx)
	if err != nil {
		t.Fatalf("Failed to get shared MongoDB container: %v", err)
	}

	// Connect to MongoDB
	client, err := mongo.Connect(options.Client().ApplyURI(container.URI))
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}

	// Ping with retries
	maxRetries := 5
	for i := range maxRetries {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), mongoPingTimeout)
		err = client.Ping(pingCtx, nil)
		pingCancel()
		if err == nil {
			break
		}
		if i < maxRetries-1 {
			time.Sleep(pingRetryDelay)
		}
	}
	if err != nil {
		t.Fatalf("Failed to ping MongoDB after %d retries: %v", maxRetries, err)
	}

	// Create unique database name for test isolation
	db := client.Database(generateTestDBName(t.Name()))

	// Cleanup: drop database and disconnect after test
	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), mongoCtxTimeout)
		defer cleanupCancel()
		_ = db.Drop(cleanupCtx)
		_ = client.Disconnect(cleanupCtx)
	})

	return client, db
}

// generateTestDBName creates a unique database name from test name
func generateTestDBName(testName string) string {
	testName = strings.NewReplacer("/", "_", " ", "_", ".", "_").Replace(testName)
	if len(testName) > maxTestNameLength {
		// Use hash for long test names (MongoDB limit: 63 chars)
		hash := sha256.Sum256([]byte(testName))
		testName = testName[:20] + "_" + hex.EncodeToString(hash[:])[:12]
	}
	return "cqrskit_test_" + testName
}

// CleanupSharedContainer terminates the shared container.
// Note: With Reuse=true, the container may persist for faster subsequent runs.
func CleanupSharedContainer() {
	if sharedContainer != nil && sharedContainer.Container != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mongoContainerTerminateTimeout)
		defer cancel()
		_ = sharedContainer.Container.Terminate(ctx)
	}
}

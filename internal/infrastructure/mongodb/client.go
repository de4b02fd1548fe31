package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
)

// Connection defaults.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxPoolSize = 100
)

// ConnectOptions configures a MongoDB client.
type ConnectOptions struct {
	URI         string
	Timeout     time.Duration
	MaxPoolSize uint64
}

// Connect establishes a connection to MongoDB and verifies it with a ping.
// The client is owned by the caller, who must disconnect it.
func Connect(ctx context.Context, opts ConnectOptions) (*mongo.Client, error) {
	if opts.URI == "" {
		return nil, fmt.Errorf("%w: mongodb uri is required", appcore.ErrInvalidConfiguration)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	poolSize := opts.MaxPoolSize
	if poolSize == 0 {
		poolSize = DefaultMaxPoolSize
	}

	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetMaxPoolSize(poolSize)

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, appcore.NewPersistenceError("connect mongodb", appcore.ErrConnection, err)
	}

	// Ping to verify connection
	pingCtx, pingCancel := context.WithTimeout(ctx, timeout)
	defer pingCancel()

	if err = client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, appcore.NewPersistenceError("ping mongodb", appcore.ErrConnection, err)
	}

	return client, nil
}

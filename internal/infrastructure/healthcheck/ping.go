// Package healthcheck implements component health checks for the worker.
package healthcheck

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
)

// PingFunc probes a dependency.
type PingFunc func(ctx context.Context) error

// PingChecker reports a dependency healthy when its ping succeeds.
type PingChecker struct {
	name    string
	ping    PingFunc
	timeout time.Duration
}

// DefaultPingTimeout bounds a single probe.
const DefaultPingTimeout = 2 * time.Second

// NewPingChecker creates a checker from an arbitrary probe.
func NewPingChecker(name string, ping PingFunc) *PingChecker {
	return &PingChecker{name: name, ping: ping, timeout: DefaultPingTimeout}
}

// NewSQLChecker checks a database/sql pool.
func NewSQLChecker(db *sql.DB) *PingChecker {
	return NewPingChecker("sql", db.PingContext)
}

// NewMongoChecker checks a MongoDB client.
func NewMongoChecker(client *mongo.Client) *PingChecker {
	return NewPingChecker("mongodb", func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	})
}

// NewRedisChecker checks a Redis client.
func NewRedisChecker(client *redis.Client) *PingChecker {
	return NewPingChecker("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// Name returns the name of this health checker.
func (c *PingChecker) Name() string {
	return c.name
}

// Check performs the health check.
func (c *PingChecker) Check(ctx context.Context) appcore.HealthStatus {
	pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	if err := c.ping(pingCtx); err != nil {
		return appcore.HealthStatus{
			Healthy:   false,
			Message:   fmt.Sprintf("ping failed: %v", err),
			CheckedAt: time.Now(),
		}
	}

	return appcore.HealthStatus{
		Healthy:   true,
		Message:   "ok",
		Details:   map[string]any{"latency_ms": time.Since(start).Milliseconds()},
		CheckedAt: time.Now(),
	}
}

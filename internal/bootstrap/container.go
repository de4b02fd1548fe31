// Package bootstrap wires the persistence core from configuration and manages
// the lifecycle of the connection pools it opens.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/application/cqrs"
	customerapp "github.com/lllypuk/cqrskit/internal/application/customer"
	"github.com/lllypuk/cqrskit/internal/config"
	"github.com/lllypuk/cqrskit/internal/domain/customer"
	"github.com/lllypuk/cqrskit/internal/infrastructure/database"
	"github.com/lllypuk/cqrskit/internal/infrastructure/eventbus"
	"github.com/lllypuk/cqrskit/internal/infrastructure/eventstore"
	"github.com/lllypuk/cqrskit/internal/infrastructure/healthcheck"
	"github.com/lllypuk/cqrskit/internal/infrastructure/metrics"
	mongodbinfra "github.com/lllypuk/cqrskit/internal/infrastructure/mongodb"
	"github.com/lllypuk/cqrskit/internal/infrastructure/projector"
	"github.com/lllypuk/cqrskit/internal/infrastructure/viewrepo"
)

// Container initialization timeouts.
const (
	containerInitTimeout   = 30 * time.Second
	redisPingTimeout       = 5 * time.Second
	mongoDisconnectTimeout = 10 * time.Second
)

// Container holds the wired components and the pools they share.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	// Pools, nil when the backend does not use them
	SQL     *sql.DB
	Dialect database.Dialect
	MongoDB *mongo.Client
	Redis   *redis.Client

	// Metrics
	Registry     *prometheus.Registry
	StoreMetrics *metrics.StoreMetrics
	ViewMetrics  *metrics.ViewMetrics

	// Persistence core
	EventRepo     eventstore.EventRepository
	CustomerStore *eventstore.PersistedEventStore[*customer.Customer]
	CustomerViews appcore.ViewRepository[*customerapp.View]
	CustomerQuery *projector.GenericQuery[*customerapp.View]
	EventBus      *eventbus.RedisEventBus
	Framework     *cqrs.Framework[*customer.Customer]

	Health *healthcheck.Registry
}

// ContainerOption configures the Container.
type ContainerOption func(*Container)

// WithLogger sets a custom logger for the container.
func WithLogger(logger *slog.Logger) ContainerOption {
	return func(c *Container) {
		c.Logger = logger
	}
}

// WithRegistry sets the Prometheus registry metrics are registered with.
func WithRegistry(registry *prometheus.Registry) ContainerOption {
	return func(c *Container) {
		c.Registry = registry
	}
}

// NewContainer opens the pools named by cfg and wires the customer stack on top.
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
	}

	ctx, cancel := context.WithTimeout(ctx, containerInitTimeout)
	defer cancel()

	if err := c.setupInfrastructure(ctx); err != nil {
		// Clean up any partially initialized resources
		_ = c.Close()
		return nil, fmt.Errorf("failed to setup infrastructure: %w", err)
	}

	if err := c.setupPersistence(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to setup persistence: %w", err)
	}

	c.setupHealth()

	c.Logger.InfoContext(ctx, "container initialized",
		slog.String("backend", cfg.EventStore.Backend),
		slog.String("mode", c.CustomerStore.Mode().String()),
		slog.Bool("eventbus", c.EventBus != nil),
	)

	return c, nil
}

func (c *Container) setupInfrastructure(ctx context.Context) error {
	c.StoreMetrics = metrics.NewStoreMetrics(c.Registry)
	c.ViewMetrics = metrics.NewViewMetrics(c.Registry)

	switch {
	case c.Config.UsesSQL():
		if err := c.setupSQL(ctx); err != nil {
			return fmt.Errorf("sql: %w", err)
		}
	case c.Config.UsesMongoDB():
		if err := c.setupMongoDB(ctx); err != nil {
			return fmt.Errorf("mongodb: %w", err)
		}
	}

	if c.Config.UsesRedis() {
		if err := c.setupRedis(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	return nil
}

func (c *Container) setupSQL(ctx context.Context) error {
	db, dialect, err := database.Open(ctx, database.Options{
		Driver:          c.Config.Database.Driver,
		DSN:             c.Config.Database.DSN,
		MaxOpenConns:    c.Config.Database.MaxOpenConns,
		MaxIdleConns:    c.Config.Database.MaxIdleConns,
		ConnMaxLifetime: c.Config.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}

	c.SQL = db
	c.Dialect = dialect

	c.Logger.InfoContext(ctx, "connected to SQL database",
		slog.String("driver", c.Config.Database.Driver),
		slog.String("dialect", string(dialect)),
	)

	return nil
}

func (c *Container) setupMongoDB(ctx context.Context) error {
	client, err := mongodbinfra.Connect(ctx, mongodbinfra.ConnectOptions{
		URI:         c.Config.MongoDB.URI,
		Timeout:     c.Config.MongoDB.Timeout,
		MaxPoolSize: c.Config.MongoDB.MaxPoolSize,
	})
	if err != nil {
		return err
	}

	c.MongoDB = client

	c.Logger.InfoContext(ctx, "connected to MongoDB",
		slog.String("database", c.Config.MongoDB.Database),
	)

	return nil
}

func (c *Container) setupRedis(ctx context.Context) error {
	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
		PoolSize: c.Config.Redis.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if pingErr := c.Redis.Ping(pingCtx).Err(); pingErr != nil {
		return appcore.NewPersistenceError("redis ping", appcore.ErrConnection, pingErr)
	}

	c.Logger.InfoContext(ctx, "connected to Redis", slog.String("addr", c.Config.Redis.Addr))

	return nil
}

func (c *Container) setupPersistence() error {
	mode, err := eventstore.ParseMode(c.Config.EventStore.Mode)
	if err != nil {
		return err
	}

	var viewOpts []viewrepo.Option
	if c.Config.Views.VersionCheck {
		viewOpts = append(viewOpts, viewrepo.WithVersionCheck())
	}

	switch {
	case c.SQL != nil:
		c.EventRepo = eventstore.NewSQLEventRepository(c.SQL, c.Dialect,
			eventstore.WithEventsTable(c.Config.EventStore.EventsTable),
			eventstore.WithSnapshotsTable(c.Config.EventStore.SnapshotsTable),
		)
		views, viewErr := viewrepo.NewSQLViewRepository[*customerapp.View](c.SQL, c.Dialect, customerapp.ViewName, viewOpts...)
		if viewErr != nil {
			return viewErr
		}
		c.CustomerViews = views

	case c.MongoDB != nil:
		c.EventRepo = eventstore.NewMongoEventRepository(c.MongoDB, c.Config.MongoDB.Database,
			eventstore.WithMongoLogger(c.Logger),
		)
		coll := c.MongoDB.Database(c.Config.MongoDB.Database).Collection(customerapp.ViewName)
		c.CustomerViews = viewrepo.NewMongoViewRepository[*customerapp.View](coll, viewOpts...)

	default:
		c.EventRepo = eventstore.NewInMemoryEventRepository()
		c.CustomerViews = viewrepo.NewInMemoryViewRepository[*customerapp.View](viewOpts...)
	}

	c.CustomerStore = eventstore.NewStore(
		c.EventRepo,
		customerapp.NewRegistry(),
		customer.New,
		mode,
		c.Config.EventStore.SnapshotSize,
		eventstore.WithUpcasters(customerapp.NewUpcasterPipeline()),
		eventstore.WithLogger(c.Logger),
		eventstore.WithMetrics(c.StoreMetrics),
	)

	c.CustomerQuery = projector.NewGenericQuery[*customerapp.View](
		customerapp.ViewName,
		c.CustomerViews,
		customerapp.NewView,
		projector.WithLogger(c.Logger),
		projector.WithMetrics(c.ViewMetrics),
	)

	queries := []appcore.Query{c.CustomerQuery}
	if c.Redis != nil {
		c.EventBus = eventbus.NewRedisEventBus(c.Redis,
			eventbus.WithLogger(c.Logger),
			eventbus.WithChannelPrefix(c.Config.EventBus.RedisChannelPrefix),
			eventbus.WithMetrics(c.ViewMetrics),
		)
		queries = append(queries, c.EventBus.Publisher(c.CustomerStore.AggregateType()))
	}

	c.Framework = cqrs.NewFramework[*customer.Customer](c.CustomerStore, queries, cqrs.WithLogger(c.Logger))

	return nil
}

func (c *Container) setupHealth() {
	var checkers []appcore.HealthChecker
	if c.SQL != nil {
		checkers = append(checkers, healthcheck.NewSQLChecker(c.SQL))
	}
	if c.MongoDB != nil {
		checkers = append(checkers, healthcheck.NewMongoChecker(c.MongoDB))
	}
	if c.Redis != nil {
		checkers = append(checkers, healthcheck.NewRedisChecker(c.Redis))
	}
	checkers = append(checkers,
		healthcheck.NewViewSyncChecker(c.CustomerQuery, c.CustomerStore, healthcheck.DefaultSampleSize),
	)

	c.Health = healthcheck.NewRegistry(checkers...)
}

// Migrate creates the tables (or collections and indexes) of the configured backend.
func (c *Container) Migrate(ctx context.Context) error {
	views := c.Config.Views.Tables

	switch {
	case c.SQL != nil:
		return database.Migrate(ctx, c.SQL, c.Dialect, database.Tables{
			Events:    c.Config.EventStore.EventsTable,
			Snapshots: c.Config.EventStore.SnapshotsTable,
			Views:     views,
		})
	case c.MongoDB != nil:
		return mongodbinfra.CreateAllIndexes(ctx, c.MongoDB.Database(c.Config.MongoDB.Database), views...)
	default:
		return nil
	}
}

// Close releases every pool the container opened.
func (c *Container) Close() error {
	c.Logger.Info("closing container resources...")

	var errs []error

	if c.EventBus != nil {
		if err := c.EventBus.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("event bus shutdown: %w", err))
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		} else {
			c.Logger.Debug("redis connection closed")
		}
	}

	if c.MongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		defer cancel()

		if err := c.MongoDB.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect: %w", err))
		} else {
			c.Logger.Debug("mongodb connection closed")
		}
	}

	if c.SQL != nil {
		if err := c.SQL.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sql close: %w", err))
		} else {
			c.Logger.Debug("sql connection closed")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during cleanup: %w", errors.Join(errs...))
	}

	return nil
}

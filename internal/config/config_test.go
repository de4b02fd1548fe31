package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lllypuk/cqrskit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, config.DefaultHost, cfg.Server.Host)
	assert.Equal(t, config.DefaultPort, cfg.Server.Port)
	assert.Equal(t, config.DefaultReadTimeout, cfg.Server.ReadTimeout)
	assert.Equal(t, config.DefaultShutdownTimeout, cfg.Server.ShutdownTimeout)

	// Event store defaults
	assert.Equal(t, config.BackendSQL, cfg.EventStore.Backend)
	assert.Equal(t, "snapshot", cfg.EventStore.Mode)
	assert.Equal(t, uint64(config.DefaultSnapshotSize), cfg.EventStore.SnapshotSize)
	assert.Equal(t, "events", cfg.EventStore.EventsTable)
	assert.Equal(t, "snapshots", cfg.EventStore.SnapshotsTable)

	// Database defaults
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.NotEmpty(t, cfg.Database.DSN)
	assert.Equal(t, config.DefaultDatabaseMaxOpenConns, cfg.Database.MaxOpenConns)

	// MongoDB defaults
	assert.Equal(t, "cqrskit", cfg.MongoDB.Database)
	assert.Equal(t, uint64(config.DefaultMongoDBMaxPoolSize), cfg.MongoDB.MaxPoolSize)

	// Views
	assert.Equal(t, []string{"customer_view"}, cfg.Views.Tables)
	assert.False(t, cfg.Views.VersionCheck)

	// EventBus defaults
	assert.Equal(t, "redis", cfg.EventBus.Type)
	assert.Equal(t, "events:", cfg.EventBus.RedisChannelPrefix)

	// Log defaults
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	require.NoError(t, cfg.Validate())
}

func TestServerConfig_Address(t *testing.T) {
	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 9191}
	assert.Equal(t, "127.0.0.1:9191", cfg.Address())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
		wantMsg string
	}{
		{
			name:    "unknown backend",
			modify:  func(c *config.Config) { c.EventStore.Backend = "cassandra" },
			wantErr: config.ErrInvalidBackend,
		},
		{
			name:    "unknown mode",
			modify:  func(c *config.Config) { c.EventStore.Mode = "replay" },
			wantErr: config.ErrInvalidStoreMode,
		},
		{
			name: "snapshot mode with zero size",
			modify: func(c *config.Config) {
				c.EventStore.Mode = "snapshot"
				c.EventStore.SnapshotSize = 0
			},
			wantMsg: "snapshot_size",
		},
		{
			name:    "unknown sql driver",
			modify:  func(c *config.Config) { c.Database.Driver = "oracle" },
			wantErr: config.ErrInvalidDriver,
		},
		{
			name:    "sql backend without dsn",
			modify:  func(c *config.Config) { c.Database.DSN = "" },
			wantMsg: "database.dsn is required",
		},
		{
			name: "mongodb backend without uri",
			modify: func(c *config.Config) {
				c.EventStore.Backend = config.BackendMongoDB
				c.MongoDB.URI = ""
			},
			wantMsg: "mongodb.uri is required",
		},
		{
			name: "mongodb backend without database",
			modify: func(c *config.Config) {
				c.EventStore.Backend = config.BackendMongoDB
				c.MongoDB.Database = ""
			},
			wantMsg: "mongodb.database is required",
		},
		{
			name:    "redis bus without addr",
			modify:  func(c *config.Config) { c.Redis.Addr = "" },
			wantMsg: "redis.addr is required",
		},
		{
			name:    "invalid event bus type",
			modify:  func(c *config.Config) { c.EventBus.Type = "kafka" },
			wantErr: config.ErrInvalidEventBusType,
		},
		{
			name:    "invalid port",
			modify:  func(c *config.Config) { c.Server.Port = 70000 },
			wantMsg: "server.port",
		},
		{
			name:    "non-positive read timeout",
			modify:  func(c *config.Config) { c.Server.ReadTimeout = 0 },
			wantMsg: "server.read_timeout",
		},
		{
			name:    "invalid log level",
			modify:  func(c *config.Config) { c.Log.Level = "trace" },
			wantErr: config.ErrInvalidLogLevel,
		},
		{
			name:    "invalid log format",
			modify:  func(c *config.Config) { c.Log.Format = "xml" },
			wantErr: config.ErrInvalidLogFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			require.ErrorIs(t, err, config.ErrConfigInvalid)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestConfig_Validate_BackendSpecificSections(t *testing.T) {
	t.Run("inmemory backend ignores database and mongodb", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.EventStore.Backend = config.BackendInMemory
		cfg.Database.DSN = ""
		cfg.MongoDB.URI = ""

		require.NoError(t, cfg.Validate())
	})

	t.Run("none bus ignores redis", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.EventBus.Type = "none"
		cfg.Redis.Addr = ""

		require.NoError(t, cfg.Validate())
		assert.False(t, cfg.UsesRedis())
	})

	t.Run("event mode allows zero snapshot size", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.EventStore.Mode = "event"
		cfg.EventStore.SnapshotSize = 0

		require.NoError(t, cfg.Validate())
	})
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.False(t, cfg.IsDevelopment())

	cfg.Log.Level = "debug"
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFromPath_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
app:
  name: "billing"

eventstore:
  backend: "mongodb"
  mode: "aggregate"
  snapshot_size: 25

mongodb:
  uri: "mongodb://testhost:27017/?replicaSet=rs0"
  database: "testdb"
  timeout: 5s
  max_pool_size: 50

views:
  tables: ["customer_view", "order_view"]
  version_check: true

server:
  port: 9191
  read_timeout: 45s

log:
  level: "debug"
  format: "text"

eventbus:
  type: "none"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := config.LoadFromPath(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "billing", cfg.App.Name)
	assert.Equal(t, config.BackendMongoDB, cfg.EventStore.Backend)
	assert.Equal(t, "aggregate", cfg.EventStore.Mode)
	assert.Equal(t, uint64(25), cfg.EventStore.SnapshotSize)
	assert.Equal(t, "events", cfg.EventStore.EventsTable, "unset keys keep defaults")

	assert.Equal(t, "mongodb://testhost:27017/?replicaSet=rs0", cfg.MongoDB.URI)
	assert.Equal(t, 5*time.Second, cfg.MongoDB.Timeout)
	assert.Equal(t, uint64(50), cfg.MongoDB.MaxPoolSize)

	assert.Equal(t, []string{"customer_view", "order_view"}, cfg.Views.Tables)
	assert.True(t, cfg.Views.VersionCheck)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "none", cfg.EventBus.Type)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	cfg, err := config.LoadFromPath("/non/existent/path/config.yaml")
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestLoadFromPath_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidContent := `
server:
  host: "localhost"
  port: this-is-not-a-number
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0o644)
	require.NoError(t, err)

	cfg, err := config.LoadFromPath(configPath)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadFromPath_InvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("eventstore:\n  backend: \"etcd\"\n"), 0o644)
	require.NoError(t, err)

	cfg, err := config.LoadFromPath(configPath)
	require.ErrorIs(t, err, config.ErrInvalidBackend)
	assert.Nil(t, cfg)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "3333")
	t.Setenv("EVENTSTORE_MODE", "event")
	t.Setenv("EVENTSTORE_SNAPSHOT_SIZE", "7")
	t.Setenv("DATABASE_DSN", "postgres://env-host/db")
	t.Setenv("DATABASE_DRIVER", "pgx")
	t.Setenv("VIEWS_TABLES", "a_view, b_view,")
	t.Setenv("VIEWS_VERSION_CHECK", "true")
	t.Setenv("LOG_LEVEL", "warn")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	minimalConfig := `
server:
  port: 8080
eventstore:
  mode: "snapshot"
`
	err := os.WriteFile(configPath, []byte(minimalConfig), 0o644)
	require.NoError(t, err)

	cfg, err := config.LoadFromPath(configPath)
	require.NoError(t, err)

	// Env vars should override file values
	assert.Equal(t, 3333, cfg.Server.Port)
	assert.Equal(t, "event", cfg.EventStore.Mode)
	assert.Equal(t, uint64(7), cfg.EventStore.SnapshotSize)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, "postgres://env-host/db", cfg.Database.DSN)
	assert.Equal(t, []string{"a_view", "b_view"}, cfg.Views.Tables)
	assert.True(t, cfg.Views.VersionCheck)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_LoadFromEnv_Duration(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("MONGODB_TIMEOUT", "2m30s")

	cfg, err := config.NewLoader().WithConfigPaths(nil).Load("")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute+30*time.Second, cfg.MongoDB.Timeout)
}

func TestLoader_LoadFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantMsg string
	}{
		{name: "duration", key: "SERVER_READ_TIMEOUT", value: "not-a-duration", wantMsg: "invalid duration"},
		{name: "integer", key: "SERVER_PORT", value: "eighty", wantMsg: "invalid integer"},
		{name: "unsigned", key: "EVENTSTORE_SNAPSHOT_SIZE", value: "-1", wantMsg: "invalid unsigned integer"},
		{name: "boolean", key: "VIEWS_VERSION_CHECK", value: "maybe", wantMsg: "invalid boolean"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_PATH", "")
			t.Setenv(tt.key, tt.value)

			cfg, err := config.NewLoader().WithConfigPaths(nil).Load("")
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoader_ConfigPathEnvVar(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom-config.yaml")
	configContent := `
server:
  host: "config-path-host"
  port: 7777
eventstore:
  backend: "inmemory"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	require.NoError(t, err)

	t.Setenv("CONFIG_PATH", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "config-path-host", cfg.Server.Host)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, config.BackendInMemory, cfg.EventStore.Backend)
}

func TestLoader_WithConfigPaths(t *testing.T) {
	tmpDir := t.TempDir()
	first := filepath.Join(tmpDir, "missing.yaml")
	second := filepath.Join(tmpDir, "found.yaml")
	require.NoError(t, os.WriteFile(second, []byte("app:\n  name: \"found\"\n"), 0o644))

	t.Setenv("CONFIG_PATH", "")

	cfg, err := config.NewLoader().WithConfigPaths([]string{first, second}).Load("")
	require.NoError(t, err)
	assert.Equal(t, "found", cfg.App.Name)
}

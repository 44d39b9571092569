package migrations

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) *MigrationConfig {
	t.Helper()
	return &MigrationConfig{
		Driver:  "sqlite",
		DSN:     ":memory:",
		Dialect: "sqlite3",
		Dir:     "../../../migrations",
		Table:   "goose_db_version",
		Timeout: 5 * time.Minute,
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
}

func TestMigrationManager_Connect(t *testing.T) {
	manager, err := NewMigrationManager(newTestConfig(t))
	require.NoError(t, err)

	ctx := context.Background()

	err = manager.Connect(ctx)
	assert.NoError(t, err)

	err = manager.Disconnect(ctx)
	assert.NoError(t, err)
}

func TestMigrationManager_Status(t *testing.T) {
	manager, err := NewMigrationManager(newTestConfig(t))
	require.NoError(t, err)

	ctx := context.Background()

	err = manager.Connect(ctx)
	require.NoError(t, err)
	defer manager.Disconnect(ctx)

	statuses, err := manager.Status(ctx)
	assert.NoError(t, err)
	assert.IsType(t, []*MigrationStatus{}, statuses)
	assert.NotNil(t, statuses)
}

func TestMigrationManager_Version(t *testing.T) {
	manager, err := NewMigrationManager(newTestConfig(t))
	require.NoError(t, err)

	ctx := context.Background()

	err = manager.Connect(ctx)
	require.NoError(t, err)
	defer manager.Disconnect(ctx)

	version, err := manager.Version(ctx)
	assert.NoError(t, err)
	assert.IsType(t, int64(0), version)
	assert.Equal(t, int64(0), version)
}

func TestMigrationManager_Validate(t *testing.T) {
	manager, err := NewMigrationManager(newTestConfig(t))
	require.NoError(t, err)

	ctx := context.Background()

	err = manager.Connect(ctx)
	require.NoError(t, err)
	defer manager.Disconnect(ctx)

	err = manager.Validate(ctx)
	assert.NoError(t, err)
}

func TestMigrationManager_List(t *testing.T) {
	manager, err := NewMigrationManager(newTestConfig(t))
	require.NoError(t, err)

	ctx := context.Background()

	err = manager.Connect(ctx)
	require.NoError(t, err)
	defer manager.Disconnect(ctx)

	migrations, err := manager.List(ctx)
	assert.NoError(t, err)
	assert.IsType(t, []*MigrationFile{}, migrations)
	assert.NotNil(t, migrations)
}

func TestMigrationConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *MigrationConfig
		wantErr bool
	}{
		{
			name: "valid config",
			config: &MigrationConfig{
				Driver:     "sqlite",
				DSN:        "store.db",
				Dir:        "migrations",
				Table:      "goose_db_version",
				Timeout:     5 * time.Minute,
				RetryDelay:  5 * time.Second,
				LockTimeout: 10 * time.Second,
				Logger:      slog.Default(),
			},
			wantErr: false,
		},
		{
			name: "empty driver",
			config: &MigrationConfig{
				Driver:  "",
				DSN:     "store.db",
				Dir:     "migrations",
				Table:   "goose_db_version",
				Timeout: 5 * time.Minute,
				Logger:  slog.Default(),
			},
			wantErr: true,
		},
		{
			name: "empty DSN",
			config: &MigrationConfig{
				Driver:  "sqlite",
				DSN:     "",
				Dir:     "migrations",
				Table:   "goose_db_version",
				Timeout: 5 * time.Minute,
				Logger:  slog.Default(),
			},
			wantErr: true,
		},
		{
			name: "empty migration dir",
			config: &MigrationConfig{
				Driver:  "sqlite",
				DSN:     "store.db",
				Dir:     "",
				Table:   "goose_db_version",
				Timeout: 5 * time.Minute,
				Logger:  slog.Default(),
			},
			wantErr: true,
		},
		{
			name: "negative timeout",
			config: &MigrationConfig{
				Driver:  "sqlite",
				DSN:     "store.db",
				Dir:     "migrations",
				Table:   "goose_db_version",
				Timeout: -1 * time.Minute,
				Logger:  slog.Default(),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	originalEnv := make(map[string]string)
	envVars := []string{
		"MIGRATION_DRIVER", "MIGRATION_DSN", "MIGRATION_DIALECT",
		"MIGRATION_DIR", "MIGRATION_TABLE", "MIGRATION_SCHEMA",
		"MIGRATION_TIMEOUT", "MIGRATION_VERBOSE", "MIGRATION_DRY_RUN",
	}

	for _, envVar := range envVars {
		originalEnv[envVar] = os.Getenv(envVar)
	}
	defer func() {
		for key, value := range originalEnv {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	os.Setenv("MIGRATION_DRIVER", "sqlite")
	os.Setenv("MIGRATION_DSN", ":memory:")
	os.Setenv("MIGRATION_DIR", "test_migrations")
	os.Setenv("MIGRATION_VERBOSE", "true")

	config, err := LoadConfig()
	assert.NoError(t, err)
	assert.NotNil(t, config)
	assert.Equal(t, "sqlite", config.Driver)
	assert.Equal(t, ":memory:", config.DSN)
	assert.Equal(t, "test_migrations", config.Dir)
	assert.True(t, config.Verbose)
}

func BenchmarkMigrationManager_Status(b *testing.B) {
	manager, err := NewMigrationManager(&MigrationConfig{
		Driver:  "sqlite",
		DSN:     ":memory:",
		Dialect: "sqlite3",
		Dir:     "../../../migrations",
		Table:   "goose_db_version",
		Timeout: 5 * time.Minute,
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelError,
		})),
	})
	require.NoError(b, err)

	ctx := context.Background()

	err = manager.Connect(ctx)
	require.NoError(b, err)
	defer manager.Disconnect(ctx)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := manager.Status(ctx)
		assert.NoError(b, err)
	}
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the data dir at a temp dir so no user config leaks in.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SIMRUN_DATA_DIR", dir)
	SetConfigFile("")
	t.Cleanup(func() { SetConfigFile("") })
	return dir
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		dataDir := isolate(t)
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		// Verify logging defaults
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)

		assert.Equal(t, "file", cfg.Storage.Driver)
		assert.Equal(t, filepath.Join(dataDir, "store"), cfg.Storage.Root)
		assert.Equal(t, "memory", cfg.Slots.Driver)
		assert.Equal(t, 2, cfg.Poll.LongSeconds)
		assert.Equal(t, 1, cfg.Poll.ShortSeconds)
		assert.Equal(t, "@every 1m", cfg.Sweep.Schedule)
		assert.Equal(t, 30*time.Second, cfg.Backend.KillGrace)
		assert.Equal(t, filepath.Join(dataDir, "work"), cfg.Backend.WorkRoot)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)

		// Verify non-overridden values remain default
		assert.Equal(t, "structured", cfg.Logging.Profile)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("SIMRUN_PORT", "3000")
		t.Setenv("SIMRUN_LOG_LEVEL", "warn")
		t.Setenv("SIMRUN_SWEEP_ENABLED", "false")
		t.Setenv("SIMRUN_SLOTS_DRIVER", "redis")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Sweep.Enabled)
		assert.Equal(t, "redis", cfg.Slots.Driver)
	})

	// runtime > env > file > defaults
	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("SIMRUN_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{
			"server": map[string]any{"port": 5000},
		})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		dataDir := isolate(t)
		yaml := `
server:
  port: 7000
storage:
  driver: sqlite
backend:
  commands:
    srw: ["python", "-m", "srw_runner"]
`
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.yaml"), []byte(yaml), 0o644))
		t.Setenv("SIMRUN_PORT", "7100")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7100, cfg.Server.Port)
		assert.Equal(t, "sqlite", cfg.Storage.Driver)
		assert.Equal(t, []string{"python", "-m", "srw_runner"}, cfg.Backend.Commands["srw"])
	})

	t.Run("ExplicitConfigFileMissing", func(t *testing.T) {
		isolate(t)
		SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := Load(ctx)
		assert.Error(t, err)
	})
}

func TestLoadValidation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{"unknown storage driver", map[string]any{"storage": map[string]any{"driver": "ftp"}}},
		{"s3 without bucket", map[string]any{"storage": map[string]any{"driver": "s3"}}},
		{"unknown slot driver", map[string]any{"slots": map[string]any{"driver": "etcd"}}},
		{"zero poll", map[string]any{"poll": map[string]any{"short_seconds": 0}}},
		{"bad port", map[string]any{"server": map[string]any{"port": 70000}}},
		{"lease without heartbeat", map[string]any{
			"slots":   map[string]any{"ttl": "30s"},
			"backend": map[string]any{"heartbeat_interval": "0s"},
		}},
		{"heartbeat not shorter than lease", map[string]any{
			"slots":   map[string]any{"ttl": "30s"},
			"backend": map[string]any{"heartbeat_interval": "30s"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			_, err := Load(ctx, tt.overrides)
			assert.Error(t, err)
		})
	}
}

func TestLoadLeaseWithHeartbeat(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background(), map[string]any{
		"slots":   map[string]any{"ttl": "1m"},
		"backend": map[string]any{"heartbeat_interval": "15s"},
	})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Slots.TTL)
	assert.Equal(t, 15*time.Second, cfg.Backend.HeartbeatInterval)
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
	assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
}

func TestDurationParsing(t *testing.T) {
	isolate(t)
	t.Setenv("SIMRUN_READ_TIMEOUT", "45s")
	t.Setenv("SIMRUN_SHUTDOWN_TIMEOUT", "5m")
	t.Setenv("SIMRUN_KILL_GRACE", "2s")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 2*time.Second, cfg.Backend.KillGrace)
}

func TestConfigReload(t *testing.T) {
	isolate(t)
	ctx := context.Background()

	cfg1, err := Load(ctx)
	require.NoError(t, err)
	initialPort := cfg1.Server.Port

	cfg2, err := Load(ctx, map[string]any{
		"server": map[string]any{"port": initialPort + 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, initialPort+1000, cfg2.Server.Port)
	assert.Equal(t, cfg2.Server.Port, GetConfig().Server.Port)
}

func TestEnvSpecsPrefixHandling(t *testing.T) {
	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	names := make(map[string]bool)
	for _, spec := range specs {
		assert.Contains(t, spec.Name, "SIMRUN_")
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
		assert.False(t, names[spec.Name], "duplicate env var %s", spec.Name)
		names[spec.Name] = true
	}

	assert.True(t, names["SIMRUN_LOG_LEVEL"])
	assert.True(t, names["SIMRUN_PORT"])
	assert.True(t, names["SIMRUN_HOST"])
	assert.True(t, names["SIMRUN_STORAGE_DRIVER"])
}

func TestLoadCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

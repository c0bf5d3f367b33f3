// Package config loads layered configuration: defaults, an optional YAML
// file, SIMRUN_* environment variables, then runtime overrides.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName names the config directory and the env prefix.
	AppName   = "simrun"
	EnvPrefix = "SIMRUN"
)

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configPath string
)

// SetConfigFile points Load at an explicit config file. Empty restores the
// default lookup under the app data dir.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configPath = path
}

// DataDir is the per-user directory default storage paths derive from.
func DataDir() string {
	if dir := strings.TrimSpace(os.Getenv(EnvPrefix + "_DATA_DIR")); dir != "" {
		return dir
	}
	return gfconfig.GetAppDataDir(AppName)
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	dataDir := DataDir()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.root", filepath.Join(dataDir, "store"))
	v.SetDefault("storage.db_path", filepath.Join(dataDir, "simrun.db"))

	v.SetDefault("slots.driver", "memory")
	v.SetDefault("slots.redis_addr", "localhost:6379")
	v.SetDefault("slots.prefix", "simrun:slot:")
	v.SetDefault("slots.ttl", "0s")

	v.SetDefault("poll.long_seconds", 2)
	v.SetDefault("poll.short_seconds", 1)

	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.schedule", "@every 1m")

	v.SetDefault("ratelimit.status_rps", 50.0)
	v.SetDefault("ratelimit.status_burst", 100)

	v.SetDefault("backend.work_root", filepath.Join(dataDir, "work"))
	v.SetDefault("backend.kill_grace", "30s")
	v.SetDefault("backend.heartbeat_interval", "15s")
}

// Load resolves the configuration and makes it the current one.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	configMu.RLock()
	explicit := configPath
	configMu.RUnlock()

	path := explicit
	if path == "" {
		candidate := filepath.Join(DataDir(), "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "file", "s3", "sqlite":
	default:
		return fmt.Errorf("storage.driver: unsupported %q (file, s3, sqlite)", c.Storage.Driver)
	}
	if c.Storage.Driver == "s3" && strings.TrimSpace(c.Storage.Bucket) == "" {
		return fmt.Errorf("storage.bucket is required for the s3 driver")
	}
	switch c.Slots.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("slots.driver: unsupported %q (memory, redis)", c.Slots.Driver)
	}
	if ttl, hb := c.Slots.TTL, c.Backend.HeartbeatInterval; ttl > 0 && (hb <= 0 || hb >= ttl) {
		return fmt.Errorf("backend.heartbeat_interval (%s) must be positive and shorter than slots.ttl (%s)", hb, ttl)
	}
	if c.Poll.LongSeconds <= 0 || c.Poll.ShortSeconds <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

package config

import "time"

// Config is the resolved service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Slots     SlotsConfig     `mapstructure:"slots"`
	SimTypes  SimTypesConfig  `mapstructure:"simtypes"`
	Library   LibraryConfig   `mapstructure:"library"`
	Poll      PollConfig      `mapstructure:"poll"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Backend   BackendConfig   `mapstructure:"backend"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// StorageConfig selects where job documents live.
//
// Drivers: "file" (Root), "s3" (Bucket, Region, Endpoint, Prefix), "sqlite"
// (DBPath, or URL + AuthToken for a remote libsql database).
type StorageConfig struct {
	Driver         string `mapstructure:"driver"`
	Root           string `mapstructure:"root"`
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Prefix         string `mapstructure:"prefix"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	DBPath         string `mapstructure:"db_path"`
	URL            string `mapstructure:"url"`
	AuthToken      string `mapstructure:"auth_token"`
}

type SlotsConfig struct {
	Driver        string        `mapstructure:"driver"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type SimTypesConfig struct {
	// Catalog is the path of the YAML field-table catalog. Empty means the
	// built-in handlers with no declared fields.
	Catalog string `mapstructure:"catalog"`
}

type LibraryConfig struct {
	// Root holds library files as <root>/<simulation type>/<name>. Empty
	// means libraries are read from the job store under the "lib/" prefix.
	Root string `mapstructure:"root"`
}

type PollConfig struct {
	LongSeconds  int `mapstructure:"long_seconds"`
	ShortSeconds int `mapstructure:"short_seconds"`
}

type SweepConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

type RateLimitConfig struct {
	StatusRPS   float64 `mapstructure:"status_rps"`
	StatusBurst int     `mapstructure:"status_burst"`
}

type BackendConfig struct {
	WorkRoot          string              `mapstructure:"work_root"`
	KillGrace         time.Duration       `mapstructure:"kill_grace"`
	HeartbeatInterval time.Duration       `mapstructure:"heartbeat_interval"`
	Commands          map[string][]string `mapstructure:"commands"`
}

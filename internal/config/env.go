package config

// envSpec maps one environment variable onto a config key.
type envSpec struct {
	Name string
	Path string
}

func getEnvSpecs() []envSpec {
	p := EnvPrefix + "_"
	return []envSpec{
		{p + "HOST", "server.host"},
		{p + "PORT", "server.port"},
		{p + "READ_TIMEOUT", "server.read_timeout"},
		{p + "WRITE_TIMEOUT", "server.write_timeout"},
		{p + "IDLE_TIMEOUT", "server.idle_timeout"},
		{p + "SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},

		{p + "LOG_LEVEL", "logging.level"},
		{p + "LOG_PROFILE", "logging.profile"},

		{p + "STORAGE_DRIVER", "storage.driver"},
		{p + "STORAGE_ROOT", "storage.root"},
		{p + "STORAGE_BUCKET", "storage.bucket"},
		{p + "STORAGE_REGION", "storage.region"},
		{p + "STORAGE_ENDPOINT", "storage.endpoint"},
		{p + "STORAGE_PREFIX", "storage.prefix"},
		{p + "STORAGE_DB_PATH", "storage.db_path"},
		{p + "STORAGE_URL", "storage.url"},
		{p + "STORAGE_AUTH_TOKEN", "storage.auth_token"},

		{p + "SLOTS_DRIVER", "slots.driver"},
		{p + "REDIS_ADDR", "slots.redis_addr"},
		{p + "REDIS_PASSWORD", "slots.redis_password"},
		{p + "REDIS_DB", "slots.redis_db"},
		{p + "SLOT_TTL", "slots.ttl"},

		{p + "CATALOG", "simtypes.catalog"},
		{p + "LIBRARY_ROOT", "library.root"},

		{p + "POLL_LONG_SECONDS", "poll.long_seconds"},
		{p + "POLL_SHORT_SECONDS", "poll.short_seconds"},
		{p + "SWEEP_ENABLED", "sweep.enabled"},
		{p + "SWEEP_SCHEDULE", "sweep.schedule"},

		{p + "STATUS_RPS", "ratelimit.status_rps"},
		{p + "STATUS_BURST", "ratelimit.status_burst"},

		{p + "WORK_ROOT", "backend.work_root"},
		{p + "KILL_GRACE", "backend.kill_grace"},
	}
}

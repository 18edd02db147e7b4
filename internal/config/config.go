// Package config loads the worker's environment-variable configuration
// (§6.1) into a typed struct, using the envutil helpers rather than a
// flags package or viper, matching how the teacher wires env-backed knobs
// at service-construction time.
package config

import (
	"time"

	"github.com/google/uuid"

	"github.com/zachlagden/listworker/internal/platform/envutil"
)

// Config is the fully-resolved set of environment-derived settings a
// worker process needs for its lifetime.
type Config struct {
	MongoURI     string
	DatabaseName string
	DataDir      string

	HeartbeatInterval    time.Duration
	MaxConcurrentDownloads int
	HTTPTimeout          time.Duration
	CacheTTL             time.Duration

	MongoConnectBaseBackoff   time.Duration
	MongoConnectMaxElapsed    time.Duration

	CacheLargeObjectThreshold int64

	LogMode string

	WorkerID string
}

// Load reads Config from the process environment, applying the defaults
// from §6.1. WorkerID is a freshly generated UUID per process unless
// WORKER_ID is set (useful for deterministic tests).
func Load() Config {
	workerID := envutil.Str("WORKER_ID", "")
	if workerID == "" {
		workerID = uuid.NewString()
	}

	return Config{
		MongoURI:     envutil.Str("MONGO_URI", "mongodb://localhost:27017"),
		DatabaseName: envutil.Str("DATABASE_NAME", "blocklist"),
		DataDir:      envutil.Str("DATA_DIR", "./data"),

		HeartbeatInterval:      envutil.Seconds("HEARTBEAT_INTERVAL_SECS", 10*time.Second),
		MaxConcurrentDownloads: envutil.Int("MAX_CONCURRENT_DOWNLOADS", 10),
		HTTPTimeout:            envutil.Seconds("HTTP_TIMEOUT_SECS", 60*time.Second),
		CacheTTL:               time.Duration(envutil.Int("CACHE_TTL_DAYS", 7)) * 24 * time.Hour,

		MongoConnectBaseBackoff: time.Duration(envutil.Int("MONGO_CONNECT_BASE_BACKOFF_MS", 500)) * time.Millisecond,
		MongoConnectMaxElapsed:  envutil.Seconds("MONGO_CONNECT_MAX_ELAPSED_SECS", 60*time.Second),

		CacheLargeObjectThreshold: envutil.Int64("CACHE_LARGE_OBJECT_THRESHOLD_BYTES", 1<<20),

		LogMode: envutil.Str("LOG_MODE", "development"),

		WorkerID: workerID,
	}
}

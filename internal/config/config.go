// Package config centralizes how ProgressDrop reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Session store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config represents runtime configuration shared by the server, the worker
// and the CLI. Fields are capitalised so the other packages can read them.
type Config struct {
	Address       string
	UploadDir     string
	MaxUploadSize int64
	// MemoryBuffer bounds how much of a multipart body is held in RAM; the
	// remainder is spooled to temp files by net/http.
	MemoryBuffer int64
	ChunkSize    int
	ChunkDelay   time.Duration

	SessionBackend string
	SessionTTL     time.Duration
	MaxSessions    int

	MaxConcurrentUploads int64
	UploadRPS            float64
	UploadBurst          int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabaseURL string

	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
	S3Region     string
	S3UseSSL     bool
	MirrorBucket string

	ProcessingPool int
}

const (
	defaultAddress       = ":8080"
	defaultUploadDir     = "./uploads"
	defaultMaxUploadSize = 1 << 30  // 1 GiB
	defaultMemoryBuffer  = 32 << 20 // 32 MiB
	defaultChunkSize     = 64 << 10 // 64 KiB
	defaultChunkDelay    = 10 * time.Millisecond
	defaultSessionTTL    = time.Hour
	defaultMaxSessions   = 10000
	defaultMaxConcurrent = 10
	defaultUploadRPS     = 5
	defaultUploadBurst   = 10
	defaultS3Region      = "us-east-1"
	defaultMirrorBucket  = "progressdrop-uploads"
	defaultWorkerCount   = 2
	envPrefix            = "PROGRESSDROP_"
)

// Load reads configuration from environment variables falling back to defaults.
// Like most Go constructors it returns (value, error) instead of panicking on
// bad input.
func Load() (*Config, error) {
	// A struct literal names each field, so the order here does not matter.
	cfg := &Config{
		Address:              readEnv("ADDRESS", defaultAddress),
		UploadDir:            readEnv("UPLOAD_DIR", defaultUploadDir),
		MaxUploadSize:        parseInt64("MAX_UPLOAD_BYTES", defaultMaxUploadSize),
		MemoryBuffer:         parseInt64("MEMORY_BUFFER_BYTES", defaultMemoryBuffer),
		ChunkSize:            parseInt("CHUNK_BYTES", defaultChunkSize),
		ChunkDelay:           parseDuration("CHUNK_DELAY", defaultChunkDelay),
		SessionBackend:       readEnv("SESSION_BACKEND", BackendMemory),
		SessionTTL:           parseDuration("SESSION_TTL", defaultSessionTTL),
		MaxSessions:          parseInt("MAX_SESSIONS", defaultMaxSessions),
		MaxConcurrentUploads: parseInt64("MAX_CONCURRENT_UPLOADS", defaultMaxConcurrent),
		UploadRPS:            parseFloat("UPLOAD_RPS", defaultUploadRPS),
		UploadBurst:          parseInt("UPLOAD_BURST", defaultUploadBurst),
		RedisAddr:            readEnv("REDIS_ADDR", ""),
		RedisPassword:        readEnv("REDIS_PASSWORD", ""),
		RedisDB:              parseInt("REDIS_DB", 0),
		DatabaseURL:          readEnv("DATABASE_URL", ""),
		S3Endpoint:           readEnv("S3_ENDPOINT", ""),
		S3AccessKey:          readEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:          readEnv("S3_SECRET_KEY", ""),
		S3Region:             readEnv("S3_REGION", defaultS3Region),
		S3UseSSL:             parseBool("S3_USE_SSL", false),
		MirrorBucket:         readEnv("MIRROR_BUCKET", defaultMirrorBucket),
		ProcessingPool:       parseInt("WORKERS", defaultWorkerCount),
	}
	// Zero or negative limits make no sense; treat them like unset values.
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = defaultMaxUploadSize
	}
	if cfg.MemoryBuffer <= 0 {
		cfg.MemoryBuffer = defaultMemoryBuffer
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = 0
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.MaxConcurrentUploads <= 0 {
		cfg.MaxConcurrentUploads = defaultMaxConcurrent
	}
	if cfg.ProcessingPool <= 0 {
		cfg.ProcessingPool = defaultWorkerCount
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration combinations that cannot work.
func (c *Config) Validate() error {
	switch c.SessionBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("session backend %q requires %sREDIS_ADDR", c.SessionBackend, envPrefix)
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.SessionBackend)
	}
	return nil
}

// QueueEnabled reports whether completed uploads are announced over asynq.
func (c *Config) QueueEnabled() bool {
	return c.RedisAddr != ""
}

func readEnv(key, def string) string {
	// LookupEnv also reports whether the variable was set at all, which a
	// plain Getenv cannot tell apart from an empty value.
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	// Errors are values in Go: an unparsable number quietly keeps the default.
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "10ms" or "1h".
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

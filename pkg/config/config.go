// Package config loads Aegis Memory's process-wide configuration from
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// AuthMode selects how bearer tokens are resolved to a project.
type AuthMode string

const (
	// AuthModeLegacy authenticates every request as the default project
	// using a single shared bearer token (AEGIS_API_KEY).
	AuthModeLegacy AuthMode = "legacy"
	// AuthModeProject looks the hashed token up in the api_key table.
	AuthModeProject AuthMode = "project"
)

// Env distinguishes schema-management policy at startup.
type Env string

const (
	EnvDevelopment Env = "development"
	EnvProduction  Env = "production"
)

// Config is the umbrella object threaded through every constructor. There is
// no global/package-level instance — main wires it explicitly.
type Config struct {
	Env Env

	DatabaseURL           string
	DatabaseReadReplicaURL string
	DBPoolSize            int
	DBMaxOverflow         int

	EmbeddingAPIKey string
	EmbeddingModel  string
	EmbeddingDim    int

	AegisAPIKey      string
	EnableProjectAuth bool

	RateLimitPerMinute int
	RateLimitPerHour   int
	RateLimitBurst     int
	RedisURL           string

	LogFormat     string
	EnableMetrics bool

	HTTPAddr string
}

// Load reads configuration from the process environment, applying defaults
// and failing fast on invalid values.
func Load() (*Config, error) {
	cfg := &Config{
		Env:                    Env(getEnv("AEGIS_ENV", string(EnvDevelopment))),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		DatabaseReadReplicaURL: os.Getenv("DATABASE_READ_REPLICA_URL"),
		EmbeddingAPIKey:        os.Getenv("OPENAI_API_KEY"),
		EmbeddingModel:         getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		AegisAPIKey:            os.Getenv("AEGIS_API_KEY"),
		RedisURL:               os.Getenv("REDIS_URL"),
		LogFormat:              getEnv("LOG_FORMAT", "json"),
		HTTPAddr:               getEnv("HTTP_ADDR", ":8090"),
	}

	var err error
	if cfg.DBPoolSize, err = getEnvInt("DB_POOL_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.DBMaxOverflow, err = getEnvInt("DB_MAX_OVERFLOW", 5); err != nil {
		return nil, err
	}
	if cfg.EmbeddingDim, err = getEnvInt("EMBEDDING_DIM", 1536); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMinute, err = getEnvInt("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerHour, err = getEnvInt("RATE_LIMIT_PER_HOUR", 1000); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = getEnvInt("RATE_LIMIT_BURST", 10); err != nil {
		return nil, err
	}
	if cfg.EnableProjectAuth, err = getEnvBool("ENABLE_PROJECT_AUTH", false); err != nil {
		return nil, err
	}
	if cfg.EnableMetrics, err = getEnvBool("ENABLE_METRICS", true); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants not expressible per-key.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return fmt.Errorf("AEGIS_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env)
	}
	if c.EnableProjectAuth && c.AegisAPIKey == "" {
		// Project-key mode does not require the legacy key, so nothing is
		// checked here when it is unset.
		_ = c.AegisAPIKey
	}
	if !c.EnableProjectAuth && c.AegisAPIKey == "" {
		return fmt.Errorf("AEGIS_API_KEY is required when ENABLE_PROJECT_AUTH is false")
	}
	if c.DBPoolSize < 1 {
		return fmt.Errorf("DB_POOL_SIZE must be at least 1")
	}
	if c.RateLimitPerMinute < 1 || c.RateLimitPerHour < 1 {
		return fmt.Errorf("rate limit values must be positive")
	}
	return nil
}

// AuthMode resolves the configured auth mode.
func (c *Config) AuthMode() AuthMode {
	if c.EnableProjectAuth {
		return AuthModeProject
	}
	return AuthModeLegacy
}

// DBPoolTotal is pool_size + max_overflow, which must stay under the
// store's connection ceiling (pool_size × workers < store_max_connections)
// — callers multiply by worker/replica count before comparing against the store.
func (c *Config) DBPoolTotal() int {
	return c.DBPoolSize + c.DBMaxOverflow
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// EmbeddingCacheTier1Size is the bounded LRU entry count for the in-process cache.
const EmbeddingCacheTier1Size = 10_000

// EmbeddingBatchMax is the provider-specific ceiling applied to embed_batch calls.
const EmbeddingBatchMax = 96

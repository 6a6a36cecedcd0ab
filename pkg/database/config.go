package database

import (
	"fmt"
	"time"

	"github.com/aegislabs/aegis-memory/pkg/config"
)

// Config holds the connection-pool settings for one Postgres endpoint.
type Config struct {
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("DSN is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("MaxIdleConns (%d) cannot exceed MaxOpenConns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("MaxOpenConns must be at least 1")
	}
	return nil
}

// FromAppConfig builds the primary-store Config from the process config.
// MaxOpenConns is pool_size+max_overflow, kept under the store's connection
// ceiling (pool_size × workers < store_max_connections).
func FromAppConfig(c *config.Config) (Config, error) {
	cfg := Config{
		DSN:             c.DatabaseURL,
		MaxOpenConns:    c.DBPoolTotal(),
		MaxIdleConns:    c.DBPoolSize,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadReplicaFromAppConfig builds the optional read-replica Config. Returns
// ok=false when DATABASE_READ_REPLICA_URL is unset, in which case callers
// should read from the primary.
func ReadReplicaFromAppConfig(c *config.Config) (cfg Config, ok bool) {
	if c.DatabaseReadReplicaURL == "" {
		return Config{}, false
	}
	return Config{
		DSN:             c.DatabaseReadReplicaURL,
		MaxOpenConns:    c.DBPoolTotal(),
		MaxIdleConns:    c.DBPoolSize,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	}, true
}

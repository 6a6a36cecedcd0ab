package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	keys := []string{
		"AEGIS_ENV", "DATABASE_URL", "DATABASE_READ_REPLICA_URL", "OPENAI_API_KEY",
		"EMBEDDING_MODEL", "EMBEDDING_DIM", "AEGIS_API_KEY", "ENABLE_PROJECT_AUTH",
		"RATE_LIMIT_PER_MINUTE", "RATE_LIMIT_PER_HOUR", "RATE_LIMIT_BURST", "REDIS_URL",
		"LOG_FORMAT", "ENABLE_METRICS", "DB_POOL_SIZE", "DB_MAX_OVERFLOW",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/aegis")
	t.Setenv("AEGIS_API_KEY", "legacy-token")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 1536, cfg.EmbeddingDim)
	assert.Equal(t, AuthModeLegacy, cfg.AuthMode())
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("AEGIS_API_KEY", "legacy-token")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_ProjectAuthDoesNotRequireLegacyKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/aegis")
	t.Setenv("ENABLE_PROJECT_AUTH", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, AuthModeProject, cfg.AuthMode())
}

func TestLoad_InvalidEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/aegis")
	t.Setenv("AEGIS_API_KEY", "x")
	t.Setenv("AEGIS_ENV", "staging")

	_, err := Load()
	require.Error(t, err)
}

func TestDBPoolTotal(t *testing.T) {
	cfg := &Config{DBPoolSize: 10, DBMaxOverflow: 5}
	assert.Equal(t, 15, cfg.DBPoolTotal())
}

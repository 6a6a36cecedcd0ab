package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestClient starts a pgvector-enabled Postgres container, applies the
// embedded migrations through the real NewClient path, and returns a ready
// Client. Avoids an import cycle with any higher-level test harness package.
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts("../../deploy/postgres-init/01-init.sql"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := NewClient(Config{
		DSN:             dsn,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func TestDatabaseClient_ConnectionPool(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	err := client.DB().PingContext(ctx)
	require.NoError(t, err)

	health, err := Health(ctx, client.DB())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxOpenConns, 0)
}

func TestFullTextSearch_InteractionEvents(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	db := client.DB()

	_, err := db.ExecContext(ctx,
		`INSERT INTO projects (id, name, is_active) VALUES ('proj-1', 'p', true)`)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO interaction_events
		(event_id, project_id, session_id, agent_id, kind, content, "timestamp")
		VALUES
		('ev-1', 'proj-1', 'sess-1', 'agent-a', 'observation', 'Critical error in production cluster', now()),
		('ev-2', 'proj-1', 'sess-1', 'agent-a', 'observation', 'Warning: high memory usage detected', now())`)
	require.NoError(t, err)

	rows, err := db.QueryContext(ctx,
		`SELECT event_id FROM interaction_events
		 WHERE to_tsvector('english', content) @@ to_tsquery('english', $1)`,
		"error & production",
	)
	require.NoError(t, err)
	defer rows.Close()

	var results []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		results = append(results, id)
	}
	assert.Equal(t, []string{"ev-1"}, results)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     Config{DSN: "postgres://localhost/test", MaxOpenConns: 10, MaxIdleConns: 5},
			wantErr: false,
		},
		{
			name:    "missing dsn",
			cfg:     Config{MaxOpenConns: 10, MaxIdleConns: 5},
			wantErr: true,
		},
		{
			name:    "idle conns exceed max conns",
			cfg:     Config{DSN: "postgres://localhost/test", MaxOpenConns: 5, MaxIdleConns: 10},
			wantErr: true,
		},
		{
			name:    "zero max open conns",
			cfg:     Config{DSN: "postgres://localhost/test", MaxOpenConns: 0, MaxIdleConns: 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateVectorIndexes builds the approximate-nearest-neighbor and JSONB
// indexes that golang-migrate cannot create inline: ivfflat/GIN index builds
// use CREATE INDEX CONCURRENTLY, which Postgres refuses inside a transaction
// block, and every golang-migrate step runs in one. NewClient calls this once
// after migrations have run, outside of any migration transaction.
func CreateVectorIndexes(ctx context.Context, db *sql.DB) error {
	statements := []struct {
		name string
		sql  string
	}{
		{
			"idx_memories_embedding_ann",
			`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_memories_embedding_ann
			 ON memories USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)
			 WHERE deleted_at IS NULL`,
		},
		{
			"idx_memories_metadata_gin",
			`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_memories_metadata_gin
			 ON memories USING gin (metadata)`,
		},
		{
			"idx_interaction_events_content_gin",
			`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_interaction_events_content_gin
			 ON interaction_events USING gin (to_tsvector('english', content))`,
		},
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("failed to create index %s: %w", stmt.name, err)
		}
	}
	return nil
}

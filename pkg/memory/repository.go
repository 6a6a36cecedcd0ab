// Package memory implements the memory store: add/dedup/TTL, ACL-filtered
// semantic search, cross-agent queries, and batch/export paths.
package memory

import (
	"database/sql"

	"github.com/aegislabs/aegis-memory/pkg/embedding"
)

// Repository is the memory store: the persistent store plus the embedding
// service, never reaching across a transaction boundary it doesn't own —
// callers supply the *sql.DB. Add and AddBatch each open and own one
// transaction; the *InTx methods run inside the caller's transaction; reads,
// exports and Delete run directly against the pool.
type Repository struct {
	db    *sql.DB
	embed *embedding.Service
}

// New builds a Memory Repository.
func New(db *sql.DB, embeddingSvc *embedding.Service) *Repository {
	return &Repository{db: db, embed: embeddingSvc}
}

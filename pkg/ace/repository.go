// Package ace implements the feedback and curation loop built on top of the
// memory store: votes, effectiveness,
// deltas, playbook retrieval, reflections, session/feature state machines,
// runs, and auto-curation. It builds on the Memory Repository rather than
// duplicating its transaction discipline.
package ace

import (
	"database/sql"

	"github.com/aegislabs/aegis-memory/pkg/embedding"
	"github.com/aegislabs/aegis-memory/pkg/memory"
)

// Repository is the ACE Repository.
type Repository struct {
	db       *sql.DB
	memories *memory.Repository
	embed    *embedding.Service
}

// New builds an ACE Repository over a shared Memory Repository.
func New(db *sql.DB, memories *memory.Repository, embeddingSvc *embedding.Service) *Repository {
	return &Repository{db: db, memories: memories, embed: embeddingSvc}
}

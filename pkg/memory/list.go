package memory

import (
	"context"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/models"
)

// ListBySession returns episodic memories for a session, ordered by
// sequence_number ascending.
func (r *Repository) ListBySession(ctx context.Context, projectID, sessionID string) ([]*models.Memory, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories
		WHERE project_id = $1 AND session_id = $2 AND memory_type = 'episodic' AND deleted_at IS NULL
		AND (expires_at IS NULL OR expires_at > now())
		ORDER BY sequence_number ASC NULLS LAST, created_at ASC`, projectID, sessionID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to list session memories", err)
	}
	defer rows.Close()
	return scanMemoryList(rows)
}

// ListByEntity returns semantic memories for an entity, ordered by
// created_at descending.
func (r *Repository) ListByEntity(ctx context.Context, projectID, entityID string) ([]*models.Memory, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories
		WHERE project_id = $1 AND entity_id = $2 AND memory_type = 'semantic' AND deleted_at IS NULL
		AND (expires_at IS NULL OR expires_at > now())
		ORDER BY created_at DESC`, projectID, entityID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to list entity memories", err)
	}
	defer rows.Close()
	return scanMemoryList(rows)
}

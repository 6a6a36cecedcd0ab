package memory

import (
	"context"
	"database/sql"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/models"
)

// Get returns a memory by id, scoped to the tenant. Deprecated rows are
// still retrievable by id (: deprecation hides a row from search and
// playbook, not from direct lookup).
func (r *Repository) Get(ctx context.Context, projectID, id string) (*models.Memory, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories
		WHERE project_id = $1 AND id = $2 AND deleted_at IS NULL`, projectID, id)
	m, err := scanMemoryRow(row)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("memory", id)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to get memory", err)
	}
	return m, nil
}

// Delete hard-deletes a memory; cascades to ACL, votes, and events via FK.
func (r *Repository) Delete(ctx context.Context, projectID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM memories WHERE project_id = $1 AND id = $2`, projectID, id)
	if err != nil {
		return apierr.Wrap(apierr.KindServer, "failed to delete memory", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.Wrap(apierr.KindServer, "failed to confirm memory delete", err)
	}
	if n == 0 {
		return apierr.NotFound("memory", id)
	}
	return nil
}

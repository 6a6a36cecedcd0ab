package memory

import (
	"context"
	"database/sql"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/models"
	"github.com/aegislabs/aegis-memory/pkg/timeline"
)

// UpdateMetadataInTx is the delta "update" op: a shallow JSONB merge that
// never re-embeds content or changes scope.
func (r *Repository) UpdateMetadataInTx(ctx context.Context, tx *sql.Tx, projectID, id string, patch map[string]any) (*models.Memory, error) {
	patchJSON, err := marshalMetadata(patch)
	if err != nil {
		return nil, err
	}
	row := tx.QueryRowContext(ctx, `UPDATE memories
		SET metadata = metadata || $3::jsonb, updated_at = now()
		WHERE project_id = $1 AND id = $2 AND deleted_at IS NULL
		RETURNING `+memoryColumns,
		projectID, id, patchJSON)
	m, err := scanMemoryRow(row)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("memory", id)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to update memory metadata", err)
	}
	return m, nil
}

// DeprecateInTx is the delta "deprecate" op: hides the row from
// search/playbook while keeping it retrievable by id, and emits a
// deprecated event.
func (r *Repository) DeprecateInTx(ctx context.Context, tx *sql.Tx, projectID, id string, supersededBy, reason *string) (*models.Memory, error) {
	row := tx.QueryRowContext(ctx, `UPDATE memories
		SET is_deprecated = true, superseded_by = $3, deprecation_reason = $4, updated_at = now()
		WHERE project_id = $1 AND id = $2 AND deleted_at IS NULL
		RETURNING `+memoryColumns,
		projectID, id, supersededBy, reason)
	m, err := scanMemoryRow(row)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("memory", id)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to deprecate memory", err)
	}
	if err := timeline.Emit(ctx, tx, projectID, m.ID, m.Namespace, &m.AgentID, models.EventDeprecated, map[string]any{
		"superseded_by":      supersededBy,
		"deprecation_reason": reason,
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// GetInTx is Get scoped to a caller-owned transaction, used by the ACE
// repository when a delta op needs to read a row inside its own batch.
func (r *Repository) GetInTx(ctx context.Context, tx *sql.Tx, projectID, id string) (*models.Memory, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories
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

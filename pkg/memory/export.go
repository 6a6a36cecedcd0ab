package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/models"
)

// ExportFilters narrows an export to a namespace and/or author.
type ExportFilters struct {
	Namespace *string
	AgentID   *string
}

// ExportPageSize bounds a single export page; callers page with (lastCreatedAt, lastID).
const ExportPageSize = 500

// Export is a paginated, created_at-ordered stream of
// memory records. Callers iterate by passing the last row's (created_at, id)
// back in as the cursor until a short page signals the stream is exhausted.
func (r *Repository) Export(ctx context.Context, projectID string, filters ExportFilters, afterCreatedAt *string, afterID string) ([]*models.Memory, error) {
	conditions := []string{"project_id = $1", "deleted_at IS NULL"}
	args := []any{projectID}

	if filters.Namespace != nil {
		args = append(args, *filters.Namespace)
		conditions = append(conditions, fmt.Sprintf("namespace = $%d", len(args)))
	}
	if filters.AgentID != nil {
		args = append(args, *filters.AgentID)
		conditions = append(conditions, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if afterCreatedAt != nil {
		args = append(args, *afterCreatedAt, afterID)
		conditions = append(conditions, fmt.Sprintf("(created_at, id) > ($%d::timestamptz, $%d)", len(args)-1, len(args)))
	}

	args = append(args, ExportPageSize)
	query := fmt.Sprintf(
		"SELECT %s FROM memories WHERE %s ORDER BY created_at ASC, id ASC LIMIT $%d",
		memoryColumns, strings.Join(conditions, " AND "), len(args),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "export query failed", err)
	}
	defer rows.Close()
	return scanMemoryList(rows)
}

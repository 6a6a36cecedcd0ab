// Package timeline appends to and queries the memory_events table shared by
// the Memory and ACE repositories.
package timeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/idgen"
	"github.com/aegislabs/aegis-memory/pkg/metrics"
	"github.com/aegislabs/aegis-memory/pkg/models"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so events can be appended
// either standalone or as part of the caller's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Emit appends one memory_events row. Mutations pass their transaction so the
// row commits or rolls back with them; queried and run_completed events are
// appended directly on the pool, outside any transaction.
func Emit(ctx context.Context, q Querier, projectID, memoryID, namespace string, agentID *string, eventType models.MemoryEventType, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return apierr.Wrap(apierr.KindServer, "failed to encode event payload", err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO memory_events (event_id, memory_id, project_id, namespace, agent_id, event_type, event_payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		idgen.New(), memoryID, projectID, namespace, agentID, string(eventType), raw,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindServer, "failed to emit memory event", err)
	}
	metrics.MemoryEventsEmitted.WithLabelValues(string(eventType)).Inc()
	return nil
}

// ListByMemory returns events for one memory, most recent first.
func ListByMemory(ctx context.Context, q Querier, memoryID string, limit int) ([]models.MemoryEvent, error) {
	return list(ctx, q, `SELECT event_id, memory_id, project_id, namespace, agent_id, event_type, event_payload, created_at
		FROM memory_events WHERE memory_id = $1 ORDER BY created_at DESC LIMIT $2`, memoryID, limit)
}

// ListByProject returns events for a tenant within [since, until), most recent first.
func ListByProject(ctx context.Context, q Querier, projectID string, since, until time.Time, limit int) ([]models.MemoryEvent, error) {
	return list(ctx, q, `SELECT event_id, memory_id, project_id, namespace, agent_id, event_type, event_payload, created_at
		FROM memory_events WHERE project_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC LIMIT $4`, projectID, since, until, limit)
}

func list(ctx context.Context, q Querier, query string, args ...any) ([]models.MemoryEvent, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to list memory events", err)
	}
	defer rows.Close()

	var out []models.MemoryEvent
	for rows.Next() {
		var e models.MemoryEvent
		var payload []byte
		var agentID sql.NullString
		if err := rows.Scan(&e.EventID, &e.MemoryID, &e.ProjectID, &e.Namespace, &agentID, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, apierr.Wrap(apierr.KindServer, "failed to scan memory event", err)
		}
		if agentID.Valid {
			e.AgentID = &agentID.String
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, apierr.Wrap(apierr.KindServer, "failed to decode event payload", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

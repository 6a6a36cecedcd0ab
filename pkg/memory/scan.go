package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/models"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to encode metadata", err)
	}
	return b, nil
}

const memoryColumns = `id, project_id, namespace, agent_id, content, content_hash, embedding,
	scope, memory_type, is_deprecated, superseded_by, deprecation_reason,
	helpful_votes, harmful_votes, created_at, updated_at, ttl_seconds, expires_at,
	session_id, entity_id, sequence_number, metadata`

// prefixColumns rewrites a comma-separated column list into "alias.col, ..."
// form for queries that join against memories under an alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(out, ", ")
}

func scanMemoryRow(row *sql.Row) (*models.Memory, error) {
	m := &models.Memory{}
	var embeddingRaw pgvector.Vector
	var metadataRaw []byte
	var supersededBy, deprecationReason, sessionID, entityID sql.NullString
	var sequenceNumber, ttlSeconds sql.NullInt64
	var expiresAt sql.NullTime

	err := row.Scan(
		&m.ID, &m.ProjectID, &m.Namespace, &m.AgentID, &m.Content, &m.ContentHash, &embeddingRaw,
		&m.Scope, &m.MemoryType, &m.IsDeprecated, &supersededBy, &deprecationReason,
		&m.HelpfulVotes, &m.HarmfulVotes, &m.CreatedAt, &m.UpdatedAt, &ttlSeconds, &expiresAt,
		&sessionID, &entityID, &sequenceNumber, &metadataRaw,
	)
	if err != nil {
		return nil, err
	}
	m.Embedding = embeddingRaw.Slice()
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &m.Metadata); err != nil {
			return nil, apierr.Wrap(apierr.KindServer, "failed to decode metadata", err)
		}
	}
	if supersededBy.Valid {
		m.SupersededBy = &supersededBy.String
	}
	if deprecationReason.Valid {
		m.DeprecationReason = &deprecationReason.String
	}
	if sessionID.Valid {
		m.SessionID = &sessionID.String
	}
	if entityID.Valid {
		m.EntityID = &entityID.String
	}
	if sequenceNumber.Valid {
		m.SequenceNumber = &sequenceNumber.Int64
	}
	if ttlSeconds.Valid {
		m.TTLSeconds = &ttlSeconds.Int64
	}
	if expiresAt.Valid {
		m.ExpiresAt = &expiresAt.Time
	}
	return m, nil
}

// scanMemoryList drains *sql.Rows selected with memoryColumns (unprefixed)
// into a slice of Memory.
func scanMemoryList(rows *sql.Rows) ([]*models.Memory, error) {
	var out []*models.Memory
	for rows.Next() {
		m := &models.Memory{}
		var embeddingRaw pgvector.Vector
		var metadataRaw []byte
		var supersededBy, deprecationReason, sessionID, entityID sql.NullString
		var sequenceNumber, ttlSeconds sql.NullInt64
		var expiresAt sql.NullTime

		err := rows.Scan(
			&m.ID, &m.ProjectID, &m.Namespace, &m.AgentID, &m.Content, &m.ContentHash, &embeddingRaw,
			&m.Scope, &m.MemoryType, &m.IsDeprecated, &supersededBy, &deprecationReason,
			&m.HelpfulVotes, &m.HarmfulVotes, &m.CreatedAt, &m.UpdatedAt, &ttlSeconds, &expiresAt,
			&sessionID, &entityID, &sequenceNumber, &metadataRaw,
		)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindServer, "failed to scan memory row", err)
		}
		m.Embedding = embeddingRaw.Slice()
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &m.Metadata); err != nil {
				return nil, apierr.Wrap(apierr.KindServer, "failed to decode metadata", err)
			}
		}
		if supersededBy.Valid {
			m.SupersededBy = &supersededBy.String
		}
		if deprecationReason.Valid {
			m.DeprecationReason = &deprecationReason.String
		}
		if sessionID.Valid {
			m.SessionID = &sessionID.String
		}
		if entityID.Valid {
			m.EntityID = &entityID.String
		}
		if sequenceNumber.Valid {
			m.SequenceNumber = &sequenceNumber.Int64
		}
		if ttlSeconds.Valid {
			m.TTLSeconds = &ttlSeconds.Int64
		}
		if expiresAt.Valid {
			m.ExpiresAt = &expiresAt.Time
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// findLiveByHash looks up a non-deprecated, non-deleted row with the given
// content_hash within (project_id, namespace, agent_id) — the dedup lookup
// in the add().
func findLiveByHash(ctx context.Context, q Querier, projectID, namespace, agentID, hash string) (*models.Memory, error) {
	row := q.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories
		WHERE project_id = $1 AND namespace = $2 AND agent_id = $3 AND content_hash = $4
		AND deleted_at IS NULL AND is_deprecated = false`,
		projectID, namespace, agentID, hash)
	m, err := scanMemoryRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to look up existing memory", err)
	}
	return m, nil
}

// aclPredicate is the visibility predicate of semantic_search: readable
// iff global, iff agent-private and authored by the requester, or iff
// agent-shared and the requester is the author or an ACL-listed viewer.
// requestingAgentParam is the positional parameter ($N) holding the
// requesting agent id in the caller's query.
func aclPredicate(requestingAgentParam int) string {
	return fmt.Sprintf(`(
		m.scope = 'global'
		OR (m.scope = 'agent-private' AND m.agent_id = $%[1]d)
		OR (m.scope = 'agent-shared' AND (m.agent_id = $%[1]d OR EXISTS (
			SELECT 1 FROM memory_shared_agents msa WHERE msa.memory_id = m.id AND msa.agent_id = $%[1]d
		)))
	)`, requestingAgentParam)
}

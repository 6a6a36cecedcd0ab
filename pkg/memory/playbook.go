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

// Playbook ranking weights: fixed so that, for memories tied on
// semantic similarity, higher effectiveness wins, and for ties on both,
// more recent wins. Both weights are kept well below 1 so neither term can
// outrank a meaningfully better semantic match.
const (
	playbookEffectivenessWeight = 0.2
	playbookRecencyWeight       = 0.05
)

// RankedSearch implements the retrieval half of playbook: the same
// ACL/tenant/TTL/deprecation predicate as semantic_search, restricted to
// include_types and a minimum effectiveness, ranked by a deterministic
// composite of semantic similarity, effectiveness, and recency.
func (r *Repository) RankedSearch(ctx context.Context, projectID, requestingAgentID, namespace string, queryVector []float32, includeTypes []models.MemoryType, minEffectiveness float64, topK int) ([]models.ScoredMemory, error) {
	if topK <= 0 {
		topK = 10
	}
	if namespace == "" {
		namespace = "default"
	}
	types := make([]string, len(includeTypes))
	for i, t := range includeTypes {
		types[i] = string(t)
	}

	args := []any{projectID, namespace, requestingAgentID, pgvector.NewVector(queryVector)}
	conditions := []string{
		"m.project_id = $1",
		"m.namespace = $2",
		"m.deleted_at IS NULL",
		"m.is_deprecated = false",
		"(m.expires_at IS NULL OR m.expires_at > now())",
		aclPredicate(3),
	}
	if len(types) > 0 {
		args = append(args, types)
		conditions = append(conditions, fmt.Sprintf("m.memory_type = ANY($%d)", len(args)))
	}
	args = append(args, minEffectiveness)
	effectivenessExpr := "(m.helpful_votes - m.harmful_votes)::float8 / (m.helpful_votes + m.harmful_votes + 1)"
	conditions = append(conditions, fmt.Sprintf("%s >= $%d", effectivenessExpr, len(args)))

	args = append(args, topK)
	query := fmt.Sprintf(`
		SELECT %s,
			(m.embedding <=> $4) AS distance,
			(1 - (m.embedding <=> $4))
				+ %f * %s
				+ %f * (1.0 / (1.0 + extract(epoch from (now() - m.created_at)) / 86400.0))
				AS rank_score,
			%s AS effectiveness
		FROM memories m
		WHERE %s
		ORDER BY rank_score DESC, effectiveness DESC, m.created_at DESC, m.id ASC
		LIMIT $%d`,
		prefixColumns("m", memoryColumns), playbookEffectivenessWeight, effectivenessExpr,
		playbookRecencyWeight, effectivenessExpr, strings.Join(conditions, " AND "), len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "playbook query failed", err)
	}
	defer rows.Close()

	var out []models.ScoredMemory
	for rows.Next() {
		m, distance, _, err := scanRankedRow(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindServer, "failed to scan playbook row", err)
		}
		out = append(out, models.ScoredMemory{Memory: m, Distance: distance})
	}
	return out, rows.Err()
}

func scanRankedRow(rows *sql.Rows) (*models.Memory, float64, float64, error) {
	m := &models.Memory{}
	var embeddingRaw pgvector.Vector
	var metadataRaw []byte
	var supersededBy, deprecationReason, sessionID, entityID sql.NullString
	var sequenceNumber, ttlSeconds sql.NullInt64
	var expiresAt sql.NullTime
	var distance, rankScore, effectiveness float64

	err := rows.Scan(
		&m.ID, &m.ProjectID, &m.Namespace, &m.AgentID, &m.Content, &m.ContentHash, &embeddingRaw,
		&m.Scope, &m.MemoryType, &m.IsDeprecated, &supersededBy, &deprecationReason,
		&m.HelpfulVotes, &m.HarmfulVotes, &m.CreatedAt, &m.UpdatedAt, &ttlSeconds, &expiresAt,
		&sessionID, &entityID, &sequenceNumber, &metadataRaw, &distance, &rankScore, &effectiveness,
	)
	if err != nil {
		return nil, 0, 0, err
	}
	m.Embedding = embeddingRaw.Slice()
	if len(metadataRaw) > 0 {
		_ = json.Unmarshal(metadataRaw, &m.Metadata)
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
	return m, distance, rankScore, nil
}

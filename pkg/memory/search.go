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
	"github.com/aegislabs/aegis-memory/pkg/timeline"
)

// SearchOptions narrows a semantic_search call beyond the mandatory
// tenant/ACL/TTL/deprecation predicates.
type SearchOptions struct {
	Namespace         string
	Filters           models.SearchFilters
	TopK              int
	MinScore          *float64
	ExcludeDeprecated bool
}

// SemanticSearch does an ACL-filtered ANN scan with
// deterministic tie-breaking, queried-event emission for every returned row.
func (r *Repository) SemanticSearch(ctx context.Context, projectID, requestingAgentID, queryText string, opts SearchOptions) ([]models.ScoredMemory, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "default"
	}

	queryVector, err := r.embed.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	var maxDistance *float64
	if opts.MinScore != nil {
		d := 1 - *opts.MinScore
		maxDistance = &d
	}

	rows, err := r.runANNQuery(ctx, projectID, requestingAgentID, namespace, queryVector, opts.Filters, maxDistance, opts.ExcludeDeprecated, opts.TopK, nil)
	if err != nil {
		return nil, err
	}

	if err := r.emitQueried(ctx, projectID, requestingAgentID, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryCrossAgent is SemanticSearch restricted to memories
// authored by any of targetAgentIDs and still visible per ACL.
func (r *Repository) QueryCrossAgent(ctx context.Context, projectID, requestingAgentID, queryText string, targetAgentIDs []string, opts SearchOptions) ([]models.ScoredMemory, error) {
	if len(targetAgentIDs) == 0 {
		return nil, apierr.Validation("target_agent_ids", "must not be empty")
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "default"
	}
	queryVector, err := r.embed.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	var maxDistance *float64
	if opts.MinScore != nil {
		d := 1 - *opts.MinScore
		maxDistance = &d
	}
	rows, err := r.runANNQuery(ctx, projectID, requestingAgentID, namespace, queryVector, opts.Filters, maxDistance, opts.ExcludeDeprecated, opts.TopK, targetAgentIDs)
	if err != nil {
		return nil, err
	}
	if err := r.emitQueried(ctx, projectID, requestingAgentID, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repository) runANNQuery(ctx context.Context, projectID, requestingAgentID, namespace string, queryVector []float32, filters models.SearchFilters, maxDistance *float64, excludeDeprecated bool, topK int, restrictAuthors []string) ([]models.ScoredMemory, error) {
	args := []any{projectID, namespace, requestingAgentID, pgvector.NewVector(queryVector)}
	conditions := []string{
		"m.project_id = $1",
		"m.namespace = $2",
		"m.deleted_at IS NULL",
		"(m.expires_at IS NULL OR m.expires_at > now())",
		aclPredicate(3),
	}
	if excludeDeprecated {
		conditions = append(conditions, "m.is_deprecated = false")
	}
	if maxDistance != nil {
		args = append(args, *maxDistance)
		conditions = append(conditions, fmt.Sprintf("(m.embedding <=> $4) <= $%d", len(args)))
	}
	if len(restrictAuthors) > 0 {
		args = append(args, restrictAuthors)
		conditions = append(conditions, fmt.Sprintf("m.agent_id = ANY($%d)", len(args)))
	}
	if len(filters.Metadata) > 0 {
		filterJSON, err := marshalMetadata(filters.Metadata)
		if err != nil {
			return nil, err
		}
		args = append(args, filterJSON)
		conditions = append(conditions, fmt.Sprintf("m.metadata @> $%d::jsonb", len(args)))
	}

	args = append(args, topK)
	query := fmt.Sprintf(`
		SELECT %s, (m.embedding <=> $4) AS distance
		FROM memories m
		WHERE %s
		ORDER BY distance ASC, m.created_at DESC, m.id ASC
		LIMIT $%d`,
		prefixColumns("m", memoryColumns), strings.Join(conditions, " AND "), len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "semantic search query failed", err)
	}
	defer rows.Close()

	var out []models.ScoredMemory
	for rows.Next() {
		m, distance, err := scanScoredRow(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindServer, "failed to scan search row", err)
		}
		out = append(out, models.ScoredMemory{Memory: m, Distance: distance})
	}
	return out, rows.Err()
}

func (r *Repository) emitQueried(ctx context.Context, projectID, requestingAgentID string, rows []models.ScoredMemory) error {
	for _, sm := range rows {
		if err := timeline.Emit(ctx, r.db, projectID, sm.Memory.ID, sm.Memory.Namespace, &requestingAgentID, models.EventQueried, map[string]any{
			"distance": sm.Distance,
		}); err != nil {
			return err
		}
	}
	return nil
}

func scanScoredRow(rows *sql.Rows) (*models.Memory, float64, error) {
	m := &models.Memory{}
	var embeddingRaw pgvector.Vector
	var metadataRaw []byte
	var supersededBy, deprecationReason, sessionID, entityID sql.NullString
	var sequenceNumber, ttlSeconds sql.NullInt64
	var expiresAt sql.NullTime
	var distance float64

	err := rows.Scan(
		&m.ID, &m.ProjectID, &m.Namespace, &m.AgentID, &m.Content, &m.ContentHash, &embeddingRaw,
		&m.Scope, &m.MemoryType, &m.IsDeprecated, &supersededBy, &deprecationReason,
		&m.HelpfulVotes, &m.HarmfulVotes, &m.CreatedAt, &m.UpdatedAt, &ttlSeconds, &expiresAt,
		&sessionID, &entityID, &sequenceNumber, &metadataRaw, &distance,
	)
	if err != nil {
		return nil, 0, err
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
	return m, distance, nil
}

package memory

import (
	"context"
	"database/sql"

	"github.com/pgvector/pgvector-go"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/embedding"
	"github.com/aegislabs/aegis-memory/pkg/idgen"
	"github.com/aegislabs/aegis-memory/pkg/models"
	"github.com/aegislabs/aegis-memory/pkg/timeline"
)

// AddResult reports whether Add returned an existing row (dedup) or created one.
type AddResult struct {
	Memory       *models.Memory
	Deduplicated bool
}

// Add dedups by content_hash, embeds on miss, inserts the
// memory row plus ACL rows in one transaction, emit a created event.
func (r *Repository) Add(ctx context.Context, projectID string, in models.AddInput) (*AddResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	result, err := r.AddInTx(ctx, tx, projectID, in)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to commit memory add", err)
	}
	return result, nil
}

// AddInTx runs the same logic as Add inside a transaction owned by the
// caller — used by the ACE repository's delta() so an add op shares the
// batch's single transaction (delta: partial failure rolls back the
// entire batch).
func (r *Repository) AddInTx(ctx context.Context, tx *sql.Tx, projectID string, in models.AddInput) (*AddResult, error) {
	if err := validateAdd(in); err != nil {
		return nil, err
	}
	namespace := in.Namespace
	if namespace == "" {
		namespace = "default"
	}
	scope := in.Scope
	if scope == "" {
		scope = models.ScopeAgentPrivate
	}
	memType := in.MemoryType
	if memType == "" {
		memType = models.MemoryTypeStandard
	}

	hash := embedding.Hash(in.Content)

	if existing, err := findLiveByHash(ctx, tx, projectID, namespace, in.AgentID, hash); err != nil {
		return nil, err
	} else if existing != nil {
		return &AddResult{Memory: existing, Deduplicated: true}, nil
	}

	vector, err := r.embed.Embed(ctx, in.Content)
	if err != nil {
		return nil, err
	}

	mem := &models.Memory{
		ID:             idgen.New(),
		ProjectID:      projectID,
		Namespace:      namespace,
		AgentID:        in.AgentID,
		Content:        in.Content,
		ContentHash:    hash,
		Embedding:      vector,
		Scope:          scope,
		SharedWith:     in.SharedWith,
		MemoryType:     memType,
		TTLSeconds:     in.TTLSeconds,
		SessionID:      in.SessionID,
		EntityID:       in.EntityID,
		SequenceNumber: in.SequenceNumber,
		Metadata:       in.Metadata,
	}
	// The savepoint lets the transaction continue after a failed insert,
	// which Postgres would otherwise leave aborted.
	if _, err := tx.ExecContext(ctx, "SAVEPOINT memory_insert"); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to set insert savepoint", err)
	}
	if err := insertMemory(ctx, tx, mem); err != nil {
		// Unique-constraint race: a concurrent Add beat us to the insert.
		// Re-read the winner and report it as deduplicated.
		if isUniqueViolation(err) {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT memory_insert"); rbErr != nil {
				return nil, apierr.Wrap(apierr.KindServer, "failed to roll back insert savepoint", rbErr)
			}
			existing, findErr := findLiveByHash(ctx, tx, projectID, namespace, in.AgentID, hash)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				return &AddResult{Memory: existing, Deduplicated: true}, nil
			}
		}
		return nil, err
	}

	if scope == models.ScopeAgentShared {
		if err := insertSharedAgents(ctx, tx, mem.ID, in.SharedWith); err != nil {
			return nil, err
		}
	}

	if err := timeline.Emit(ctx, tx, projectID, mem.ID, namespace, &in.AgentID, models.EventCreated, map[string]any{
		"memory_type": string(memType),
		"scope":       string(scope),
	}); err != nil {
		return nil, err
	}

	return &AddResult{Memory: mem, Deduplicated: false}, nil
}

func validateAdd(in models.AddInput) error {
	if in.Content == "" {
		return apierr.Validation("content", "must not be empty")
	}
	if in.AgentID == "" {
		return apierr.Validation("agent_id", "must not be empty")
	}
	if in.Scope != "" && !in.Scope.Valid() {
		return apierr.Validation("scope", "must be one of agent-private, agent-shared, global")
	}
	if in.MemoryType != "" && !in.MemoryType.Valid() {
		return apierr.Validation("memory_type", "unrecognized memory type")
	}
	if in.Scope == models.ScopeAgentShared && len(in.SharedWith) == 0 {
		return apierr.Validation("shared_with", "required when scope is agent-shared")
	}
	if in.Scope != "" && in.Scope != models.ScopeAgentShared && len(in.SharedWith) > 0 {
		return apierr.Validation("shared_with", "must be empty unless scope is agent-shared")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return apierr.KindOf(err) == apierr.KindServer && pgErrorCode(err) == "23505"
}

// pgErrorCode extracts the Postgres SQLSTATE from a wrapped driver error, or
// "" if err doesn't carry one.
func pgErrorCode(err error) string {
	type sqlStater interface{ SQLState() string }
	for e := err; e != nil; e = unwrap(e) {
		if s, ok := e.(sqlStater); ok {
			return s.SQLState()
		}
	}
	return ""
}

func unwrap(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return u.Unwrap()
	}
	return nil
}

func insertMemory(ctx context.Context, tx *sql.Tx, m *models.Memory) error {
	metadataJSON, err := marshalMetadata(m.Metadata)
	if err != nil {
		return err
	}
	row := tx.QueryRowContext(ctx, `
		INSERT INTO memories (
			id, project_id, namespace, agent_id, content, content_hash, embedding,
			scope, memory_type, ttl_seconds, expires_at, session_id, entity_id,
			sequence_number, metadata
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,
			CASE WHEN $10::bigint IS NULL THEN NULL ELSE now() + make_interval(secs => $10::double precision) END,
			$11,$12,$13,$14
		)
		RETURNING created_at, updated_at, expires_at`,
		m.ID, m.ProjectID, m.Namespace, m.AgentID, m.Content, m.ContentHash, pgvector.NewVector(m.Embedding),
		string(m.Scope), string(m.MemoryType), m.TTLSeconds, m.SessionID, m.EntityID, m.SequenceNumber, metadataJSON,
	)
	var expiresAt sql.NullTime
	if err := row.Scan(&m.CreatedAt, &m.UpdatedAt, &expiresAt); err != nil {
		return apierr.Wrap(apierr.KindServer, "failed to insert memory", err)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	return nil
}

func insertSharedAgents(ctx context.Context, tx *sql.Tx, memoryID string, agentIDs []string) error {
	for _, agentID := range agentIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_shared_agents (memory_id, agent_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			memoryID, agentID,
		); err != nil {
			return apierr.Wrap(apierr.KindServer, "failed to insert ACL row", err)
		}
	}
	return nil
}

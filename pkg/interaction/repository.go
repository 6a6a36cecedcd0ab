// Package interaction implements the interaction-event causal tree:
// per-session collaboration logs that form a tree rooted at null-parent
// events, searchable by embedding and retrievable as a linear root-to-node
// chain.
package interaction

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/embedding"
	"github.com/aegislabs/aegis-memory/pkg/idgen"
	"github.com/aegislabs/aegis-memory/pkg/models"
)

// maxChainDepth bounds chain traversal so a corrupted parent cycle (which
// should be impossible given the FK and insert-time validation below) can
// never spin forever.
const maxChainDepth = 10_000

// Repository is the Interaction Event Repository.
type Repository struct {
	db    *sql.DB
	embed *embedding.Service
}

// New builds an Interaction Event Repository.
func New(db *sql.DB, embeddingSvc *embedding.Service) *Repository {
	return &Repository{db: db, embed: embeddingSvc}
}

// eventColumns casts embedding to text because the column is nullable here
// (unlike memories.embedding, which is always set): pgvector-go's Vector
// Scan does not define NULL handling, so NULL is decoded at the text layer
// instead of relying on it.
const eventColumns = `event_id, project_id, session_id, agent_id, parent_event_id, kind, content, embedding::text, "timestamp"`

// Insert writes one node of the causal tree, optionally embedding content
// for later semantic search. A non-empty parentEventID must already exist
// within the same project.
func (r *Repository) Insert(ctx context.Context, projectID, sessionID, agentID string, parentEventID *string, kind, content string, embedContent bool) (*models.InteractionEvent, error) {
	if projectID == "" || sessionID == "" || agentID == "" || kind == "" {
		return nil, apierr.Validation("session_id/agent_id/kind", "must not be empty")
	}

	if parentEventID != nil {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM interaction_events WHERE project_id = $1 AND event_id = $2)`,
			projectID, *parentEventID,
		).Scan(&exists); err != nil {
			return nil, apierr.Wrap(apierr.KindServer, "failed to verify parent event", err)
		}
		if !exists {
			return nil, apierr.NotFound("interaction event", *parentEventID)
		}
	}

	var vector []float32
	if embedContent && content != "" {
		v, err := r.embed.Embed(ctx, content)
		if err != nil {
			return nil, err
		}
		vector = v
	}

	e := &models.InteractionEvent{
		EventID:       idgen.New(),
		ProjectID:     projectID,
		SessionID:     sessionID,
		AgentID:       agentID,
		ParentEventID: parentEventID,
		Kind:          kind,
		Content:       content,
		Embedding:     vector,
	}

	var vectorArg any
	if vector != nil {
		vectorArg = pgvector.NewVector(vector)
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO interaction_events (event_id, project_id, session_id, agent_id, parent_event_id, kind, content, embedding)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING "timestamp"`,
		e.EventID, e.ProjectID, e.SessionID, e.AgentID, e.ParentEventID, e.Kind, e.Content, vectorArg,
	)
	if err := row.Scan(&e.Timestamp); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to insert interaction event", err)
	}
	return e, nil
}

// ListBySession lists a session's interaction events ascending by timestamp.
func (r *Repository) ListBySession(ctx context.Context, projectID, sessionID string, limit int) ([]models.InteractionEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM interaction_events
		WHERE project_id = $1 AND session_id = $2 ORDER BY "timestamp" ASC LIMIT $3`,
		projectID, sessionID, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to list session interaction events", err)
	}
	defer rows.Close()
	return scanList(rows)
}

// ListByAgent lists an agent's interaction events descending by timestamp.
func (r *Repository) ListByAgent(ctx context.Context, projectID, agentID string, limit int) ([]models.InteractionEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM interaction_events
		WHERE project_id = $1 AND agent_id = $2 ORDER BY "timestamp" DESC LIMIT $3`,
		projectID, agentID, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to list agent interaction events", err)
	}
	defer rows.Close()
	return scanList(rows)
}

// Search embeds the query and returns the cosine-nearest events carrying an
// embedding, filtered to the tenant.
func (r *Repository) Search(ctx context.Context, projectID, queryText string, topK int) ([]models.InteractionEvent, error) {
	if topK <= 0 {
		topK = 10
	}
	vector, err := r.embed.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM interaction_events
		WHERE project_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2 ASC, "timestamp" DESC, event_id ASC
		LIMIT $3`,
		projectID, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "interaction event search failed", err)
	}
	defer rows.Close()
	return scanList(rows)
}

// Chain follows parent_event_id from eventID to its null-parent root,
// returning the linear path root-first.
func (r *Repository) Chain(ctx context.Context, projectID, eventID string) ([]models.InteractionEvent, error) {
	var reversed []models.InteractionEvent
	current := eventID
	seen := make(map[string]bool)

	for i := 0; i < maxChainDepth; i++ {
		if seen[current] {
			return nil, apierr.Newf(apierr.KindServer, "interaction event chain cycle detected at %q", current)
		}
		seen[current] = true

		row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM interaction_events
			WHERE project_id = $1 AND event_id = $2`, projectID, current)
		e, err := scanOne(row)
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("interaction event", current)
		}
		if err != nil {
			return nil, apierr.Wrap(apierr.KindServer, "failed to load interaction event chain", err)
		}
		reversed = append(reversed, *e)
		if e.ParentEventID == nil {
			break
		}
		current = *e.ParentEventID
	}

	out := make([]models.InteractionEvent, len(reversed))
	for i, e := range reversed {
		out[len(reversed)-1-i] = e
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (*models.InteractionEvent, error) {
	e := &models.InteractionEvent{}
	var parentEventID sql.NullString
	var embeddingText sql.NullString

	if err := s.Scan(&e.EventID, &e.ProjectID, &e.SessionID, &e.AgentID, &parentEventID, &e.Kind, &e.Content, &embeddingText, &e.Timestamp); err != nil {
		return nil, err
	}
	if parentEventID.Valid {
		e.ParentEventID = &parentEventID.String
	}
	if embeddingText.Valid {
		v, err := parseVectorText(embeddingText.String)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindServer, "failed to decode interaction event embedding", err)
		}
		e.Embedding = v
	}
	return e, nil
}

// parseVectorText decodes pgvector's text output form "[0.1,0.2,...]" into
// a float32 slice.
func parseVectorText(s string) ([]float32, error) {
	s = strings.TrimPrefix(strings.TrimSuffix(s, "]"), "[")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}

func scanOne(row *sql.Row) (*models.InteractionEvent, error) {
	return scanRow(row)
}

func scanList(rows *sql.Rows) ([]models.InteractionEvent, error) {
	var out []models.InteractionEvent
	for rows.Next() {
		e, err := scanRow(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindServer, "failed to scan interaction event", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

package ace

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/models"
)

// CreateSession is the initial write of the session state machine: starts
// active.
func (r *Repository) CreateSession(ctx context.Context, projectID, sessionID, agentID, summary string) (*models.SessionProgress, error) {
	if sessionID == "" || agentID == "" {
		return nil, apierr.Validation("session_id/agent_id", "must not be empty")
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO session_progress (session_id, project_id, agent_id, summary, status)
		VALUES ($1, $2, $3, $4, 'active')
		RETURNING session_id, project_id, agent_id, completed, in_progress, next, blocked, summary, last_action, status, created_at, updated_at`,
		sessionID, projectID, agentID, summary)
	return scanSession(row)
}

// GetSession fetches a session by id.
func (r *Repository) GetSession(ctx context.Context, projectID, sessionID string) (*models.SessionProgress, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT session_id, project_id, agent_id, completed, in_progress, next, blocked, summary, last_action, status, created_at, updated_at
		FROM session_progress WHERE project_id = $1 AND session_id = $2`, projectID, sessionID)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("session", sessionID)
	}
	return s, err
}

// UpdateSession implements update(session_id, patch): a shallow merge
// of list and scalar fields, rejecting mutation once terminal, and rejecting
// any status transition the state machine doesn't allow.
func (r *Repository) UpdateSession(ctx context.Context, projectID, sessionID string, patch models.SessionPatch) (*models.SessionProgress, error) {
	current, err := r.GetSession(ctx, projectID, sessionID)
	if err != nil {
		return nil, err
	}
	if current.Status == models.SessionCompleted || current.Status == models.SessionFailed {
		return nil, apierr.Newf(apierr.KindInvalidTransition, "session %q is %s and accepts no further updates", sessionID, current.Status)
	}

	next := *current
	if patch.Completed != nil {
		next.Completed = *patch.Completed
	}
	if patch.InProgress != nil {
		next.InProgress = *patch.InProgress
	}
	if patch.Next != nil {
		next.Next = *patch.Next
	}
	if patch.Blocked != nil {
		next.Blocked = *patch.Blocked
	}
	if patch.Summary != nil {
		next.Summary = *patch.Summary
	}
	if patch.LastAction != nil {
		next.LastAction = *patch.LastAction
	}
	if patch.Status != nil {
		if !current.Status.CanTransition(*patch.Status) {
			return nil, apierr.InvalidTransition(string(current.Status), string(*patch.Status))
		}
		next.Status = *patch.Status
	}

	completedJSON, err := json.Marshal(next.Completed)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to encode completed", err)
	}
	inProgressJSON, err := json.Marshal(next.InProgress)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to encode in_progress", err)
	}
	nextJSON, err := json.Marshal(next.Next)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to encode next", err)
	}
	blockedJSON, err := json.Marshal(next.Blocked)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to encode blocked", err)
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE session_progress
		SET completed = $3, in_progress = $4, next = $5, blocked = $6,
			summary = $7, last_action = $8, status = $9, updated_at = now()
		WHERE project_id = $1 AND session_id = $2
		RETURNING session_id, project_id, agent_id, completed, in_progress, next, blocked, summary, last_action, status, created_at, updated_at`,
		projectID, sessionID, completedJSON, inProgressJSON, nextJSON, blockedJSON,
		next.Summary, next.LastAction, string(next.Status))
	return scanSession(row)
}

func scanSession(row *sql.Row) (*models.SessionProgress, error) {
	s := &models.SessionProgress{}
	var completed, inProgress, nxt, blocked []byte
	var status string
	if err := row.Scan(&s.SessionID, &s.ProjectID, &s.AgentID, &completed, &inProgress, &nxt, &blocked,
		&s.Summary, &s.LastAction, &status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	if err := json.Unmarshal(completed, &s.Completed); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to decode completed", err)
	}
	if err := json.Unmarshal(inProgress, &s.InProgress); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to decode in_progress", err)
	}
	if err := json.Unmarshal(nxt, &s.Next); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to decode next", err)
	}
	if err := json.Unmarshal(blocked, &s.Blocked); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to decode blocked", err)
	}
	return s, nil
}

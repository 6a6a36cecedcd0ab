package ace

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/idgen"
	"github.com/aegislabs/aegis-memory/pkg/models"
	"github.com/aegislabs/aegis-memory/pkg/timeline"
)

// StartRun records a new in-flight ACE run.
func (r *Repository) StartRun(ctx context.Context, projectID, agentID, task string) (*models.ACERun, error) {
	if agentID == "" || task == "" {
		return nil, apierr.Validation("agent_id/task", "must not be empty")
	}
	run := &models.ACERun{RunID: idgen.New(), ProjectID: projectID, AgentID: agentID, Task: task}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO ace_runs (run_id, project_id, agent_id, task)
		VALUES ($1, $2, $3, $4)
		RETURNING started_at`,
		run.RunID, projectID, agentID, task)
	if err := row.Scan(&run.StartedAt); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to start run", err)
	}
	return run, nil
}

// CompleteRun closes out a run: on success, auto-votes helpful
// on every memory used; on failure, auto-votes harmful and writes a
// deterministic reflection summarizing the failure. Emits a run-completion
// event against every memory used.
func (r *Repository) CompleteRun(ctx context.Context, projectID, runID string, outcome models.RunOutcome, memoriesUsed []string, errorPattern *string) (*models.ACERun, error) {
	switch outcome {
	case models.RunSuccess, models.RunFailure, models.RunPartial:
	default:
		return nil, apierr.Validation("outcome", "must be one of success, failure, partial")
	}

	run, err := r.getRun(ctx, projectID, runID)
	if err != nil {
		return nil, err
	}

	usedJSON, err := json.Marshal(memoriesUsed)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to encode memories_used", err)
	}
	row := r.db.QueryRowContext(ctx, `
		UPDATE ace_runs SET memories_used = $3, outcome = $4, error_pattern = $5, completed_at = now()
		WHERE project_id = $1 AND run_id = $2
		RETURNING started_at, completed_at`,
		projectID, runID, usedJSON, string(outcome), errorPattern)
	if err := row.Scan(&run.StartedAt, &run.CompletedAt); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to complete run", err)
	}
	run.MemoriesUsed = memoriesUsed
	run.Outcome = outcome
	run.ErrorPattern = errorPattern

	switch outcome {
	case models.RunSuccess:
		for _, id := range memoriesUsed {
			if err := r.Vote(ctx, projectID, id, run.AgentID, models.VoteHelpful, nil, &runID); err != nil {
				return nil, err
			}
		}
	case models.RunFailure:
		for _, id := range memoriesUsed {
			if err := r.Vote(ctx, projectID, id, run.AgentID, models.VoteHarmful, nil, &runID); err != nil {
				return nil, err
			}
		}
		pattern := "run failure"
		if errorPattern != nil {
			pattern = *errorPattern
		}
		_, err := r.Reflection(ctx, projectID, ReflectionInput{
			Content:            failureReflectionContent(run.Task, memoriesUsed),
			AgentID:            run.AgentID,
			ErrorPattern:       &pattern,
			SourceTrajectoryID: &runID,
		})
		if err != nil {
			return nil, err
		}
	}

	for _, id := range memoriesUsed {
		if err := r.emitRunCompleted(ctx, projectID, id, run.AgentID, runID, outcome); err != nil {
			return nil, err
		}
	}

	return run, nil
}

// GetRun fetches a run by id.
func (r *Repository) GetRun(ctx context.Context, projectID, runID string) (*models.ACERun, error) {
	return r.getRun(ctx, projectID, runID)
}

func (r *Repository) getRun(ctx context.Context, projectID, runID string) (*models.ACERun, error) {
	var run models.ACERun
	var usedJSON []byte
	var outcome sql.NullString
	var errorPattern sql.NullString
	var completedAt sql.NullTime
	row := r.db.QueryRowContext(ctx, `
		SELECT run_id, project_id, agent_id, task, memories_used, outcome, error_pattern, started_at, completed_at
		FROM ace_runs WHERE project_id = $1 AND run_id = $2`, projectID, runID)
	if err := row.Scan(&run.RunID, &run.ProjectID, &run.AgentID, &run.Task, &usedJSON, &outcome, &errorPattern, &run.StartedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("run", runID)
		}
		return nil, apierr.Wrap(apierr.KindServer, "failed to load run", err)
	}
	_ = json.Unmarshal(usedJSON, &run.MemoriesUsed)
	if outcome.Valid {
		run.Outcome = models.RunOutcome(outcome.String)
	}
	if errorPattern.Valid {
		run.ErrorPattern = &errorPattern.String
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

func (r *Repository) emitRunCompleted(ctx context.Context, projectID, memoryID, agentID, runID string, outcome models.RunOutcome) error {
	mem, err := r.memories.Get(ctx, projectID, memoryID)
	if err != nil {
		return err
	}
	return timeline.Emit(ctx, r.db, projectID, memoryID, mem.Namespace, &agentID, models.EventRunCompleted, map[string]any{
		"run_id":  runID,
		"outcome": string(outcome),
	})
}

package ace

import (
	"context"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/idgen"
	"github.com/aegislabs/aegis-memory/pkg/models"
	"github.com/aegislabs/aegis-memory/pkg/timeline"
)

// Vote appends a VoteHistory row and atomically
// increments the memory's counter in a single statement (never
// read-modify-write). Duplicate votes from the same voter are permitted and
// additive — dedup is a policy concern, not enforced here.
func (r *Repository) Vote(ctx context.Context, projectID, memoryID, voterAgentID string, vote models.VoteKind, voteContext, taskID *string) error {
	if !vote.Valid() {
		return apierr.Validation("vote", "must be one of helpful, harmful")
	}
	if memoryID == "" || voterAgentID == "" {
		return apierr.Validation("memory_id/voter_agent_id", "must not be empty")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.KindServer, "failed to begin vote transaction", err)
	}
	defer tx.Rollback()

	mem, err := r.memories.GetInTx(ctx, tx, projectID, memoryID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vote_history (id, memory_id, voter_agent_id, vote, context, task_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		idgen.New(), memoryID, voterAgentID, string(vote), voteContext, taskID,
	); err != nil {
		return apierr.Wrap(apierr.KindServer, "failed to record vote", err)
	}

	column := "helpful_votes"
	eventType := models.EventVotedHelpful
	if vote == models.VoteHarmful {
		column = "harmful_votes"
		eventType = models.EventVotedHarmful
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE memories SET `+column+` = `+column+` + 1, updated_at = now() WHERE id = $1`,
		memoryID,
	); err != nil {
		return apierr.Wrap(apierr.KindServer, "failed to increment vote counter", err)
	}

	if err := timeline.Emit(ctx, tx, projectID, memoryID, mem.Namespace, &voterAgentID, eventType, map[string]any{
		"task_id": taskID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apierr.Wrap(apierr.KindServer, "failed to commit vote", err)
	}
	return nil
}

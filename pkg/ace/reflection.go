package ace

import (
	"context"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/models"
	"github.com/aegislabs/aegis-memory/pkg/timeline"
)

// ReflectionInput is the payload accepted by Reflection.
type ReflectionInput struct {
	Content             string
	AgentID             string
	ErrorPattern        *string
	CorrectApproach     *string
	SourceTrajectoryID  *string
	ApplicableContexts  []string
	Scope               models.Scope
}

// Reflection is shorthand for Memory.Add with
// memory_type=reflection, writing the extra fields into metadata. Always
// emits a reflected event in addition to the created event Add emits.
func (r *Repository) Reflection(ctx context.Context, projectID string, in ReflectionInput) (*models.Memory, error) {
	if in.Content == "" || in.AgentID == "" {
		return nil, apierr.Validation("content/agent_id", "must not be empty")
	}
	scope := in.Scope
	if scope == "" {
		scope = models.ScopeGlobal
	}

	metadata := map[string]any{}
	if in.ErrorPattern != nil {
		metadata["error_pattern"] = *in.ErrorPattern
	}
	if in.CorrectApproach != nil {
		metadata["correct_approach"] = *in.CorrectApproach
	}
	if in.SourceTrajectoryID != nil {
		metadata["source_trajectory_id"] = *in.SourceTrajectoryID
	}
	if len(in.ApplicableContexts) > 0 {
		metadata["applicable_contexts"] = in.ApplicableContexts
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to begin reflection transaction", err)
	}
	defer tx.Rollback()

	result, err := r.memories.AddInTx(ctx, tx, projectID, models.AddInput{
		Content:    in.Content,
		AgentID:    in.AgentID,
		Scope:      scope,
		MemoryType: models.MemoryTypeReflection,
		Metadata:   metadata,
	})
	if err != nil {
		return nil, err
	}

	if err := timeline.Emit(ctx, tx, projectID, result.Memory.ID, result.Memory.Namespace, &in.AgentID, models.EventReflected, map[string]any{
		"error_pattern":        in.ErrorPattern,
		"source_trajectory_id": in.SourceTrajectoryID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to commit reflection", err)
	}
	return result.Memory, nil
}

// failureReflectionContent is the server-generated deterministic template
// used by complete_run on a failed outcome.
func failureReflectionContent(task string, memoryIDs []string) string {
	return "Run failed for task: " + task + ". Memories marked harmful: " + joinIDs(memoryIDs) + "."
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += id
	}
	return out
}

package ace

import (
	"context"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/idgen"
	"github.com/aegislabs/aegis-memory/pkg/metrics"
)

// curationAutoAgent is the sentinel agent_id curation_runs rows use when a
// curation pass scans the whole project rather than one agent's memories —
// curation itself is not agent-scoped.
const curationAutoAgent = ""

// lowEffectivenessThreshold and minVoteSample are the conservative
// thresholds the Open Questions section of the curation spec recommends.
const (
	lowEffectivenessThreshold = -0.5
	minVoteSample             = 5
)

// CurationResult reports what a Curate call did.
type CurationResult struct {
	NoOp        bool
	Deprecated  []string
}

// Curate auto-deprecates non-deprecated
// strategy/reflection memories with effectiveness <= -0.5 and a vote sample
// >= 5, idempotent within the same UTC day via a curation_run row keyed on
// the current date.
func (r *Repository) Curate(ctx context.Context, projectID string, today string) (*CurationResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to begin curation transaction", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM curation_runs WHERE project_id = $1 AND agent_id = $2 AND trigger_run_id = $3)`,
		projectID, curationAutoAgent, today,
	).Scan(&exists); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to check prior curation run", err)
	}
	if exists {
		return &CurationResult{NoOp: true}, tx.Commit()
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM memories
		WHERE project_id = $1 AND deleted_at IS NULL AND is_deprecated = false
		AND memory_type IN ('strategy', 'reflection')
		AND (helpful_votes + harmful_votes) >= $2
		AND (helpful_votes - harmful_votes)::float8 / (helpful_votes + harmful_votes + 1) <= $3`,
		projectID, minVoteSample, lowEffectivenessThreshold)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to scan candidates for curation", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apierr.Wrap(apierr.KindServer, "failed to scan curation candidate", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to iterate curation candidates", err)
	}
	rows.Close()

	reason := "auto-curated: low effectiveness"
	for _, id := range ids {
		if _, err := r.memories.DeprecateInTx(ctx, tx, projectID, id, nil, &reason); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO curation_runs (id, project_id, agent_id, trigger_run_id, completed_at)
		 VALUES ($1, $2, $3, $4, now())`,
		idgen.New(), projectID, curationAutoAgent, today,
	); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to record curation run", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to commit curation run", err)
	}
	metrics.CurationDeprecations.Add(float64(len(ids)))
	return &CurationResult{Deprecated: ids}, nil
}


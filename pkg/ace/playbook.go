package ace

import (
	"context"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/models"
)

// PlaybookOptions narrows a playbook call.
type PlaybookOptions struct {
	Namespace        string
	IncludeTypes     []models.MemoryType
	MinEffectiveness float64
	TopK             int
}

var defaultPlaybookTypes = []models.MemoryType{
	models.MemoryTypeStrategy, models.MemoryTypeReflection, models.MemoryTypeStandard,
}

// Playbook does ACL-filtered, effectiveness- and recency-weighted retrieval
// of strategy/reflection/standard memories.
func (r *Repository) Playbook(ctx context.Context, projectID, agentID, queryText string, opts PlaybookOptions) ([]models.ScoredMemory, error) {
	if agentID == "" {
		return nil, apierr.Validation("agent_id", "must not be empty")
	}
	includeTypes := opts.IncludeTypes
	if len(includeTypes) == 0 {
		includeTypes = defaultPlaybookTypes
	}
	for _, t := range includeTypes {
		switch t {
		case models.MemoryTypeStrategy, models.MemoryTypeReflection, models.MemoryTypeStandard:
		default:
			return nil, apierr.Validation("include_types", "must be a subset of strategy, reflection, standard")
		}
	}

	vector, err := r.embed.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	return r.memories.RankedSearch(ctx, projectID, agentID, opts.Namespace, vector, includeTypes, opts.MinEffectiveness, opts.TopK)
}

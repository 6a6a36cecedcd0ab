package memory

import (
	"context"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/embedding"
	"github.com/aegislabs/aegis-memory/pkg/idgen"
	"github.com/aegislabs/aegis-memory/pkg/models"
	"github.com/aegislabs/aegis-memory/pkg/timeline"
)

// BatchResult is the aggregate outcome of AddBatch.
type BatchResult struct {
	Added        []*models.Memory
	Deduplicated []*models.Memory
}

// AddBatch issues a single embedding batch call for the
// whole item list, with per-item dedup, writing every memory and ACL row in
// one transaction.
func (r *Repository) AddBatch(ctx context.Context, projectID string, items []models.AddInput) (*BatchResult, error) {
	if len(items) == 0 {
		return &BatchResult{}, nil
	}
	for _, in := range items {
		if err := validateAdd(in); err != nil {
			return nil, err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	result := &BatchResult{}
	toEmbedIdx := make([]int, 0, len(items))
	toEmbedText := make([]string, 0, len(items))
	hashes := make([]string, len(items))
	namespaces := make([]string, len(items))

	for i, in := range items {
		ns := in.Namespace
		if ns == "" {
			ns = "default"
		}
		namespaces[i] = ns
		h := embedding.Hash(in.Content)
		hashes[i] = h

		existing, err := findLiveByHash(ctx, tx, projectID, ns, in.AgentID, h)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			result.Deduplicated = append(result.Deduplicated, existing)
			continue
		}
		toEmbedIdx = append(toEmbedIdx, i)
		toEmbedText = append(toEmbedText, in.Content)
	}

	var vectors [][]float32
	if len(toEmbedText) > 0 {
		vectors, err = r.embed.EmbedBatch(ctx, toEmbedText)
		if err != nil {
			return nil, err
		}
	}

	for vi, i := range toEmbedIdx {
		in := items[i]
		scope := in.Scope
		if scope == "" {
			scope = models.ScopeAgentPrivate
		}
		memType := in.MemoryType
		if memType == "" {
			memType = models.MemoryTypeStandard
		}
		mem := &models.Memory{
			ID:             idgen.New(),
			ProjectID:      projectID,
			Namespace:      namespaces[i],
			AgentID:        in.AgentID,
			Content:        in.Content,
			ContentHash:    hashes[i],
			Embedding:      vectors[vi],
			Scope:          scope,
			SharedWith:     in.SharedWith,
			MemoryType:     memType,
			TTLSeconds:     in.TTLSeconds,
			SessionID:      in.SessionID,
			EntityID:       in.EntityID,
			SequenceNumber: in.SequenceNumber,
			Metadata:       in.Metadata,
		}
		if _, err := tx.ExecContext(ctx, "SAVEPOINT memory_insert"); err != nil {
			return nil, apierr.Wrap(apierr.KindServer, "failed to set insert savepoint", err)
		}
		if err := insertMemory(ctx, tx, mem); err != nil {
			if isUniqueViolation(err) {
				if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT memory_insert"); rbErr != nil {
					return nil, apierr.Wrap(apierr.KindServer, "failed to roll back insert savepoint", rbErr)
				}
				existing, findErr := findLiveByHash(ctx, tx, projectID, namespaces[i], in.AgentID, hashes[i])
				if findErr != nil {
					return nil, findErr
				}
				if existing != nil {
					result.Deduplicated = append(result.Deduplicated, existing)
					continue
				}
			}
			return nil, err
		}
		if scope == models.ScopeAgentShared {
			if err := insertSharedAgents(ctx, tx, mem.ID, in.SharedWith); err != nil {
				return nil, err
			}
		}
		agentID := mem.AgentID
		if err := timeline.Emit(ctx, tx, projectID, mem.ID, mem.Namespace, &agentID, models.EventCreated, map[string]any{
			"memory_type": string(mem.MemoryType),
			"scope":       string(mem.Scope),
		}); err != nil {
			return nil, err
		}
		result.Added = append(result.Added, mem)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to commit memory batch", err)
	}
	return result, nil
}

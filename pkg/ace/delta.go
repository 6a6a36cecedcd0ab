package ace

import (
	"context"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/models"
)

// DeltaOutcome is the per-op result of Delta, positionally aligned with the
// input ops slice.
type DeltaOutcome struct {
	Op     models.DeltaOpType
	Memory *models.Memory
	Added  bool // only meaningful for DeltaAdd: false means the add deduplicated
}

// Delta applies a list of atomic operations in order in one transaction;
// any failure rolls back the entire batch.
func (r *Repository) Delta(ctx context.Context, projectID string, ops []models.DeltaOp) ([]DeltaOutcome, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	for _, op := range ops {
		if err := validateDeltaOp(op); err != nil {
			return nil, err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to begin delta transaction", err)
	}
	defer tx.Rollback()

	out := make([]DeltaOutcome, 0, len(ops))
	for _, op := range ops {
		switch op.Type {
		case models.DeltaAdd:
			result, err := r.memories.AddInTx(ctx, tx, projectID, *op.Add)
			if err != nil {
				return nil, err
			}
			out = append(out, DeltaOutcome{Op: op.Type, Memory: result.Memory, Added: !result.Deduplicated})
		case models.DeltaUpdate:
			mem, err := r.memories.UpdateMetadataInTx(ctx, tx, projectID, op.MemoryID, op.MetadataPatch)
			if err != nil {
				return nil, err
			}
			out = append(out, DeltaOutcome{Op: op.Type, Memory: mem})
		case models.DeltaDeprecate:
			mem, err := r.memories.DeprecateInTx(ctx, tx, projectID, op.MemoryID, op.SupersededBy, op.DeprecationReason)
			if err != nil {
				return nil, err
			}
			out = append(out, DeltaOutcome{Op: op.Type, Memory: mem})
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to commit delta batch", err)
	}
	return out, nil
}

func validateDeltaOp(op models.DeltaOp) error {
	switch op.Type {
	case models.DeltaAdd:
		if op.Add == nil {
			return apierr.Validation("add", "required for delta op type add")
		}
	case models.DeltaUpdate:
		if op.MemoryID == "" {
			return apierr.Validation("memory_id", "required for delta op type update")
		}
	case models.DeltaDeprecate:
		if op.MemoryID == "" {
			return apierr.Validation("memory_id", "required for delta op type deprecate")
		}
	default:
		return apierr.Validation("type", "must be one of add, update, deprecate")
	}
	return nil
}

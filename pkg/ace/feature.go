package ace

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/models"
)

// CreateFeature is the initial write of the feature state machine: starts
// not_started.
func (r *Repository) CreateFeature(ctx context.Context, projectID, featureID, description string, testSteps []string) (*models.FeatureTracker, error) {
	if featureID == "" {
		return nil, apierr.Validation("feature_id", "must not be empty")
	}
	stepsJSON, err := json.Marshal(testSteps)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to encode test steps", err)
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO feature_tracker (feature_id, project_id, description, test_steps, status)
		VALUES ($1, $2, $3, $4, 'not_started')
		RETURNING feature_id, project_id, description, test_steps, status, passes, failure_reason, verified_by, created_at, updated_at`,
		featureID, projectID, description, stepsJSON)
	return scanFeature(row)
}

// GetFeature fetches a feature tracker by id.
func (r *Repository) GetFeature(ctx context.Context, projectID, featureID string) (*models.FeatureTracker, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT feature_id, project_id, description, test_steps, status, passes, failure_reason, verified_by, created_at, updated_at
		FROM feature_tracker WHERE project_id = $1 AND feature_id = $2`, projectID, featureID)
	f, err := scanFeature(row)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("feature", featureID)
	}
	return f, err
}

// UpdateFeature applies patch, enforcing the state machine: mark_complete
// requires a non-empty verified_by and then sets passes; test steps carry no
// pass/fail state of their own and are not checked individually.
// mark_failed(reason) records failure_reason. Any transition the machine
// doesn't allow fails with InvalidTransition and leaves state unchanged.
func (r *Repository) UpdateFeature(ctx context.Context, projectID, featureID string, patch models.FeaturePatch) (*models.FeatureTracker, error) {
	current, err := r.GetFeature(ctx, projectID, featureID)
	if err != nil {
		return nil, err
	}

	next := *current
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.TestSteps != nil {
		next.TestSteps = *patch.TestSteps
	}
	if patch.FailureReason != nil {
		next.FailureReason = patch.FailureReason
	}
	if patch.VerifiedBy != nil {
		next.VerifiedBy = patch.VerifiedBy
	}
	if patch.Status != nil {
		if !current.Status.CanTransition(*patch.Status) {
			return nil, apierr.InvalidTransition(string(current.Status), string(*patch.Status))
		}
		if *patch.Status == models.FeatureComplete {
			if next.VerifiedBy == nil || *next.VerifiedBy == "" {
				return nil, apierr.Validation("verified_by", "required to mark a feature complete")
			}
			next.Passes = true
		}
		if *patch.Status == models.FeatureFailed && (next.FailureReason == nil || *next.FailureReason == "") {
			return nil, apierr.Validation("failure_reason", "required to mark a feature failed")
		}
		next.Status = *patch.Status
	}

	stepsJSON, err := json.Marshal(next.TestSteps)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to encode test steps", err)
	}
	row := r.db.QueryRowContext(ctx, `
		UPDATE feature_tracker
		SET description = $3, test_steps = $4, status = $5, passes = $6,
			failure_reason = $7, verified_by = $8, updated_at = now()
		WHERE project_id = $1 AND feature_id = $2
		RETURNING feature_id, project_id, description, test_steps, status, passes, failure_reason, verified_by, created_at, updated_at`,
		projectID, featureID, next.Description, stepsJSON, string(next.Status), next.Passes,
		next.FailureReason, next.VerifiedBy)
	return scanFeature(row)
}

// ListFeatures returns every feature tracker for a project, most recently
// updated first.
func (r *Repository) ListFeatures(ctx context.Context, projectID string) ([]*models.FeatureTracker, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT feature_id, project_id, description, test_steps, status, passes, failure_reason, verified_by, created_at, updated_at
		FROM feature_tracker WHERE project_id = $1 ORDER BY updated_at DESC`, projectID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to list features", err)
	}
	defer rows.Close()

	var out []*models.FeatureTracker
	for rows.Next() {
		f, err := scanFeatureRow(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindServer, "failed to scan feature", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeatureRow(s rowScanner) (*models.FeatureTracker, error) {
	f := &models.FeatureTracker{}
	var testSteps []byte
	var status string
	var failureReason, verifiedBy sql.NullString
	if err := s.Scan(&f.FeatureID, &f.ProjectID, &f.Description, &testSteps, &status, &f.Passes,
		&failureReason, &verifiedBy, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Status = models.FeatureStatus(status)
	if err := json.Unmarshal(testSteps, &f.TestSteps); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to decode test steps", err)
	}
	if failureReason.Valid {
		f.FailureReason = &failureReason.String
	}
	if verifiedBy.Valid {
		f.VerifiedBy = &verifiedBy.String
	}
	return f, nil
}

func scanFeature(row *sql.Row) (*models.FeatureTracker, error) {
	return scanFeatureRow(row)
}

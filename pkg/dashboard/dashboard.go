// Package dashboard implements the read-only aggregations behind the metrics
// dashboard:
// event-type counts by time bucket, top memories by effectiveness, and the
// effectiveness/success-rate correlation used by evaluation tooling.
package dashboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/models"
)

// Repository is the Dashboard & Eval read path. It never mutates state.
type Repository struct {
	db *sql.DB
}

// New builds a Dashboard & Eval repository.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EventTypeCount is one row of the event-count-by-bucket aggregation.
type EventTypeCount struct {
	BucketStart time.Time              `json:"bucket_start"`
	EventType   models.MemoryEventType `json:"event_type"`
	Count       int64                  `json:"count"`
}

// EventCountsByBucket counts events by type in fixed-width buckets
// (bucketSeconds wide) over [since, until).
func (r *Repository) EventCountsByBucket(ctx context.Context, projectID string, since, until time.Time, bucketSeconds int) ([]EventTypeCount, error) {
	if bucketSeconds <= 0 {
		bucketSeconds = 3600
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT to_timestamp(floor(extract(epoch from created_at) / $4) * $4) AS bucket_start,
			event_type, count(*) AS cnt
		FROM memory_events
		WHERE project_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY bucket_start, event_type
		ORDER BY bucket_start ASC, event_type ASC`,
		projectID, since, until, bucketSeconds)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to aggregate event counts", err)
	}
	defer rows.Close()

	var out []EventTypeCount
	for rows.Next() {
		var c EventTypeCount
		var eventType string
		if err := rows.Scan(&c.BucketStart, &eventType, &c.Count); err != nil {
			return nil, apierr.Wrap(apierr.KindServer, "failed to scan event count row", err)
		}
		c.EventType = models.MemoryEventType(eventType)
		out = append(out, c)
	}
	return out, rows.Err()
}

// MemoryEffectiveness pairs a memory's identity with its derived score, for
// the top-memories report — deliberately not the full Memory row, since the
// dashboard never needs embeddings or ACL rows.
type MemoryEffectiveness struct {
	MemoryID      string  `json:"memory_id"`
	Content       string  `json:"content"`
	MemoryType    string  `json:"memory_type"`
	HelpfulVotes  int64   `json:"helpful_votes"`
	HarmfulVotes  int64   `json:"harmful_votes"`
	Effectiveness float64 `json:"effectiveness"`
}

// TopMemoriesByEffectiveness ranks non-deprecated memories by the derived
// effectiveness score, breaking ties by vote volume then recency for
// determinism.
func (r *Repository) TopMemoriesByEffectiveness(ctx context.Context, projectID string, limit int) ([]MemoryEffectiveness, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, content, memory_type, helpful_votes, harmful_votes,
			(helpful_votes - harmful_votes)::float8 / (helpful_votes + harmful_votes + 1) AS effectiveness
		FROM memories
		WHERE project_id = $1 AND deleted_at IS NULL AND is_deprecated = false
		ORDER BY effectiveness DESC, (helpful_votes + harmful_votes) DESC, created_at DESC, id ASC
		LIMIT $2`,
		projectID, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to rank memories by effectiveness", err)
	}
	defer rows.Close()

	var out []MemoryEffectiveness
	for rows.Next() {
		var m MemoryEffectiveness
		if err := rows.Scan(&m.MemoryID, &m.Content, &m.MemoryType, &m.HelpfulVotes, &m.HarmfulVotes, &m.Effectiveness); err != nil {
			return nil, apierr.Wrap(apierr.KindServer, "failed to scan effectiveness row", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CorrelationResult is the outcome of EffectivenessSuccessCorrelation.
type CorrelationResult struct {
	InsufficientData bool    `json:"insufficient_data"`
	SampleSize       int     `json:"sample_size,omitempty"`
	Coefficient      float64 `json:"coefficient,omitempty"`
}

// minCorrelationSample is the fixed minimum sample size below which 
// requires "insufficient_data" instead of a (statistically unstable)
// point estimate.
const minCorrelationSample = 10

// EffectivenessSuccessCorrelation computes a point-biserial correlation
// between each consumed memory's effectiveness
// score (continuous) and whether the run that consumed it succeeded
// (binary). One (effectiveness, outcome) pair is emitted per
// (run, memory_used) edge, so a memory reused across many runs contributes
// one sample per run — the statistic is over run outcomes, not over
// memories.
func (r *Repository) EffectivenessSuccessCorrelation(ctx context.Context, projectID string) (*CorrelationResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT memories_used, outcome
		FROM ace_runs
		WHERE project_id = $1 AND outcome IS NOT NULL`,
		projectID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to load runs for correlation", err)
	}
	defer rows.Close()

	type edge struct {
		memoryID string
		success  bool
	}
	var edges []edge
	for rows.Next() {
		var usedJSON []byte
		var outcome string
		if err := rows.Scan(&usedJSON, &outcome); err != nil {
			return nil, apierr.Wrap(apierr.KindServer, "failed to scan run for correlation", err)
		}
		var used []string
		if err := json.Unmarshal(usedJSON, &used); err != nil {
			return nil, apierr.Wrap(apierr.KindServer, "failed to decode memories_used", err)
		}
		success := outcome == string(models.RunSuccess)
		for _, id := range used {
			edges = append(edges, edge{memoryID: id, success: success})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to iterate runs for correlation", err)
	}
	if len(edges) < minCorrelationSample {
		return &CorrelationResult{InsufficientData: true, SampleSize: len(edges)}, nil
	}

	effectiveness := make(map[string]float64, len(edges))
	ids := make([]string, 0, len(edges))
	seen := make(map[string]bool)
	for _, e := range edges {
		if !seen[e.memoryID] {
			seen[e.memoryID] = true
			ids = append(ids, e.memoryID)
		}
	}
	effRows, err := r.db.QueryContext(ctx, `
		SELECT id, (helpful_votes - harmful_votes)::float8 / (helpful_votes + harmful_votes + 1)
		FROM memories WHERE project_id = $1 AND id = ANY($2)`,
		projectID, ids)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to load memory effectiveness for correlation", err)
	}
	defer effRows.Close()
	for effRows.Next() {
		var id string
		var eff float64
		if err := effRows.Scan(&id, &eff); err != nil {
			return nil, apierr.Wrap(apierr.KindServer, "failed to scan memory effectiveness row", err)
		}
		effectiveness[id] = eff
	}
	if err := effRows.Err(); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to iterate memory effectiveness rows", err)
	}

	var xs []float64 // effectiveness
	var ys []float64 // 1.0 success / 0.0 failure
	for _, e := range edges {
		eff, ok := effectiveness[e.memoryID]
		if !ok {
			continue // memory since hard-deleted; excluded rather than biasing with a synthetic value
		}
		xs = append(xs, eff)
		if e.success {
			ys = append(ys, 1)
		} else {
			ys = append(ys, 0)
		}
	}
	if len(xs) < minCorrelationSample {
		return &CorrelationResult{InsufficientData: true, SampleSize: len(xs)}, nil
	}

	return &CorrelationResult{SampleSize: len(xs), Coefficient: pointBiserial(xs, ys)}, nil
}

// pointBiserial computes the point-biserial correlation coefficient between
// a continuous sample x and a binary sample y (values 0/1), equivalent to
// Pearson's r for this special case.
func pointBiserial(x, y []float64) float64 {
	n := float64(len(x))
	var sumY float64
	for _, v := range y {
		sumY += v
	}
	p := sumY / n
	q := 1 - p
	if p == 0 || q == 0 {
		return 0 // no variance in the binary outcome: correlation is undefined, report neutral
	}

	var m1Sum, m0Sum float64
	var n1, n0 float64
	for i, v := range y {
		if v == 1 {
			m1Sum += x[i]
			n1++
		} else {
			m0Sum += x[i]
			n0++
		}
	}
	m1 := m1Sum / n1
	m0 := m0Sum / n0

	var mean, variance float64
	for _, v := range x {
		mean += v
	}
	mean /= n
	for _, v := range x {
		variance += (v - mean) * (v - mean)
	}
	variance /= n
	sn := math.Sqrt(variance)
	if sn == 0 {
		return 0
	}

	return (m1 - m0) / sn * math.Sqrt(p*q)
}

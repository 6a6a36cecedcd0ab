// Package metrics defines the Prometheus collectors served at GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EmbeddingCacheHits counts embedding cache lookups by tier ("tier1", "tier2", "miss").
	EmbeddingCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_embedding_cache_lookups_total",
		Help: "Embedding cache lookups, partitioned by which tier resolved them.",
	}, []string{"tier"})

	// RateLimitDenials counts requests rejected by the rate limiter, by project.
	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_rate_limit_denials_total",
		Help: "Requests denied by the per-project rate limiter.",
	}, []string{"project_id"})

	// RequestDuration observes handler latency by route, method and status code.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aegis_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	// MemoryEventsEmitted counts memory_events rows written, by event_type.
	MemoryEventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_memory_events_total",
		Help: "Memory timeline events emitted, by event_type.",
	}, []string{"event_type"})

	// CurationDeprecations counts memories auto-deprecated by the curation pass.
	CurationDeprecations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aegis_curation_deprecations_total",
		Help: "Memories auto-deprecated by the curation pass for low effectiveness.",
	})
)

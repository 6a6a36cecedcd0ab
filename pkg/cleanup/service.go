// Package cleanup provides the background TTL-expiry sweep: memories past
// their expires_at are hard-deleted rather than left to accumulate, since
// TTL is a retention policy, not a soft-hide.
package cleanup

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
)

// DefaultInterval is how often the sweep runs absent an explicit override.
const DefaultInterval = 5 * time.Minute

// Service periodically hard-deletes memories whose expires_at has passed.
// All operations are idempotent and safe to run from multiple processes.
type Service struct {
	db       *sql.DB
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service against db, sweeping every interval.
func NewService(db *sql.DB, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{db: db, interval: interval}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started", "interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweepExpired(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired(ctx)
		}
	}
}

// sweepExpired deletes every memory row whose expires_at has passed. The
// memories FK chain (memory_shared_agents, memory_events, vote_history)
// cascades on delete, so a single statement is sufficient.
func (s *Service) sweepExpired(ctx context.Context) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		slog.Error("ttl sweep failed", "error", apierr.Wrap(apierr.KindServer, "ttl sweep query failed", err))
		return
	}
	if count, err := result.RowsAffected(); err == nil && count > 0 {
		slog.Info("ttl sweep expired memories", "count", count)
	}
}

package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

// MemoryLimiter is the in-process backend: a sliding window over ring
// buffers of timestamps, guarded by sharded mutexes so contention stays
// negligible under expected QPS.
type MemoryLimiter struct {
	cfg    Config
	shards [shardCount]*shard
	now    func() time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*projectWindows
}

type projectWindows struct {
	minute []time.Time
	hour   []time.Time
}

// NewMemoryLimiter builds an in-process limiter.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	l := &MemoryLimiter{cfg: cfg, now: time.Now}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string]*projectWindows)}
	}
	return l
}

func (l *MemoryLimiter) shardFor(projectID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(projectID))
	return l.shards[h.Sum32()%shardCount]
}

func trim(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

// Check implements Limiter.
func (l *MemoryLimiter) Check(_ context.Context, projectID string) (Result, error) {
	s := l.shardFor(projectID)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[projectID]
	if !ok {
		w = &projectWindows{}
		s.windows[projectID] = w
	}

	now := l.now()
	w.minute = trim(w.minute, now.Add(-time.Minute))
	w.hour = trim(w.hour, now.Add(-time.Hour))

	minuteCount := len(w.minute)
	hourCount := len(w.hour)

	allowed := minuteCount < l.cfg.PerMinute && hourCount < l.cfg.PerHour
	if allowed {
		w.minute = append(w.minute, now)
		w.hour = append(w.hour, now)
		minuteCount++
		hourCount++
	}

	retryAfter := 0
	if !allowed {
		retryAfter = 1
		if minuteCount >= l.cfg.PerMinute && len(w.minute) > 0 {
			retryAfter = int(time.Until(w.minute[0].Add(time.Minute)).Seconds()) + 1
		}
	}

	return Result{
		Allowed:           allowed,
		RetryAfterSeconds: retryAfter,
		RemainingMinute:   max0(l.cfg.PerMinute - minuteCount),
		RemainingHour:     max0(l.cfg.PerHour - hourCount),
	}, nil
}

// Remaining implements Limiter.
func (l *MemoryLimiter) Remaining(_ context.Context, projectID string) (int, int, error) {
	s := l.shardFor(projectID)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[projectID]
	if !ok {
		return l.cfg.PerMinute, l.cfg.PerHour, nil
	}
	now := l.now()
	w.minute = trim(w.minute, now.Add(-time.Minute))
	w.hour = trim(w.hour, now.Add(-time.Hour))
	return max0(l.cfg.PerMinute - len(w.minute)), max0(l.cfg.PerHour - len(w.hour)), nil
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

var _ Limiter = (*MemoryLimiter)(nil)

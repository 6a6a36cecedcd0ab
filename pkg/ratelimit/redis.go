package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
)

// RedisLimiter is the distributed backend: per-project sliding windows kept
// as Redis sorted sets, trimmed and counted in one pipelined round trip.
type RedisLimiter struct {
	cfg    Config
	client *redis.Client
	now    func() time.Time
}

// NewRedisLimiter builds a distributed limiter against an already-configured client.
func NewRedisLimiter(client *redis.Client, cfg Config) *RedisLimiter {
	return &RedisLimiter{cfg: cfg, client: client, now: time.Now}
}

func minuteKey(projectID string) string { return fmt.Sprintf("ratelimit:%s:minute", projectID) }
func hourKey(projectID string) string   { return fmt.Sprintf("ratelimit:%s:hour", projectID) }

// Check implements Limiter. It speculatively records `now`, then inspects the
// resulting cardinality; a denied request removes the speculative entry so
// it doesn't count against a subsequent retry.
func (l *RedisLimiter) Check(ctx context.Context, projectID string) (Result, error) {
	now := l.now()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	mKey, hKey := minuteKey(projectID), hourKey(projectID)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, mKey, "-inf", fmt.Sprintf("%d", now.Add(-time.Minute).UnixNano()))
	pipe.ZRemRangeByScore(ctx, hKey, "-inf", fmt.Sprintf("%d", now.Add(-time.Hour).UnixNano()))
	pipe.ZAdd(ctx, mKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.ZAdd(ctx, hKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, mKey, time.Minute)
	pipe.Expire(ctx, hKey, time.Hour)
	minuteCountCmd := pipe.ZCard(ctx, mKey)
	hourCountCmd := pipe.ZCard(ctx, hKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, apierr.Wrap(apierr.KindExternal, "rate limiter backend unavailable", err)
	}

	minuteCount := int(minuteCountCmd.Val())
	hourCount := int(hourCountCmd.Val())

	allowed := minuteCount <= l.cfg.PerMinute && hourCount <= l.cfg.PerHour
	if !allowed {
		// Undo the speculative record from both sets so this denial is free.
		l.client.ZRem(ctx, mKey, member)
		l.client.ZRem(ctx, hKey, member)
		if minuteCount > l.cfg.PerMinute {
			minuteCount--
		}
		if hourCount > l.cfg.PerHour {
			hourCount--
		}
	}

	return Result{
		Allowed:           allowed,
		RetryAfterSeconds: retryAfterFor(allowed),
		RemainingMinute:   max0(l.cfg.PerMinute - minuteCount),
		RemainingHour:     max0(l.cfg.PerHour - hourCount),
	}, nil
}

func retryAfterFor(allowed bool) int {
	if allowed {
		return 0
	}
	return 1
}

// Remaining implements Limiter without consuming quota.
func (l *RedisLimiter) Remaining(ctx context.Context, projectID string) (int, int, error) {
	now := l.now()
	mKey, hKey := minuteKey(projectID), hourKey(projectID)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, mKey, "-inf", fmt.Sprintf("%d", now.Add(-time.Minute).UnixNano()))
	pipe.ZRemRangeByScore(ctx, hKey, "-inf", fmt.Sprintf("%d", now.Add(-time.Hour).UnixNano()))
	minuteCountCmd := pipe.ZCard(ctx, mKey)
	hourCountCmd := pipe.ZCard(ctx, hKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, apierr.Wrap(apierr.KindExternal, "rate limiter backend unavailable", err)
	}
	return max0(l.cfg.PerMinute - int(minuteCountCmd.Val())), max0(l.cfg.PerHour - int(hourCountCmd.Val())), nil
}

var _ Limiter = (*RedisLimiter)(nil)

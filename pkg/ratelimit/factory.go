package ratelimit

import (
	"github.com/redis/go-redis/v9"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
)

// New selects the distributed Redis backend when redisURL is non-empty,
// falling back to the in-process backend otherwise. The HTTP layer never
// knows which backend is active.
func New(cfg Config, redisURL string) (Limiter, error) {
	if redisURL == "" {
		return NewMemoryLimiter(cfg), nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "invalid REDIS_URL", err)
	}
	return NewRedisLimiter(redis.NewClient(opts), cfg), nil
}

package embedding

import (
	"context"
	"math"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
)

// ResilientProvider wraps a Provider with a circuit breaker and an outbound
// rate limiter, so a persistent provider outage fails fast instead of
// queueing retries behind a dead dependency.
type ResilientProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewResilientProvider wraps inner. requestsPerSecond throttles outbound
// batches independent of the per-project rate limiter.
func NewResilientProvider(inner Provider, requestsPerSecond float64) *ResilientProvider {
	settings := gobreaker.Settings{
		Name:        "embedding-provider",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &ResilientProvider{
		inner:       inner,
		breaker:     gobreaker.NewCircuitBreaker(settings),
		limiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), int(math.Max(1, requestsPerSecond))),
		maxAttempts: 5,
		baseDelay:   200 * time.Millisecond,
		maxDelay:    5 * time.Second,
	}
}

func (r *ResilientProvider) Dimensions() int { return r.inner.Dimensions() }

// EmbedBatch retries transient provider failures with bounded exponential
// back-off behind the circuit breaker; an open breaker fails fast.
func (r *ResilientProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, apierr.Wrap(apierr.KindExternal, "embedding provider throttle wait cancelled", err)
	}

	var result [][]float32
	delay := r.baseDelay
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		out, err := r.breaker.Execute(func() (any, error) {
			return r.inner.EmbedBatch(ctx, texts)
		})
		if err == nil {
			result = out.([][]float32)
			return result, nil
		}
		lastErr = err
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apierr.Wrap(apierr.KindExternal, "embedding provider circuit open", err)
		}
		select {
		case <-ctx.Done():
			return nil, apierr.Wrap(apierr.KindExternal, "embedding request cancelled", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > r.maxDelay {
			delay = r.maxDelay
		}
	}
	return nil, apierr.Wrap(apierr.KindExternal, "embedding provider exhausted retries", lastErr)
}

var _ Provider = (*ResilientProvider)(nil)

package dispatch

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter caps the run-wide outbound request rate. Workers wait before
// parking at a release barrier, so limiting never adds skew inside a burst.
type RateLimiter struct {
	limiter *rate.Limiter
	enabled bool
}

// NewRateLimiter creates a limiter for the given requests per second.
// A non-positive rate disables limiting.
func NewRateLimiter(requestsPerSecond float64) *RateLimiter {
	if requestsPerSecond <= 0 {
		return &RateLimiter{enabled: false}
	}

	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		enabled: true,
	}
}

// Wait blocks until a request may proceed.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if !r.enabled {
		return nil
	}
	return r.limiter.Wait(ctx)
}

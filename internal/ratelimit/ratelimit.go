// Package ratelimit throttles exchange REST calls by request weight.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket sized in request weight per minute.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing weightPerMinute units per minute with a
// burst of a tenth of that (at least one). Non-positive means unlimited.
func New(weightPerMinute int) *Limiter {
	if weightPerMinute <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	burst := weightPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(float64(weightPerMinute)/60.0), burst),
	}
}

// Wait blocks for one unit of weight.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// WaitWeight blocks until weight units are available. Weights above the
// burst are clamped so heavy endpoints cannot deadlock the bucket.
func (l *Limiter) WaitWeight(ctx context.Context, weight int) error {
	if weight < 1 {
		weight = 1
	}
	if b := l.limiter.Burst(); weight > b {
		weight = b
	}
	return l.limiter.WaitN(ctx, weight)
}

// Allow reports whether one unit is available now.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

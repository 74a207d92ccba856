// Package retry runs idempotent reads with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/fd1az/triarb/internal/apperror"
)

// Policy bounds a retry loop.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	MaxTries        uint
	// Retryable overrides IsTransient when set.
	Retryable func(error) bool
	// OnRetry observes each failed attempt before sleeping.
	OnRetry func(err error, wait time.Duration)
}

// DefaultPolicy returns a short policy suited to market-data reads.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsed:      5 * time.Second,
		MaxTries:        4,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the policy is exhausted.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}

	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	opts := []backoff.RetryOption{backoff.WithBackOff(eb)}
	if p.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxTries))
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(p.OnRetry))
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}

// IsTransient reports whether err looks like a network blip worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return apperror.HasCode(err,
		apperror.CodeServiceTimeout,
		apperror.CodeServiceUnavailable,
		apperror.CodeExchangeConnection,
		apperror.CodeRateLimitExceeded,
	)
}

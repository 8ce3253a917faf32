// Package resilience provides retry with backoff and circuit breaking for
// calls to the geocoding provider and the record store backends.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retries with exponential backoff and jitter.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the wait before the first retry. Default: 500ms.
	BaseDelay time.Duration

	// MaxDelay caps a single wait. Default: 30s.
	MaxDelay time.Duration

	// Multiplier scales the wait after each attempt. Default: 2.
	Multiplier float64

	// Jitter is the random spread as a fraction of the wait (0.25 = ±25%).
	Jitter float64

	// AttemptTimeout bounds each attempt separately. Zero means the
	// attempt only inherits the caller's deadline.
	AttemptTimeout time.Duration

	// Retryable overrides IsTransient.
	Retryable func(err error) bool

	// OnRetry runs before each wait with the 1-based attempt that failed.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy returns the policy used for geocoding calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.25,
	}
}

// Outcome describes how a retried call ended.
type Outcome struct {
	Attempts  int
	Exhausted bool // every attempt failed with a retryable error
}

// Do runs fn under p. See DoVal.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) (Outcome, error) {
	_, out, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return out, err
}

// DoVal runs fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done. The last error is returned as is.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, Outcome, error) {
	p = p.withDefaults()
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var (
		zero T
		out  Outcome
	)
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		out.Attempts = attempt

		val, err := runAttempt(ctx, p.AttemptTimeout, fn)
		if err == nil {
			return val, out, nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return zero, out, err
		}
		if attempt == p.MaxAttempts {
			out.Exhausted = true
			return zero, out, err
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		timer := time.NewTimer(p.backoff(attempt - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, out, err
		case <-timer.C:
		}
	}
	return zero, out, nil
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// backoff returns the wait after the given 0-based retry.
func (p Policy) backoff(retry int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retry))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		spread := delay * p.Jitter
		delay += (rand.Float64()*2 - 1) * spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// LogRetries returns an OnRetry callback that logs each failed attempt.
func LogRetries(component, operation string, fields ...zap.Field) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying",
			append([]zap.Field{
				zap.String("component", component),
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(err),
			}, fields...)...,
		)
	}
}

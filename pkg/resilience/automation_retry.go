// Package resilience provides fault tolerance patterns for external service calls.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy is a bounded retry with exponential backoff, applied at the
// client boundary (mail provider, LLM). Business logic stays retry-free:
// an operation that already produced a provider-visible side effect must
// never pass through a policy.
type RetryPolicy struct {
	MaxAttempts  int           // Total attempts including the first (default: 3)
	InitialDelay time.Duration // Delay before the first retry (default: 500ms)
	MaxDelay     time.Duration // Backoff cap (default: 10s)
	Multiplier   float64       // Backoff growth factor (default: 2.0)
	Jitter       float64       // Random jitter fraction 0..1 (default: 0.2)

	// Retryable decides whether an error is worth retrying.
	// Nil means retry every error.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns sensible defaults for provider calls.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// ErrAttemptsExhausted wraps the last error after all attempts failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Do runs fn under the policy. The last error is returned wrapped in
// ErrAttemptsExhausted once attempts run out; non-retryable errors are
// returned immediately.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	delay := p.InitialDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	multiplier := p.Multiplier
	if multiplier <= 1 {
		multiplier = 2.0
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.withJitter(delay)):
		}

		delay = time.Duration(float64(delay) * multiplier)
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return errors.Join(ErrAttemptsExhausted, lastErr)
}

func (p *RetryPolicy) withJitter(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	spread := float64(d) * p.Jitter
	return d + time.Duration((rand.Float64()*2-1)*spread)
}

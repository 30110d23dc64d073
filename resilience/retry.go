// Package resilience provides the retry, rate limiting, circuit
// breaker and idempotency building blocks the mint client runs every
// request through.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/cashukit/cashukit/cashu"
)

// RetryPolicy controls how failed attempts are repeated. The delay
// before attempt n (1-based) is BaseDelay * 2^(n-1) scaled by a
// uniform factor in [1-Jitter, 1+Jitter].
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      float64
}

type RetryOption func(*RetryPolicy)

func NewRetryPolicy(opts ...RetryOption) RetryPolicy {
	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Jitter:      0.2,
	}
	for _, opt := range opts {
		opt(&policy)
	}
	return policy
}

func WithMaxAttempts(attempts int) RetryOption {
	return func(p *RetryPolicy) {
		p.MaxAttempts = attempts
	}
}

func WithBaseDelay(delay time.Duration) RetryOption {
	return func(p *RetryPolicy) {
		p.BaseDelay = delay
	}
}

func WithJitter(jitter float64) RetryOption {
	return func(p *RetryPolicy) {
		p.Jitter = jitter
	}
}

// Delay returns the backoff before retrying after the given 1-based
// attempt number.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay << (attempt - 1)
	if p.Jitter > 0 {
		factor := 1 + p.Jitter*(2*rand.Float64()-1)
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}

// IsRetryableError classifies an error: connection failures, timeouts,
// HTTP 5xx and 429 (already categorized by the caller) and wallet
// errors flagged retryable. Everything else is terminal.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return cashu.IsRetryable(err)
}

// Do runs op until it succeeds, returns a terminal error, or the
// policy's attempts are exhausted. A cancelled context aborts without
// counting the in-flight attempt against the policy.
func Do[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			// cancellation surfaced through the op does not
			// consume an attempt
			return zero, ctx.Err()
		}
		if !IsRetryableError(err) {
			return zero, err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		timer := time.NewTimer(policy.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, lastErr
}

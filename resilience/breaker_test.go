package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTimeline(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	now := t0
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThreshold:    3,
		OpenTimeout:         10 * time.Second,
		HalfOpenMaxAttempts: 2,
	})
	cb.now = func() time.Time { return now }

	const key = "https://mint.example.com"

	require.True(t, cb.AllowRequest(key))
	require.Equal(t, Closed, cb.State(key))

	// three failures at t0 open the breaker
	cb.RecordFailure(key)
	cb.RecordFailure(key)
	require.Equal(t, Closed, cb.State(key))
	cb.RecordFailure(key)
	require.Equal(t, Open, cb.State(key))

	// still open before the timeout
	now = t0.Add(5 * time.Second)
	require.False(t, cb.AllowRequest(key))
	require.Equal(t, Open, cb.State(key))

	// after the timeout the first allow is the trial and transitions
	// to half-open with the full metered allowance
	now = t0.Add(11 * time.Second)
	require.True(t, cb.AllowRequest(key))
	require.Equal(t, HalfOpen, cb.State(key))

	// a success there closes the breaker
	cb.RecordSuccess(key)
	require.Equal(t, Closed, cb.State(key))
}

func TestCircuitBreakerHalfOpenPermits(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	now := t0
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThreshold:    1,
		OpenTimeout:         time.Second,
		HalfOpenMaxAttempts: 2,
	})
	cb.now = func() time.Time { return now }

	const key = "mint"

	cb.RecordFailure(key)
	require.Equal(t, Open, cb.State(key))

	// trial permit plus the metered allowance
	now = now.Add(2 * time.Second)
	require.True(t, cb.AllowRequest(key))
	require.True(t, cb.AllowRequest(key))
	require.True(t, cb.AllowRequest(key))
	// allowance exhausted
	require.False(t, cb.AllowRequest(key))

	// failure in half-open reopens
	cb.RecordFailure(key)
	require.Equal(t, Open, cb.State(key))
	require.False(t, cb.AllowRequest(key))
}

func TestCircuitBreakerLateFailureResetsTimer(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	now := t0
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThreshold:    1,
		OpenTimeout:         10 * time.Second,
		HalfOpenMaxAttempts: 1,
	})
	cb.now = func() time.Time { return now }

	const key = "mint"

	cb.RecordFailure(key)
	require.Equal(t, Open, cb.State(key))

	// a straggler failure at t0+8s resets the open timer
	now = t0.Add(8 * time.Second)
	cb.RecordFailure(key)

	now = t0.Add(12 * time.Second)
	require.False(t, cb.AllowRequest(key))

	now = t0.Add(19 * time.Second)
	require.True(t, cb.AllowRequest(key))
	require.Equal(t, HalfOpen, cb.State(key))
}

func TestCircuitBreakerPerEndpoint(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThreshold:    1,
		OpenTimeout:         10 * time.Second,
		HalfOpenMaxAttempts: 1,
	})

	cb.RecordFailure("mint-a")
	require.Equal(t, Open, cb.State("mint-a"))
	require.Equal(t, Closed, cb.State("mint-b"))
	require.True(t, cb.AllowRequest("mint-b"))
}

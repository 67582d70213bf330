package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPermitPoolBlocksBeyondCapacity(t *testing.T) {
	p := newPermitPool(1)
	require.NoError(t, p.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := p.Acquire(ctx)
	require.Error(t, err)

	p.Release()
	require.NoError(t, p.Acquire(context.Background()))
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	now := time.Now()
	b := newTokenBucket(1, 1)
	b.now = func() time.Time { return now }
	b.last = now

	require.True(t, b.Take())
	require.False(t, b.Take())

	now = now.Add(time.Second)
	require.True(t, b.Take())
}

func TestCircuitBreakerOpensAfterThresholdAndHalfOpens(t *testing.T) {
	now := time.Now()
	b := newCircuitBreaker(2, 50*time.Millisecond)
	b.now = func() time.Time { return now }

	require.True(t, b.allow())
	b.recordFailure()
	require.True(t, b.allow())
	b.recordFailure()

	require.False(t, b.allow())

	now = now.Add(100 * time.Millisecond)
	require.True(t, b.allow()) // half-open

	b.recordSuccess()
	require.True(t, b.allow())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := newCircuitBreaker(1, 50*time.Millisecond)
	b.now = func() time.Time { return now }

	b.recordFailure()
	require.False(t, b.allow())

	now = now.Add(100 * time.Millisecond)
	require.True(t, b.allow())

	b.recordFailure()
	require.False(t, b.allow())
}

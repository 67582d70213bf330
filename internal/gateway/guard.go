package gateway

import (
	"context"
	"sync"
	"time"
)

// permitPool bounds per-backend concurrency (spec §5 "per-backend
// semaphores").
type permitPool struct {
	ch chan struct{}
}

func newPermitPool(n int) *permitPool {
	return &permitPool{ch: make(chan struct{}, n)}
}

func (p *permitPool) Acquire(ctx context.Context) error {
	select {
	case p.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *permitPool) Release() {
	select {
	case <-p.ch:
	default:
	}
}

// rateBucket is the Take() contract shared by the in-memory
// tokenBucket and RedisTokenBucket, so either can sit in a
// backendGuard.
type rateBucket interface {
	Take() bool
}

// tokenBucket smooths request rate per backend (spec §4.4 "optional
// token-bucket rate smoother"). Gateway.guardFor installs this
// in-memory bucket for every backend; nothing in Gateway selects
// RedisTokenBucket.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
	now        func() time.Time
}

func newTokenBucket(capacity, refillPerSecond float64) *tokenBucket {
	return &tokenBucket{tokens: capacity, capacity: capacity, refillRate: refillPerSecond, last: time.Now(), now: time.Now}
}

func (b *tokenBucket) Take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}

	if b.tokens < 1 {
		return false
	}

	b.tokens--

	return true
}

// breakerState enumerates the circuit breaker's three states (spec
// §4.4 "N consecutive failures -> open for T ms, half-open on next
// request").
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

type circuitBreaker struct {
	mu               sync.Mutex
	state            breakerState
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	openedAt         time.Time
	now              func() time.Time
}

func newCircuitBreaker(failThreshold int, openFor time.Duration) *circuitBreaker {
	return &circuitBreaker{state: breakerClosed, failThreshold: failThreshold, openFor: openFor, now: time.Now}
}

func (b *circuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) >= b.openFor {
			b.state = breakerHalfOpen
			return true
		}

		return false
	case breakerHalfOpen:
		return true
	default:
		return true
	}
}

func (b *circuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails = 0
	b.state = breakerClosed
}

func (b *circuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails++

	if b.state == breakerHalfOpen || b.consecutiveFails >= b.failThreshold {
		b.state = breakerOpen
		b.openedAt = b.now()
	}
}

// backendGuard bundles the three per-backend admission controls (spec
// §4.4, §5).
type backendGuard struct {
	permits *permitPool
	bucket  rateBucket
	breaker *circuitBreaker
}

func newBackendGuard(maxConcurrent int, bucketCapacity float64, failThreshold int, openFor time.Duration) *backendGuard {
	return &backendGuard{
		permits: newPermitPool(maxConcurrent),
		bucket:  newTokenBucket(bucketCapacity, bucketCapacity),
		breaker: newCircuitBreaker(failThreshold, openFor),
	}
}

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T) (*MemoryLimiter, *ManualClock) {
	t.Helper()
	clock := NewManualClock(testStart)
	limiter := NewMemoryLimiter(WithClock(clock), WithSweepInterval(0))
	t.Cleanup(func() { limiter.Close() })
	return limiter, clock
}

func TestNewMemoryLimiter(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	assert.NotNil(t, limiter)
	assert.Equal(t, DefaultSweepInterval, limiter.sweepInterval)
	assert.Equal(t, 0, limiter.Len())
}

func TestMemoryLimiter_Check_Scenario(t *testing.T) {
	limiter, clock := newTestLimiter(t)
	ctx := context.Background()
	policy := Policy{Window: 60 * time.Second, MaxRequests: 3}
	id := "ip:1.2.3.4"

	for i, want := range []int{2, 1, 0} {
		d, err := limiter.Check(ctx, id, policy)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d should be allowed", i+1)
		assert.Equal(t, want, d.Remaining, "call %d remaining", i+1)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, testStart.Add(time.Minute), d.ResetAt)
		assert.Zero(t, d.RetryAfter)
		clock.Advance(time.Second)
	}

	d, err := limiter.Check(ctx, id, policy)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, testStart.Add(time.Minute), d.ResetAt)
	assert.Equal(t, 57*time.Second, d.RetryAfter)

	clock.Set(testStart.Add(time.Minute + time.Millisecond))
	d, err = limiter.Check(ctx, id, policy)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
	assert.Equal(t, testStart.Add(2*time.Minute+time.Millisecond), d.ResetAt)
}

func TestMemoryLimiter_Check_RemainingDecreases(t *testing.T) {
	for _, n := range []int{1, 2, 5, 10} {
		t.Run(fmt.Sprintf("max=%d", n), func(t *testing.T) {
			limiter, _ := newTestLimiter(t)
			policy := Policy{Window: time.Minute, MaxRequests: n}

			for i := 0; i < n; i++ {
				d, err := limiter.Check(context.Background(), "client", policy)
				require.NoError(t, err)
				assert.True(t, d.Allowed)
				assert.Equal(t, n-1-i, d.Remaining)
			}

			d, err := limiter.Check(context.Background(), "client", policy)
			require.NoError(t, err)
			assert.False(t, d.Allowed, "call %d should be denied", n+1)
		})
	}
}

func TestMemoryLimiter_Check_WindowBoundaryStartsNewWindow(t *testing.T) {
	limiter, clock := newTestLimiter(t)
	policy := Policy{Window: time.Minute, MaxRequests: 1}

	d, err := limiter.Check(context.Background(), "client", policy)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	clock.Advance(time.Minute - time.Nanosecond)
	d, err = limiter.Check(context.Background(), "client", policy)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "still inside the window")

	clock.Advance(time.Nanosecond)
	d, err = limiter.Check(context.Background(), "client", policy)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "reset time itself starts a new window")
	assert.Equal(t, 0, d.Remaining)
}

func TestMemoryLimiter_Check_RolloverIgnoresPriorDenials(t *testing.T) {
	limiter, clock := newTestLimiter(t)
	policy := Policy{Window: time.Minute, MaxRequests: 2}

	for i := 0; i < 10; i++ {
		limiter.Check(context.Background(), "client", policy)
	}

	clock.Advance(time.Minute)
	d, err := limiter.Check(context.Background(), "client", policy)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestMemoryLimiter_Check_DenialIsIdempotent(t *testing.T) {
	limiter, clock := newTestLimiter(t)
	policy := Policy{Window: time.Minute, MaxRequests: 2}

	limiter.Check(context.Background(), "client", policy)
	limiter.Check(context.Background(), "client", policy)

	var resets []time.Time
	for i := 0; i < 5; i++ {
		d, err := limiter.Check(context.Background(), "client", policy)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		resets = append(resets, d.ResetAt)
		clock.Advance(5 * time.Second)
	}
	for _, r := range resets {
		assert.Equal(t, resets[0], r)
	}

	limiter.mu.Lock()
	assert.Equal(t, 2, limiter.entries["client"].count, "denials must not mutate the count")
	limiter.mu.Unlock()
}

func TestMemoryLimiter_Check_DifferentIdentifiers(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	policy := Policy{Window: time.Minute, MaxRequests: 2}

	for i := 0; i < 2; i++ {
		limiter.Check(context.Background(), "key1", policy)
	}
	d1, _ := limiter.Check(context.Background(), "key1", policy)
	assert.False(t, d1.Allowed, "key1 should be denied")

	d2, err := limiter.Check(context.Background(), "key2", policy)
	require.NoError(t, err)
	assert.True(t, d2.Allowed, "key2 should be allowed")
	assert.Equal(t, 1, d2.Remaining)
}

func TestMemoryLimiter_Check_ContractViolations(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	tests := []struct {
		name       string
		identifier string
		policy     Policy
		expected   error
	}{
		{"empty identifier", "", Policy{Window: time.Minute, MaxRequests: 1}, ErrEmptyIdentifier},
		{"zero window", "id", Policy{Window: 0, MaxRequests: 1}, ErrInvalidPolicy},
		{"negative window", "id", Policy{Window: -time.Second, MaxRequests: 1}, ErrInvalidPolicy},
		{"zero max", "id", Policy{Window: time.Minute, MaxRequests: 0}, ErrInvalidPolicy},
		{"negative max", "id", Policy{Window: time.Minute, MaxRequests: -3}, ErrInvalidPolicy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := limiter.Check(context.Background(), tt.identifier, tt.policy)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
	assert.Equal(t, 0, limiter.Len(), "rejected calls must not create entries")
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	limiter, clock := newTestLimiter(t)
	short := Policy{Window: 10 * time.Second, MaxRequests: 3}
	long := Policy{Window: time.Minute, MaxRequests: 3}

	limiter.Check(context.Background(), "A", short)
	limiter.Check(context.Background(), "B", long)
	limiter.Check(context.Background(), "B", long)
	require.Equal(t, 2, limiter.Len())

	clock.Advance(30 * time.Second)
	removed := limiter.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, limiter.Len())

	limiter.mu.Lock()
	_, aExists := limiter.entries["A"]
	b := limiter.entries["B"]
	limiter.mu.Unlock()
	assert.False(t, aExists, "A should be swept")
	require.NotNil(t, b)
	assert.Equal(t, 2, b.count, "B should be untouched")

	d, err := limiter.Check(context.Background(), "A", short)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, short.MaxRequests-1, d.Remaining)

	d, err = limiter.Check(context.Background(), "B", long)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Remaining)
}

func TestMemoryLimiter_BackgroundSweep(t *testing.T) {
	clock := NewManualClock(testStart)
	limiter := NewMemoryLimiter(WithClock(clock), WithSweepInterval(10*time.Millisecond))
	defer limiter.Close()

	limiter.Check(context.Background(), "ephemeral-key", Policy{Window: time.Second, MaxRequests: 1})
	require.Equal(t, 1, limiter.Len())

	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool {
		return limiter.Len() == 0
	}, time.Second, 10*time.Millisecond, "key should be swept after its window ends")
}

func TestMemoryLimiter_ConcurrentAccessNeverExceedsMax(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	policy := Policy{Window: time.Minute, MaxRequests: 100}

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				d, err := limiter.Check(context.Background(), "shared", policy)
				if err == nil && d.Allowed {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), allowed.Load())
}

func TestMemoryLimiter_Close(t *testing.T) {
	limiter := NewMemoryLimiter(WithSweepInterval(10 * time.Millisecond))
	assert.NoError(t, limiter.Close())
	// Should not panic on double close
	assert.NoError(t, limiter.Close())
}

type wrappedLimiter struct{ Limiter }

func (w wrappedLimiter) Unwrap() Limiter { return w.Limiter }

func TestEntries(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	_, err := limiter.Check(context.Background(), "a", Policy{Window: time.Minute, MaxRequests: 1})
	require.NoError(t, err)

	n, ok := Entries(limiter)
	assert.True(t, ok)
	assert.Equal(t, 1, n)

	n, ok = Entries(wrappedLimiter{limiter})
	assert.True(t, ok)
	assert.Equal(t, 1, n)

	_, ok = Entries(&RedisLimiter{})
	assert.False(t, ok)
}

package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often MemoryLimiter drops expired entries.
const DefaultSweepInterval = time.Minute

// entry is the request count for one identifier in its current window.
type entry struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is an in-memory fixed-window limiter. Each identifier gets one
// entry that is replaced once its window has ended. A background goroutine
// periodically sweeps expired entries to bound memory; Check never depends on
// the sweep having run.
type MemoryLimiter struct {
	clock         Clock
	sweepInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	done    chan struct{}
	closed  bool
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock replaces the system clock.
func WithClock(clock Clock) MemoryOption {
	return func(m *MemoryLimiter) {
		m.clock = clock
	}
}

// WithSweepInterval sets the background sweep period. A non-positive interval
// disables the background sweep; Sweep can still be called directly.
func WithSweepInterval(interval time.Duration) MemoryOption {
	return func(m *MemoryLimiter) {
		m.sweepInterval = interval
	}
}

// NewMemoryLimiter creates a limiter and starts its sweep goroutine. Callers
// must Close it to stop the goroutine.
func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	m := &MemoryLimiter{
		clock:         SystemClock{},
		sweepInterval: DefaultSweepInterval,
		entries:       make(map[string]*entry),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sweepInterval > 0 {
		go m.sweepLoop()
	}
	return m
}

// Check decides whether a request for identifier is allowed under policy.
func (m *MemoryLimiter) Check(_ context.Context, identifier string, policy Policy) (Decision, error) {
	if err := validateRequest(identifier, policy); err != nil {
		return Decision{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	e, exists := m.entries[identifier]

	if !exists || !now.Before(e.resetAt) {
		e = &entry{count: 1, resetAt: now.Add(policy.Window)}
		m.entries[identifier] = e
		return Decision{
			Allowed:   true,
			Limit:     policy.MaxRequests,
			Remaining: policy.MaxRequests - 1,
			ResetAt:   e.resetAt,
		}, nil
	}

	if e.count >= policy.MaxRequests {
		return Decision{
			Allowed:    false,
			Limit:      policy.MaxRequests,
			Remaining:  0,
			ResetAt:    e.resetAt,
			RetryAfter: e.resetAt.Sub(now),
		}, nil
	}

	e.count++
	return Decision{
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Remaining: policy.MaxRequests - e.count,
		ResetAt:   e.resetAt,
	}, nil
}

// Sweep removes every entry whose window has ended and returns how many were
// removed.
func (m *MemoryLimiter) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for key, e := range m.entries {
		if !now.Before(e.resetAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identifiers.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the background sweep goroutine. It is safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			if removed := m.Sweep(); removed > 0 {
				slog.Debug("Swept expired rate limit entries", "removed", removed)
			}
		}
	}
}

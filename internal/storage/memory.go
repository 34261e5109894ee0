package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"noteprompt/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing, and single-instance
// deployments where the audit trail does not need to survive a restart.
type MemoryStorage struct {
	mu         sync.RWMutex
	violations []*models.Violation
	closed     bool
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{}, nil
}

// RecordViolation stores a copy of v.
func (m *MemoryStorage) RecordViolation(ctx context.Context, v *models.Violation) error {
	if err := validateViolation(v); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	c := *v
	m.violations = append(m.violations, &c)
	return nil
}

// Violations returns copies of the matching violations, newest first.
func (m *MemoryStorage) Violations(ctx context.Context, filter models.ViolationFilter) ([]*models.Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	// Walk backwards so the latest recorded comes first among equal timestamps
	result := make([]*models.Violation, 0)
	for i := len(m.violations) - 1; i >= 0; i-- {
		v := m.violations[i]
		if filter.Matches(v) {
			c := *v
			result = append(result, &c)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// PurgeViolations removes violations created before the cutoff.
func (m *MemoryStorage) PurgeViolations(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	kept := m.violations[:0]
	var removed int64
	for _, v := range m.violations {
		if v.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	// Drop references held past the new length
	for i := len(kept); i < len(m.violations); i++ {
		m.violations[i] = nil
	}
	m.violations = kept
	return removed, nil
}

// Len returns the number of stored violations.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.violations)
}

// Ping verifies the storage backend is reachable and operational.
func (m *MemoryStorage) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close closes the storage connection and cleans up resources
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Clear all data
	m.violations = nil
	m.closed = true

	return nil
}

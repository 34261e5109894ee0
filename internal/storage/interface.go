package storage

import (
	"context"
	"time"

	"noteprompt/internal/models"
)

// Storage persists the audit trail of denied rate limit checks. The limiter
// itself never reads from it; decisions are made entirely by the limiter
// backend.
type Storage interface {
	// RecordViolation appends one denial to the audit trail.
	RecordViolation(ctx context.Context, v *models.Violation) error

	// Violations returns recorded denials matching filter, newest first.
	// A zero filter.Limit returns every match.
	Violations(ctx context.Context, filter models.ViolationFilter) ([]*models.Violation, error)

	// PurgeViolations deletes violations created before the cutoff and
	// returns how many were removed.
	PurgeViolations(ctx context.Context, before time.Time) (int64, error)

	// Ping verifies the storage backend is reachable and operational.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (memory, sqlite, postgres, mysql)
	Type string `json:"type" yaml:"type"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
}

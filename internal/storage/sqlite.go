package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"noteprompt/internal/models"
)

// SQLiteStorage keeps the audit trail in a single SQLite file. Timestamps are
// stored as Unix nanoseconds so range filters compare integers.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database and applies pending migrations.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(ctx, db, "sqlite3", "migrations/sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStorage{db: db}, nil
}

func (ss *SQLiteStorage) RecordViolation(ctx context.Context, v *models.Violation) error {
	if err := validateViolation(v); err != nil {
		return err
	}

	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO violations (id, identifier, policy, max_requests, window_ms, reset_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Identifier, v.Policy, v.Limit, v.Window.Milliseconds(),
		v.ResetAt.UnixNano(), v.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert violation: %w", err)
	}
	return nil
}

func (ss *SQLiteStorage) Violations(ctx context.Context, filter models.ViolationFilter) ([]*models.Violation, error) {
	var (
		where []string
		args  []any
	)
	if filter.Identifier != "" {
		where = append(where, "identifier = ?")
		args = append(args, filter.Identifier)
	}
	if filter.Policy != "" {
		where = append(where, "policy = ?")
		args = append(args, filter.Policy)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}

	query := "SELECT id, identifier, policy, max_requests, window_ms, reset_at, created_at FROM violations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := ss.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Violation, 0)
	for rows.Next() {
		var (
			v                  models.Violation
			windowMs           int64
			resetAt, createdAt int64
		)
		if err := rows.Scan(&v.ID, &v.Identifier, &v.Policy, &v.Limit, &windowMs, &resetAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		v.Window = time.Duration(windowMs) * time.Millisecond
		v.ResetAt = time.Unix(0, resetAt).UTC()
		v.CreatedAt = time.Unix(0, createdAt).UTC()
		result = append(result, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read violations: %w", err)
	}
	return result, nil
}

func (ss *SQLiteStorage) PurgeViolations(ctx context.Context, before time.Time) (int64, error) {
	res, err := ss.db.ExecContext(ctx, "DELETE FROM violations WHERE created_at < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge violations: %w", err)
	}
	return res.RowsAffected()
}

// Ping verifies the storage backend is reachable and operational.
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

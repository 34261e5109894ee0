package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"noteprompt/internal/models"
)

// PostgresStorage implements the Storage interface using a pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance and applies
// pending migrations.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// goose speaks database/sql; the wrapper borrows connections from the pool
	if err := migrate(ctx, stdlib.OpenDBFromPool(pool), "postgres", "migrations/postgres"); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStorage{pool: pool}, nil
}

func (ps *PostgresStorage) RecordViolation(ctx context.Context, v *models.Violation) error {
	if err := validateViolation(v); err != nil {
		return err
	}

	_, err := ps.pool.Exec(ctx,
		`INSERT INTO violations (id, identifier, policy, max_requests, window_ms, reset_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.Identifier, v.Policy, v.Limit, v.Window.Milliseconds(), v.ResetAt, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert violation: %w", err)
	}
	return nil
}

func (ps *PostgresStorage) Violations(ctx context.Context, filter models.ViolationFilter) ([]*models.Violation, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Identifier != "" {
		where = append(where, "identifier = "+arg(filter.Identifier))
	}
	if filter.Policy != "" {
		where = append(where, "policy = "+arg(filter.Policy))
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= "+arg(filter.Since))
	}

	query := "SELECT id, identifier, policy, max_requests, window_ms, reset_at, created_at FROM violations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}

	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Violation, error) {
		var (
			v        models.Violation
			windowMs int64
		)
		if err := row.Scan(&v.ID, &v.Identifier, &v.Policy, &v.Limit, &windowMs, &v.ResetAt, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Window = time.Duration(windowMs) * time.Millisecond
		v.ResetAt = v.ResetAt.UTC()
		v.CreatedAt = v.CreatedAt.UTC()
		return &v, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read violations: %w", err)
	}
	return result, nil
}

func (ps *PostgresStorage) PurgeViolations(ctx context.Context, before time.Time) (int64, error) {
	tag, err := ps.pool.Exec(ctx, "DELETE FROM violations WHERE created_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge violations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping verifies the storage backend is reachable and operational.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the storage connection.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

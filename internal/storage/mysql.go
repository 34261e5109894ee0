package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"noteprompt/internal/models"
)

// violationRecord is the GORM row for a violation.
type violationRecord struct {
	ID          string    `gorm:"primaryKey;type:char(36)"`
	Identifier  string    `gorm:"type:varchar(256);not null;index:idx_violations_identifier,priority:1"`
	Policy      string    `gorm:"type:varchar(64);not null"`
	MaxRequests int       `gorm:"not null"`
	WindowMs    int64     `gorm:"not null"`
	ResetAt     time.Time `gorm:"type:datetime(6);not null"`
	CreatedAt   time.Time `gorm:"type:datetime(6);not null;index:idx_violations_created_at;index:idx_violations_identifier,priority:2"`
}

func (violationRecord) TableName() string {
	return "violations"
}

func (r *violationRecord) toModel() *models.Violation {
	return &models.Violation{
		ID:         r.ID,
		Identifier: r.Identifier,
		Policy:     r.Policy,
		Limit:      r.MaxRequests,
		Window:     time.Duration(r.WindowMs) * time.Millisecond,
		ResetAt:    r.ResetAt.UTC(),
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func violationToRecord(v *models.Violation) *violationRecord {
	return &violationRecord{
		ID:          v.ID,
		Identifier:  v.Identifier,
		Policy:      v.Policy,
		MaxRequests: v.Limit,
		WindowMs:    v.Window.Milliseconds(),
		ResetAt:     v.ResetAt.UTC(),
		CreatedAt:   v.CreatedAt.UTC(),
	}
}

// MySQLStorage implements the Storage interface on MySQL through GORM. The
// DSN must set parseTime=true and should set loc=UTC.
type MySQLStorage struct {
	db *gorm.DB
}

// NewMySQLStorage connects, configures the pool and migrates the schema.
func NewMySQLStorage(config Config) (*MySQLStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for MySQL storage")
	}

	gormLogger := logger.New(
		&slogWriter{},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       config.ConnectionString,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:      gormLogger,
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&violationRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &MySQLStorage{db: db}, nil
}

func (ms *MySQLStorage) RecordViolation(ctx context.Context, v *models.Violation) error {
	if err := validateViolation(v); err != nil {
		return err
	}
	if err := ms.db.WithContext(ctx).Create(violationToRecord(v)).Error; err != nil {
		return fmt.Errorf("failed to insert violation: %w", err)
	}
	return nil
}

func (ms *MySQLStorage) Violations(ctx context.Context, filter models.ViolationFilter) ([]*models.Violation, error) {
	q := ms.db.WithContext(ctx).Model(&violationRecord{})
	if filter.Identifier != "" {
		q = q.Where("identifier = ?", filter.Identifier)
	}
	if filter.Policy != "" {
		q = q.Where("policy = ?", filter.Policy)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since.UTC())
	}
	q = q.Order("created_at DESC").Order("id DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var records []violationRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}

	result := make([]*models.Violation, 0, len(records))
	for i := range records {
		result = append(result, records[i].toModel())
	}
	return result, nil
}

func (ms *MySQLStorage) PurgeViolations(ctx context.Context, before time.Time) (int64, error) {
	res := ms.db.WithContext(ctx).Where("created_at < ?", before.UTC()).Delete(&violationRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge violations: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Ping verifies the storage backend is reachable and operational.
func (ms *MySQLStorage) Ping(ctx context.Context) error {
	sqlDB, err := ms.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (ms *MySQLStorage) Close() error {
	sqlDB, err := ms.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogWriter routes GORM log lines to slog.
type slogWriter struct{}

func (w *slogWriter) Printf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)

	switch {
	case strings.Contains(msg, "SLOW SQL"):
		slog.Warn("Slow storage query", "details", msg)
	case strings.Contains(strings.ToLower(msg), "error"):
		slog.Error("Storage query failed", "details", msg)
	default:
		slog.Debug("Storage query", "details", msg)
	}
}

package storage

import (
	"fmt"

	"noteprompt/internal/models"
)

// Factory provides a centralized way to create storage instances based on configuration.
// This allows for easy extensibility and provider swapping without code changes.
type Factory struct{}

// NewFactory creates a new storage factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a storage provider based on the provided configuration.
// Supported providers:
//   - memory: In-memory storage (for testing/development)
//   - sqlite: SQLite database file, schema managed by embedded migrations
//   - postgres: PostgreSQL database storage (production-ready)
//   - mysql: MySQL through GORM
func (f *Factory) Create(config models.StorageConfig) (Storage, error) {
	if err := f.ValidateConfig(config); err != nil {
		return nil, err
	}

	storageConfig := Config{
		Type:             config.Type,
		ConnectionString: config.Database.DSN,
		MaxOpenConns:     config.Database.MaxOpenConns,
		MaxIdleConns:     config.Database.MaxIdleConns,
		ConnMaxLifetime:  config.Database.ConnMaxLifetime,
	}

	switch config.Type {
	case models.StorageTypeMemory:
		s, err := NewMemoryStorage(storageConfig)
		if err != nil {
			return nil, err
		}
		return s, nil
	case models.StorageTypeSQLite:
		s, err := NewSQLiteStorage(storageConfig)
		if err != nil {
			return nil, err
		}
		return s, nil
	case models.StorageTypePostgres:
		s, err := NewPostgresStorage(storageConfig)
		if err != nil {
			return nil, err
		}
		return s, nil
	case models.StorageTypeMySQL:
		s, err := NewMySQLStorage(storageConfig)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}

// GetSupportedProviders returns a list of all supported storage provider types
func (f *Factory) GetSupportedProviders() []string {
	return []string{models.StorageTypeMemory, models.StorageTypeSQLite, models.StorageTypePostgres, models.StorageTypeMySQL}
}

// ValidateConfig validates that a storage configuration is valid for its type
func (f *Factory) ValidateConfig(config models.StorageConfig) error {
	switch config.Type {
	case models.StorageTypeMemory:
		// Memory storage requires no additional configuration
	case models.StorageTypePostgres, models.StorageTypeSQLite, models.StorageTypeMySQL:
		if config.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", config.Type)
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	return nil
}

package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noteprompt/internal/models"
)

func TestFactory(t *testing.T) {
	factory := NewFactory()

	t.Run("GetSupportedProviders", func(t *testing.T) {
		assert.Equal(t, []string{"memory", "sqlite", "postgres", "mysql"}, factory.GetSupportedProviders())
	})

	t.Run("ValidateConfig", func(t *testing.T) {
		tests := []struct {
			name      string
			config    models.StorageConfig
			expectErr bool
		}{
			{name: "valid memory config", config: models.StorageConfig{Type: "memory"}},
			{name: "valid sqlite config", config: models.StorageConfig{Type: "sqlite", Database: models.DatabaseConfig{DSN: "file:test.db"}}},
			{name: "invalid storage type", config: models.StorageConfig{Type: "json"}, expectErr: true},
			{name: "postgres without DSN", config: models.StorageConfig{Type: "postgres"}, expectErr: true},
			{name: "mysql without DSN", config: models.StorageConfig{Type: "mysql"}, expectErr: true},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := factory.ValidateConfig(tt.config)
				if tt.expectErr {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
			})
		}
	})

	t.Run("CreateMemoryStorage", func(t *testing.T) {
		s, err := factory.Create(models.StorageConfig{Type: models.StorageTypeMemory})
		require.NoError(t, err)
		defer s.Close()

		_, ok := s.(*MemoryStorage)
		assert.True(t, ok, "expected *MemoryStorage, got %T", s)
	})

	t.Run("CreateSQLiteStorage", func(t *testing.T) {
		dsn := filepath.Join(t.TempDir(), "factory.db")
		s, err := factory.Create(models.StorageConfig{
			Type:     models.StorageTypeSQLite,
			Database: models.DatabaseConfig{DSN: dsn},
		})
		require.NoError(t, err)
		defer s.Close()

		_, ok := s.(*SQLiteStorage)
		assert.True(t, ok, "expected *SQLiteStorage, got %T", s)
	})

	t.Run("CreateInvalid", func(t *testing.T) {
		s, err := factory.Create(models.StorageConfig{Type: "invalid"})
		assert.Error(t, err)
		assert.Nil(t, s)
	})

	t.Run("CreateFailureReturnsNilInterface", func(t *testing.T) {
		s, err := factory.Create(models.StorageConfig{
			Type:     models.StorageTypeSQLite,
			Database: models.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "missing", "dir", "x.db")},
		})
		assert.Error(t, err)
		assert.Nil(t, s)
	})
}

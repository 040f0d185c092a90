package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/glucodata-handler/internal/config"
)

func TestNewStorage(t *testing.T) {
	s, err := NewStorage(&config.StorageConfig{Type: "sqlite", ConnectionString: "x.db"})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStorage{}, s)

	s, err = NewStorage(&config.StorageConfig{Type: "PostgreSQL", ConnectionString: "postgres://x"})
	require.NoError(t, err)
	assert.IsType(t, &PostgreSQLStorage{}, s)

	_, err = NewStorage(&config.StorageConfig{Type: "mongo"})
	assert.Error(t, err)
}

func TestValidateStorageConfig(t *testing.T) {
	assert.NoError(t, ValidateStorageConfig(&config.StorageConfig{Type: "sqlite", ConnectionString: "x.db", MaxConnections: 1}))
	assert.Error(t, ValidateStorageConfig(&config.StorageConfig{Type: "sqlite", MaxConnections: 1}))
	assert.Error(t, ValidateStorageConfig(&config.StorageConfig{Type: "redis", ConnectionString: "x", MaxConnections: 1}))
}

func TestStorageTypesAndRetention(t *testing.T) {
	assert.Equal(t, []string{"postgres", "postgresql", "sqlite", "sqlite3"}, SupportedTypes())

	_, err := NewStorage(&config.StorageConfig{Type: "sqlite3", ConnectionString: "x.db", RetentionDays: -1})
	assert.Error(t, err)
}

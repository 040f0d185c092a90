// File: internal/storage/factory.go
package storage

import (
	"sort"
	"strings"

	"github.com/smartdevs17/glucodata-handler/internal/config"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

const defaultMaxConnections = 10

// constructors maps every accepted storage type onto its implementation
var constructors = map[string]func(*StorageConfig) Storage{
	"sqlite":     func(c *StorageConfig) Storage { return NewSQLiteStorage(c) },
	"sqlite3":    func(c *StorageConfig) Storage { return NewSQLiteStorage(c) },
	"postgres":   func(c *StorageConfig) Storage { return NewPostgreSQLStorage(c) },
	"postgresql": func(c *StorageConfig) Storage { return NewPostgreSQLStorage(c) },
}

// NewStorage creates a storage backend for cfg. A missing connection limit
// falls back to the default.
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	storageConfig := &StorageConfig{
		Type:             strings.ToLower(cfg.Type),
		ConnectionString: cfg.ConnectionString,
		MaxConnections:   cfg.MaxConnections,
		MaxIdleTime:      cfg.MaxIdleTime,
		RetentionDays:    cfg.RetentionDays,
	}
	if storageConfig.MaxConnections <= 0 {
		storageConfig.MaxConnections = defaultMaxConnections
	}

	if err := validate(storageConfig); err != nil {
		return nil, err
	}
	return constructors[storageConfig.Type](storageConfig), nil
}

// ValidateStorageConfig validates storage configuration as written
func ValidateStorageConfig(cfg *config.StorageConfig) error {
	if cfg.MaxConnections <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Max connections must be positive", "")
	}
	return validate(&StorageConfig{
		Type:             strings.ToLower(cfg.Type),
		ConnectionString: cfg.ConnectionString,
		MaxConnections:   cfg.MaxConnections,
		RetentionDays:    cfg.RetentionDays,
	})
}

func validate(cfg *StorageConfig) error {
	if cfg.Type == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage type is required", "")
	}
	if _, ok := constructors[cfg.Type]; !ok {
		return utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type",
			"Supported types: "+strings.Join(SupportedTypes(), ", "))
	}
	if cfg.ConnectionString == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage connection string is required", "")
	}
	if cfg.RetentionDays < 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Retention days must not be negative", "")
	}
	return nil
}

// SupportedTypes lists the accepted storage type names
func SupportedTypes() []string {
	types := make([]string, 0, len(constructors))
	for t := range constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

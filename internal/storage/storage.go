// File: internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/smartdevs17/glucodata-handler/internal/models"
)

// ErrDuplicateReading is returned when a reading with the same id is
// already stored.
var ErrDuplicateReading = errors.New("duplicate reading")

// Storage defines the interface for persistence operations
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Reading operations
	SaveReading(ctx context.Context, reading *models.GlucoseReading) error
	GetReading(ctx context.Context, id string) (*models.GlucoseReading, error)
	GetReadings(ctx context.Context, filter models.ReadingFilter) ([]*models.GlucoseReading, error)
	GetLatestReading(ctx context.Context) (*models.GlucoseReading, error)
	ReadingExists(ctx context.Context, id string) (bool, error)

	// Alarm history operations
	SaveAlarmRecord(ctx context.Context, record *models.AlarmRecord) error
	GetAlarmHistory(ctx context.Context, filter models.AlarmHistoryFilter) ([]*models.AlarmRecord, error)

	// Preference operations
	GetPreferences(ctx context.Context, namespace string) ([]*models.Preference, error)
	SetPreference(ctx context.Context, pref *models.Preference) error

	// Endpoint operations
	UpsertEndpoint(ctx context.Context, endpoint *models.Endpoint) error
	GetEndpoints(ctx context.Context, seenSince *time.Time) ([]*models.Endpoint, error)

	// Statistics and monitoring
	GetStats() (*StorageStats, error)
	GetHealth() *StorageHealth

	// Maintenance operations
	Cleanup(ctx context.Context, retentionDays int) error
	Vacuum() error
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalReadings    int64      `json:"total_readings"`
	TotalAlarms      int64      `json:"total_alarm_records"`
	TotalEndpoints   int64      `json:"total_endpoints"`
	TotalPreferences int64      `json:"total_preferences"`
	OldestReading    *time.Time `json:"oldest_reading,omitempty"`
	LatestReading    *time.Time `json:"latest_reading,omitempty"`
	DatabaseSize     int64      `json:"database_size_bytes"`
	LastCleanup      *time.Time `json:"last_cleanup,omitempty"`
}

// StorageHealth describes database connectivity
type StorageHealth struct {
	StorageType string            `json:"storage_type"`
	Healthy     bool              `json:"healthy"`
	Details     map[string]string `json:"details,omitempty"`
	LastPing    time.Time         `json:"last_ping"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	RetentionDays    int           `json:"retention_days"`
}

package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/glucodata-handler/internal/metrics"
	"github.com/smartdevs17/glucodata-handler/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

// SaveReading saves a reading and records metrics
func (s *StorageWithMetrics) SaveReading(ctx context.Context, reading *models.GlucoseReading) error {
	start := time.Now()
	err := s.Storage.SaveReading(ctx, reading)
	s.record("insert", "readings", err, start)
	return err
}

// GetReadings queries readings and records metrics
func (s *StorageWithMetrics) GetReadings(ctx context.Context, filter models.ReadingFilter) ([]*models.GlucoseReading, error) {
	start := time.Now()
	readings, err := s.Storage.GetReadings(ctx, filter)
	s.record("select", "readings", err, start)
	return readings, err
}

// SaveAlarmRecord saves an alarm record and records metrics
func (s *StorageWithMetrics) SaveAlarmRecord(ctx context.Context, record *models.AlarmRecord) error {
	start := time.Now()
	err := s.Storage.SaveAlarmRecord(ctx, record)
	s.record("insert", "alarm_history", err, start)
	return err
}

// SetPreference saves a preference and records metrics
func (s *StorageWithMetrics) SetPreference(ctx context.Context, pref *models.Preference) error {
	start := time.Now()
	err := s.Storage.SetPreference(ctx, pref)
	s.record("upsert", "preferences", err, start)
	return err
}

// UpsertEndpoint saves an endpoint and records metrics
func (s *StorageWithMetrics) UpsertEndpoint(ctx context.Context, endpoint *models.Endpoint) error {
	start := time.Now()
	err := s.Storage.UpsertEndpoint(ctx, endpoint)
	s.record("upsert", "endpoints", err, start)
	return err
}

func (s *StorageWithMetrics) record(operation, table string, err error, start time.Time) {
	if s.metricsManager == nil {
		return
	}

	status := "success"
	if err == ErrDuplicateReading {
		status = "duplicate"
	} else if err != nil {
		status = "error"
	}

	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(
		operation,
		table,
		status,
		time.Since(start),
	)
}

// File: internal/storage/sql.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

var placeholderRe = regexp.MustCompile(`\$\d+`)

// sqlStore holds the queries shared by the sqlite and postgres backends.
// Queries are written with numbered placeholders; bind rewrites them for
// the driver.
type sqlStore struct {
	db         *sql.DB
	logger     *logrus.Logger
	migrations []*Migration
	positional bool

	mu          sync.Mutex
	lastCleanup *time.Time
}

func (s *sqlStore) bind(query string) string {
	if !s.positional {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?")
}

func (s *sqlStore) connected() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return nil
}

// Ping checks database connectivity
func (s *sqlStore) Ping() error {
	if err := s.connected(); err != nil {
		return err
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *sqlStore) Migrate() error {
	if err := s.connected(); err != nil {
		return err
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// SaveReading stores a reading. ErrDuplicateReading is returned when the id
// is already present.
func (s *sqlStore) SaveReading(ctx context.Context, r *models.GlucoseReading) error {
	query := s.bind(`
		INSERT INTO readings
		(id, sensor_serial, value, rate, delta, time, received_at, alarm, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`)

	var delta sql.NullFloat64
	if r.Delta != nil {
		delta = sql.NullFloat64{Float64: *r.Delta, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, query,
		r.ID, r.SensorSerial, r.Value, r.Rate, delta,
		r.Time.UTC(), r.ReceivedAt.UTC(), r.Alarm, r.Payload)
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to save reading", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicateReading
	}
	return nil
}

const readingColumns = `id, sensor_serial, value, rate, delta, time, received_at, alarm, payload`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReading(row rowScanner) (*models.GlucoseReading, error) {
	var r models.GlucoseReading
	var delta sql.NullFloat64

	if err := row.Scan(&r.ID, &r.SensorSerial, &r.Value, &r.Rate, &delta,
		&r.Time, &r.ReceivedAt, &r.Alarm, &r.Payload); err != nil {
		return nil, err
	}
	if delta.Valid {
		r.Delta = &delta.Float64
	}
	return &r, nil
}

// GetReading retrieves a single reading by id, nil when absent
func (s *sqlStore) GetReading(ctx context.Context, id string) (*models.GlucoseReading, error) {
	query := s.bind(`SELECT ` + readingColumns + ` FROM readings WHERE id = $1`)

	r, err := scanReading(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to get reading", err)
	}
	return r, nil
}

// GetLatestReading returns the most recent reading, nil when none stored
func (s *sqlStore) GetLatestReading(ctx context.Context) (*models.GlucoseReading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings ORDER BY time DESC LIMIT 1`

	r, err := scanReading(s.db.QueryRowContext(ctx, query))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to get latest reading", err)
	}
	return r, nil
}

// ReadingExists reports whether a reading with id is stored
func (s *sqlStore) ReadingExists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT COUNT(*) FROM readings WHERE id = $1`), id).Scan(&count)
	if err != nil {
		return false, utils.WrapError(utils.ErrCodeDatabase, "Failed to check reading", err)
	}
	return count > 0, nil
}

// GetReadings retrieves readings based on filter, newest first
func (s *sqlStore) GetReadings(ctx context.Context, filter models.ReadingFilter) ([]*models.GlucoseReading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if filter.SensorSerial != nil {
		query += fmt.Sprintf(" AND sensor_serial = $%d", argIndex)
		args = append(args, *filter.SensorSerial)
		argIndex++
	}

	if filter.From != nil {
		query += fmt.Sprintf(" AND time >= $%d", argIndex)
		args = append(args, filter.From.UTC())
		argIndex++
	}

	if filter.To != nil {
		query += fmt.Sprintf(" AND time <= $%d", argIndex)
		args = append(args, filter.To.UTC())
		argIndex++
	}

	if filter.Alarm != nil {
		query += fmt.Sprintf(" AND alarm = $%d", argIndex)
		args = append(args, *filter.Alarm)
		argIndex++
	}

	query += " ORDER BY time DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to query readings", err)
	}
	defer rows.Close()

	var readings []*models.GlucoseReading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to scan reading", err)
		}
		readings = append(readings, r)
	}

	if err := rows.Err(); err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to iterate readings", err)
	}
	return readings, nil
}

// SaveAlarmRecord appends an entry to the alarm history
func (s *sqlStore) SaveAlarmRecord(ctx context.Context, rec *models.AlarmRecord) error {
	if rec.ID == "" {
		rec.ID = utils.GenerateID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := s.bind(`
		INSERT INTO alarm_history
		(id, notification_id, alarm_type, action, for_test, glucose, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)

	var glucose sql.NullFloat64
	if rec.Glucose != nil {
		glucose = sql.NullFloat64{Float64: *rec.Glucose, Valid: true}
	}
	var errMsg sql.NullString
	if rec.Error != nil {
		errMsg = sql.NullString{String: *rec.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.NotificationID, rec.AlarmType, string(rec.Action),
		rec.ForTest, glucose, errMsg, rec.CreatedAt.UTC())
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to save alarm record", err)
	}
	return nil
}

// GetAlarmHistory retrieves alarm records, newest first
func (s *sqlStore) GetAlarmHistory(ctx context.Context, filter models.AlarmHistoryFilter) ([]*models.AlarmRecord, error) {
	query := `
		SELECT id, notification_id, alarm_type, action, for_test, glucose, error, created_at
		FROM alarm_history WHERE 1=1
	`
	args := []interface{}{}
	argIndex := 1

	if filter.AlarmType != nil {
		query += fmt.Sprintf(" AND alarm_type = $%d", argIndex)
		args = append(args, *filter.AlarmType)
		argIndex++
	}

	if filter.Action != nil {
		query += fmt.Sprintf(" AND action = $%d", argIndex)
		args = append(args, string(*filter.Action))
		argIndex++
	}

	if filter.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIndex)
		args = append(args, filter.Since.UTC())
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to query alarm history", err)
	}
	defer rows.Close()

	var records []*models.AlarmRecord
	for rows.Next() {
		var rec models.AlarmRecord
		var action string
		var glucose sql.NullFloat64
		var errMsg sql.NullString

		if err := rows.Scan(&rec.ID, &rec.NotificationID, &rec.AlarmType, &action,
			&rec.ForTest, &glucose, &errMsg, &rec.CreatedAt); err != nil {
			return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to scan alarm record", err)
		}

		rec.Action = models.AlarmAction(action)
		if glucose.Valid {
			rec.Glucose = &glucose.Float64
		}
		if errMsg.Valid {
			rec.Error = &errMsg.String
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to iterate alarm history", err)
	}
	return records, nil
}

// GetPreferences returns every stored preference of namespace
func (s *sqlStore) GetPreferences(ctx context.Context, namespace string) ([]*models.Preference, error) {
	rows, err := s.db.QueryContext(ctx,
		s.bind(`SELECT namespace, key, value FROM preferences WHERE namespace = $1 ORDER BY key`), namespace)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to query preferences", err)
	}
	defer rows.Close()

	var prefs []*models.Preference
	for rows.Next() {
		var p models.Preference
		if err := rows.Scan(&p.Namespace, &p.Key, &p.Value); err != nil {
			return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to scan preference", err)
		}
		prefs = append(prefs, &p)
	}
	return prefs, rows.Err()
}

// SetPreference inserts or updates a preference value
func (s *sqlStore) SetPreference(ctx context.Context, pref *models.Preference) error {
	query := s.bind(`
		INSERT INTO preferences (namespace, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)

	if _, err := s.db.ExecContext(ctx, query, pref.Namespace, pref.Key, pref.Value, time.Now().UTC()); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to save preference", err)
	}
	return nil
}

// UpsertEndpoint records a wearable endpoint and its last-seen time
func (s *sqlStore) UpsertEndpoint(ctx context.Context, ep *models.Endpoint) error {
	query := s.bind(`
		INSERT INTO endpoints (id, name, transport, capability, last_seen)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			transport = excluded.transport,
			capability = excluded.capability,
			last_seen = excluded.last_seen
	`)

	if _, err := s.db.ExecContext(ctx, query, ep.ID, ep.Name, ep.Transport, ep.Capability, ep.LastSeen.UTC()); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to save endpoint", err)
	}
	return nil
}

// GetEndpoints lists known endpoints, optionally only those seen since a time
func (s *sqlStore) GetEndpoints(ctx context.Context, seenSince *time.Time) ([]*models.Endpoint, error) {
	query := `SELECT id, name, transport, capability, last_seen FROM endpoints`
	args := []interface{}{}
	if seenSince != nil {
		query += ` WHERE last_seen >= $1`
		args = append(args, seenSince.UTC())
	}
	query += ` ORDER BY last_seen DESC`

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to query endpoints", err)
	}
	defer rows.Close()

	var endpoints []*models.Endpoint
	for rows.Next() {
		var ep models.Endpoint
		if err := rows.Scan(&ep.ID, &ep.Name, &ep.Transport, &ep.Capability, &ep.LastSeen); err != nil {
			return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to scan endpoint", err)
		}
		endpoints = append(endpoints, &ep)
	}
	return endpoints, rows.Err()
}

// stats collects row counts and the reading time range
func (s *sqlStore) stats() (*StorageStats, error) {
	stats := &StorageStats{}

	counts := []struct {
		table string
		dest  *int64
	}{
		{"readings", &stats.TotalReadings},
		{"alarm_history", &stats.TotalAlarms},
		{"endpoints", &stats.TotalEndpoints},
		{"preferences", &stats.TotalPreferences},
	}
	for _, c := range counts {
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + c.table).Scan(c.dest); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Failed to count %s", c.table), err.Error())
		}
	}

	var oldest, latest time.Time
	if err := s.db.QueryRow("SELECT time FROM readings ORDER BY time ASC LIMIT 1").Scan(&oldest); err == nil {
		stats.OldestReading = &oldest
	}
	if err := s.db.QueryRow("SELECT time FROM readings ORDER BY time DESC LIMIT 1").Scan(&latest); err == nil {
		stats.LatestReading = &latest
	}

	s.mu.Lock()
	stats.LastCleanup = s.lastCleanup
	s.mu.Unlock()

	return stats, nil
}

// Cleanup deletes readings and alarm history older than retentionDays
func (s *sqlStore) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}

	cutoffTime := time.Now().UTC().AddDate(0, 0, -retentionDays)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to begin cleanup transaction", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, s.bind("DELETE FROM readings WHERE time < $1"), cutoffTime)
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to cleanup old readings", err)
	}
	readingsDeleted, _ := result.RowsAffected()

	result, err = tx.ExecContext(ctx, s.bind("DELETE FROM alarm_history WHERE created_at < $1"), cutoffTime)
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to cleanup old alarm history", err)
	}
	alarmsDeleted, _ := result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to commit cleanup transaction", err)
	}

	now := time.Now()
	s.mu.Lock()
	s.lastCleanup = &now
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"readings_deleted": readingsDeleted,
		"alarms_deleted":   alarmsDeleted,
		"retention_days":   retentionDays,
	}).Info("Database cleanup completed")

	return nil
}

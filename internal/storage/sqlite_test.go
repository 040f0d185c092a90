package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/glucodata-handler/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()
	s := NewSQLiteStorage(&StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "data", "test.db"),
		MaxConnections:   2,
	})
	require.NoError(t, s.Connect())
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func reading(id string, value float64, at time.Time) *models.GlucoseReading {
	return &models.GlucoseReading{
		ID:           id,
		SensorSerial: "3MH0001",
		Value:        value,
		Rate:         0.5,
		Time:         at,
		ReceivedAt:   at.Add(2 * time.Second),
		Alarm:        "NONE",
		Payload:      []byte(`{"glucodata.Minute.mgdl":120}`),
	}
}

func TestSQLiteReadings(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	delta := -3.0
	first := reading("r1", 120, base.Add(-2*time.Minute))
	second := reading("r2", 117, base.Add(-time.Minute))
	second.Delta = &delta
	second.Alarm = "LOW"

	require.NoError(t, s.SaveReading(ctx, first))
	require.NoError(t, s.SaveReading(ctx, second))
	assert.ErrorIs(t, s.SaveReading(ctx, first), ErrDuplicateReading)

	exists, err := s.ReadingExists(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, exists)

	latest, err := s.GetLatestReading(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "r2", latest.ID)
	require.NotNil(t, latest.Delta)
	assert.Equal(t, -3.0, *latest.Delta)
	assert.True(t, latest.Time.Equal(second.Time))
	assert.Equal(t, first.Payload, latest.Payload)

	got, err := s.GetReading(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	alarm := "LOW"
	filtered, err := s.GetReadings(ctx, models.ReadingFilter{Alarm: &alarm})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "r2", filtered[0].ID)

	all, err := s.GetReadings(ctx, models.ReadingFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r2", all[0].ID)
}

func TestSQLiteAlarmHistory(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	glucose := 52.0
	msg := "service unavailable"
	require.NoError(t, s.SaveAlarmRecord(ctx, &models.AlarmRecord{
		NotificationID: 801, AlarmType: "VERY_LOW", Action: models.AlarmActionPosted,
		Glucose: &glucose, CreatedAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, s.SaveAlarmRecord(ctx, &models.AlarmRecord{
		NotificationID: 803, AlarmType: "HIGH", Action: models.AlarmActionFailed,
		ForTest: true, Error: &msg,
	}))

	records, err := s.GetAlarmHistory(ctx, models.AlarmHistoryFilter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "HIGH", records[0].AlarmType)
	assert.True(t, records[0].ForTest)
	require.NotNil(t, records[0].Error)
	assert.Equal(t, msg, *records[0].Error)
	assert.NotEmpty(t, records[0].ID)
	require.NotNil(t, records[1].Glucose)
	assert.Equal(t, 52.0, *records[1].Glucose)

	posted := models.AlarmActionPosted
	records, err = s.GetAlarmHistory(ctx, models.AlarmHistoryFilter{Action: &posted})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 801, records[0].NotificationID)
}

func TestSQLitePreferencesAndEndpoints(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.SetPreference(ctx, &models.Preference{Namespace: "GluDataHandler", Key: "alarm_force_sound", Value: "true"}))
	require.NoError(t, s.SetPreference(ctx, &models.Preference{Namespace: "GluDataHandler", Key: "alarm_force_sound", Value: "false"}))
	require.NoError(t, s.SetPreference(ctx, &models.Preference{Namespace: "other", Key: "x", Value: "1"}))

	prefs, err := s.GetPreferences(ctx, "GluDataHandler")
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.Equal(t, "false", prefs[0].Value)

	now := time.Now().UTC()
	require.NoError(t, s.UpsertEndpoint(ctx, &models.Endpoint{ID: "watch-1", Name: "Watch", Transport: "websocket", Capability: "glucodata_intent", LastSeen: now.Add(-time.Hour)}))
	require.NoError(t, s.UpsertEndpoint(ctx, &models.Endpoint{ID: "watch-2", Name: "Watch 2", Transport: "nats", Capability: "glucodata_intent", LastSeen: now}))

	since := now.Add(-time.Minute)
	recent, err := s.GetEndpoints(ctx, &since)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "watch-2", recent[0].ID)

	all, err := s.GetEndpoints(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteCleanupAndStats(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveReading(ctx, reading("old", 100, now.AddDate(0, 0, -100))))
	require.NoError(t, s.SaveReading(ctx, reading("new", 110, now.Add(-time.Minute))))

	require.NoError(t, s.Cleanup(ctx, 90))

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalReadings)
	require.NotNil(t, stats.LastCleanup)
	require.NotNil(t, stats.LatestReading)
	assert.Positive(t, stats.DatabaseSize)

	assert.True(t, s.GetHealth().Healthy)
	require.NoError(t, s.Vacuum())
}

func TestNotConnected(t *testing.T) {
	s := NewSQLiteStorage(&StorageConfig{ConnectionString: "unused.db"})
	assert.Error(t, s.Ping())
	assert.Error(t, s.Migrate())
	assert.False(t, s.GetHealth().Healthy)
}

func TestSQLiteDSNCarriesPragmas(t *testing.T) {
	assert.Equal(t,
		"data/g.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		sqliteDSN("data/g.db"))
	assert.Equal(t,
		"g.db?mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		sqliteDSN("g.db?mode=rwc"))
}

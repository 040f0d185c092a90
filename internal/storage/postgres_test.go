package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

func newMockPostgres(t *testing.T) (*PostgreSQLStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &PostgreSQLStorage{
		sqlStore: &sqlStore{
			db:         db,
			logger:     utils.NewTestLogger(),
			migrations: GetPostgresMigrations(),
		},
		config: &StorageConfig{Type: "postgres"},
	}, mock
}

func TestPostgresMigrate(t *testing.T) {
	p, mock := newMockPostgres(t)

	for range GetPostgresMigrations() {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, p.Migrate())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveReadingDuplicate(t *testing.T) {
	p, mock := newMockPostgres(t)
	ctx := context.Background()
	r := reading("r1", 140, time.Now())

	insert := regexp.QuoteMeta("INSERT INTO readings")
	mock.ExpectExec(insert).
		WithArgs("r1", "3MH0001", 140.0, 0.5, nil, sqlmock.AnyArg(), sqlmock.AnyArg(), "NONE", r.Payload).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, p.SaveReading(ctx, r))
	assert.ErrorIs(t, p.SaveReading(ctx, r), ErrDuplicateReading)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetReadingsKeepsNumberedPlaceholders(t *testing.T) {
	p, mock := newMockPostgres(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "sensor_serial", "value", "rate", "delta", "time", "received_at", "alarm", "payload"}).
		AddRow("r1", "ABC", 98.0, 1.0, 2.0, at, at, "NONE", []byte("{}"))

	mock.ExpectQuery(regexp.QuoteMeta("FROM readings WHERE 1=1 AND sensor_serial = $1 ORDER BY time DESC LIMIT $2")).
		WithArgs("ABC", 5).
		WillReturnRows(rows)

	sensor := "ABC"
	readings, err := p.GetReadings(context.Background(), models.ReadingFilter{SensorSerial: &sensor, Limit: 5})
	require.NoError(t, err)
	require.Len(t, readings, 1)
	require.NotNil(t, readings[0].Delta)
	assert.Equal(t, 2.0, *readings[0].Delta)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCleanup(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM readings WHERE time < $1")).WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM alarm_history WHERE created_at < $1")).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, p.Cleanup(context.Background(), 30))
	assert.NoError(t, mock.ExpectationsWereMet())

	stats, err := func() (*StorageStats, error) {
		for _, table := range []string{"readings", "alarm_history", "endpoints", "preferences"} {
			mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM " + table)).
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		}
		mock.ExpectQuery("ORDER BY time ASC").WillReturnRows(sqlmock.NewRows([]string{"time"}))
		mock.ExpectQuery("ORDER BY time DESC").WillReturnRows(sqlmock.NewRows([]string{"time"}))
		mock.ExpectQuery("pg_database_size").WillReturnRows(sqlmock.NewRows([]string{"size"}).AddRow(8192))
		return p.GetStats()
	}()
	require.NoError(t, err)
	assert.Equal(t, int64(8192), stats.DatabaseSize)
	assert.NotNil(t, stats.LastCleanup)
	assert.Nil(t, stats.OldestReading)
}

func TestPostgresCleanupRollsBackOnError(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM readings").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := p.Cleanup(context.Background(), 30)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeDatabase))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "postgres://gdh:xxxxx@db:5432/gdh", redactDSN("postgres://gdh:secret@db:5432/gdh"))
	assert.Equal(t, "host=db user=gdh", redactDSN("host=db user=gdh"))
}

package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/glucodata-handler/internal/alarm"
	"github.com/smartdevs17/glucodata-handler/internal/config"
	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/internal/notifier"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

type fakeStore struct {
	mu         sync.Mutex
	latest     *models.GlucoseReading
	latestErr  error
	cleanupErr error
	cleanups   []int
}

func (f *fakeStore) GetLatestReading(ctx context.Context) (*models.GlucoseReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.latestErr
}

func (f *fakeStore) Cleanup(ctx context.Context, retentionDays int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, retentionDays)
	return f.cleanupErr
}

type fixture struct {
	mon      *ReadingMonitor
	store    *fakeStore
	registry *notifier.Registry
	now      time.Time
	obsolete []notifier.Event
}

func newFixture(cfg config.MonitorConfig) *fixture {
	f := &fixture{
		store: &fakeStore{},
		now:   time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	registry := notifier.NewRegistry()
	f.registry = registry
	registry.Add(notifier.Func(func(ctx context.Context, evt notifier.Event) {
		f.obsolete = append(f.obsolete, evt)
	}), notifier.SourceObsolete)

	classifier := alarm.NewClassifier(config.AlarmConfig{
		VeryLow: 55, Low: 70, High: 250, VeryHigh: 300,
		ObsoleteAfter: 10 * time.Minute,
	})
	f.mon = NewReadingMonitor(f.store, registry, classifier, cfg, 30, Options{
		Logger: utils.NewTestLogger(),
		Now:    func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) reading(id string, at time.Time) {
	f.store.latest = &models.GlucoseReading{ID: id, SensorSerial: "s", Value: 120, Time: at}
}

func TestCheckStalenessEmitsOncePerStalePeriod(t *testing.T) {
	f := newFixture(config.MonitorConfig{})
	ctx := context.Background()

	res, err := f.mon.CheckStaleness(ctx)
	require.NoError(t, err)
	assert.False(t, res.Stale, "no data is not stale")

	f.reading("r1", f.now.Add(-5*time.Minute))
	res, err = f.mon.CheckStaleness(ctx)
	require.NoError(t, err)
	assert.False(t, res.Stale)
	assert.Equal(t, 5*time.Minute, res.Age)

	f.now = f.now.Add(6 * time.Minute)
	res, err = f.mon.CheckStaleness(ctx)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.True(t, res.Emitted)

	f.now = f.now.Add(time.Minute)
	res, err = f.mon.CheckStaleness(ctx)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.False(t, res.Emitted)

	require.Len(t, f.obsolete, 1)
	assert.Equal(t, "OBSOLETE", f.obsolete[0].Alarm)
	assert.Equal(t, "r1", f.obsolete[0].Reading.ID)

	// fresh data, then stale again
	f.reading("r2", f.now)
	res, _ = f.mon.CheckStaleness(ctx)
	assert.False(t, res.Stale)

	f.now = f.now.Add(11 * time.Minute)
	res, _ = f.mon.CheckStaleness(ctx)
	assert.True(t, res.Emitted)
	assert.Len(t, f.obsolete, 2)

	stats := f.mon.GetStats()
	assert.Equal(t, uint64(6), stats.Checks)
	assert.Equal(t, uint64(2), stats.ObsoleteEmitted)
	assert.True(t, stats.Stale)
}

func TestCheckStalenessStorageError(t *testing.T) {
	f := newFixture(config.MonitorConfig{})
	f.store.latestErr = errors.New("database is locked")

	_, err := f.mon.CheckStaleness(context.Background())
	assert.True(t, utils.HasCode(err, utils.ErrCodeDatabase))

	health := f.mon.GetHealth()
	assert.False(t, health.Healthy)
	assert.False(t, health.StorageHealthy)
	assert.Equal(t, uint64(1), f.mon.GetStats().ErrorCount)
	assert.Equal(t, uint64(1), f.mon.poller.GetStats()["error_count"])
}

func TestRunCleanup(t *testing.T) {
	f := newFixture(config.MonitorConfig{})
	require.NoError(t, f.mon.RunCleanup(context.Background()))
	assert.Equal(t, []int{30}, f.store.cleanups)
	assert.Equal(t, uint64(1), f.mon.GetStats().CleanupRuns)

	f.store.cleanupErr = errors.New("boom")
	assert.Error(t, f.mon.RunCleanup(context.Background()))
}

func TestStartSchedulesJobs(t *testing.T) {
	f := newFixture(config.MonitorConfig{StaleCheckSchedule: "@every 1h", CleanupSchedule: "@daily"})

	require.NoError(t, f.mon.Start(context.Background()))
	assert.True(t, f.mon.IsRunning())
	assert.Equal(t, 2, f.mon.Jobs())
	assert.Error(t, f.mon.Start(context.Background()))

	require.NoError(t, f.mon.Stop())
	assert.False(t, f.mon.IsRunning())
	assert.Equal(t, 0, f.mon.Jobs())
	assert.NoError(t, f.mon.Stop())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	f := newFixture(config.MonitorConfig{StaleCheckSchedule: "every now and then"})
	err := f.mon.Start(context.Background())
	assert.True(t, utils.HasCode(err, utils.ErrCodeConfiguration))
	assert.False(t, f.mon.IsRunning())
}

func TestBroadcastClearsStaleState(t *testing.T) {
	f := newFixture(config.MonitorConfig{StaleCheckSchedule: "@every 1h"})
	ctx := context.Background()
	require.NoError(t, f.mon.Start(ctx))
	defer f.mon.Stop()
	assert.True(t, f.registry.HasReceivers(notifier.SourceBroadcast))

	f.reading("r1", f.now.Add(-15*time.Minute))
	res, err := f.mon.CheckStaleness(ctx)
	require.NoError(t, err)
	require.True(t, res.Emitted)

	// an already obsolete reading leaves the state alone
	f.registry.Notify(ctx, notifier.Event{
		Source:  notifier.SourceBroadcast,
		Reading: &models.GlucoseReading{ID: "old", Time: f.now.Add(-20 * time.Minute)},
	})
	assert.True(t, f.mon.GetStats().Stale)

	f.registry.Notify(ctx, notifier.Event{
		Source:  notifier.SourceBroadcast,
		Reading: &models.GlucoseReading{ID: "r2", Time: f.now},
	})
	assert.False(t, f.mon.GetStats().Stale)

	// r1 going stale again counts as a new stale period
	res, err = f.mon.CheckStaleness(ctx)
	require.NoError(t, err)
	assert.True(t, res.Emitted)
	assert.Len(t, f.obsolete, 2)

	require.NoError(t, f.mon.Stop())
	assert.False(t, f.registry.HasReceivers(notifier.SourceBroadcast))
}

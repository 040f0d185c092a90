package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/glucodata-handler/internal/config"
	"github.com/smartdevs17/glucodata-handler/internal/metrics"
	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/internal/notifier"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

var baseTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type memStore struct {
	mu          sync.Mutex
	readings    map[string]*models.GlucoseReading
	saveErr     error
	existsDelay time.Duration
}

func newMemStore() *memStore {
	return &memStore{readings: map[string]*models.GlucoseReading{}}
}

func (m *memStore) SaveReading(ctx context.Context, r *models.GlucoseReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.readings[r.ID] = r
	return nil
}

func (m *memStore) ReadingExists(ctx context.Context, id string) (bool, error) {
	time.Sleep(m.existsDelay)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.readings[id]
	return ok, nil
}

func (m *memStore) GetLatestReading(ctx context.Context) (*models.GlucoseReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.GlucoseReading
	for _, r := range m.readings {
		if latest == nil || r.Time.After(latest.Time) {
			latest = r
		}
	}
	return latest, nil
}

type fakeRelayer struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakeRelayer) Relay(ctx context.Context, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
}

type fixture struct {
	proc     *BroadcastProcessor
	store    *memStore
	relayer  *fakeRelayer
	registry *notifier.Registry
	metrics  *metrics.PrometheusMetrics
	now      time.Time

	mu     sync.Mutex
	events []notifier.Event
}

func alarmConfig() config.AlarmConfig {
	return config.AlarmConfig{
		VeryLow:        55,
		Low:            70,
		High:           250,
		VeryHigh:       300,
		ObsoleteAfter:  10 * time.Minute,
		RepeatInterval: 15 * time.Minute,
		SnoozeOptions:  []int{60, 90, 120},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		relayer:  &fakeRelayer{},
		registry: notifier.NewRegistry(),
		metrics:  metrics.NewManager().GetPrometheusMetrics(),
		now:      baseTime,
	}
	f.registry.Add(notifier.Func(func(ctx context.Context, evt notifier.Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, evt)
	}), notifier.SourceBroadcast, notifier.SourceAlarmTrigger)

	f.proc = NewBroadcastProcessor(
		config.ReceiverConfig{Action: DefaultAction, MaxPayload: 4096},
		alarmConfig(),
		Options{
			Store:    f.store,
			Relayer:  f.relayer,
			Registry: f.registry,
			Metrics:  f.metrics,
			Logger:   utils.NewTestLogger(),
			Now:      func() time.Time { return f.now },
		},
	)
	require.NoError(t, f.proc.Start(context.Background()))
	t.Cleanup(func() { _ = f.proc.Stop() })
	return f
}

func (f *fixture) eventsOf(src notifier.Source) []notifier.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notifier.Event
	for _, e := range f.events {
		if e.Source == src {
			out = append(out, e)
		}
	}
	return out
}

func payload(serial string, mgdl float64, at time.Time) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		KeySerial: serial,
		KeyMgdl:   mgdl,
		KeyRate:   0.4,
		KeyTime:   at.UnixMilli(),
	})
	return b
}

func (f *fixture) send(t *testing.T, mgdl float64, at time.Time) *ProcessResult {
	t.Helper()
	f.now = at
	res, err := f.proc.HandleBroadcast(context.Background(), DefaultAction, payload("3MH00ABC", mgdl, at))
	require.NoError(t, err)
	return res
}

func TestUnexpectedActionIsDropped(t *testing.T) {
	f := newFixture(t)

	res, err := f.proc.HandleBroadcast(context.Background(), "com.example.Other", payload("s", 100, baseTime))
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrUnexpectedAction))
	assert.Empty(t, f.relayer.payloads)
	assert.Empty(t, f.events)

	stats := f.proc.GetStats()
	assert.Equal(t, uint64(1), stats.Received)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BroadcastsReceivedTotal.WithLabelValues("dropped")))
}

func TestInvalidPayloadsAreRejected(t *testing.T) {
	f := newFixture(t)

	cases := map[string][]byte{
		"not json":    []byte("{broken"),
		"no value":    []byte(`{"glucodata.Minute.SerialNumber":"s","glucodata.Minute.Time":1}`),
		"no serial":   payload("", 100, baseTime),
		"future time": payload("s", 100, baseTime.Add(time.Hour)),
		"too large":   make([]byte, 5000),
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.proc.HandleBroadcast(context.Background(), DefaultAction, p)
			assert.True(t, utils.HasCode(err, utils.ErrCodeValidation), "got %v", err)
		})
	}

	assert.Equal(t, uint64(len(cases)), f.proc.GetStats().Invalid)
	assert.Empty(t, f.relayer.payloads)
	assert.NotNil(t, f.proc.GetStats().LastError)
}

func TestAcceptedBroadcastIsStoredNotifiedAndRelayed(t *testing.T) {
	f := newFixture(t)
	p := payload("3MH00ABC", 120, baseTime)

	res, err := f.proc.HandleBroadcast(context.Background(), DefaultAction, p)
	require.NoError(t, err)

	assert.True(t, res.Stored)
	assert.True(t, res.Relayed)
	assert.False(t, res.AlarmTriggered)
	assert.Equal(t, "NONE", res.Alarm)
	assert.Equal(t, utils.ReadingID("3MH00ABC", baseTime), res.ReadingID)

	require.Len(t, f.relayer.payloads, 1)
	assert.Equal(t, p, f.relayer.payloads[0])

	broadcasts := f.eventsOf(notifier.SourceBroadcast)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, 120.0, broadcasts[0].Reading.Value)
	assert.Empty(t, f.eventsOf(notifier.SourceAlarmTrigger))

	stored, _ := f.store.ReadingExists(context.Background(), res.ReadingID)
	assert.True(t, stored)
}

func TestDuplicateBroadcastIsNotRelayedTwice(t *testing.T) {
	f := newFixture(t)
	f.send(t, 120, baseTime)

	res := f.send(t, 120, baseTime)
	assert.True(t, res.Duplicate)
	assert.False(t, res.Relayed)
	assert.Len(t, f.relayer.payloads, 1)
	assert.Equal(t, uint64(1), f.proc.GetStats().Duplicates)

	older := f.send(t, 118, baseTime.Add(-time.Minute))
	assert.True(t, older.Duplicate)
}

func TestConcurrentDuplicateBroadcastIsHandledOnce(t *testing.T) {
	f := newFixture(t)
	f.store.existsDelay = 20 * time.Millisecond
	p := payload("3MH00ABC", 120, baseTime)

	results := make([]*ProcessResult, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.proc.HandleBroadcast(context.Background(), DefaultAction, p)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.NotEqual(t, results[0].Duplicate, results[1].Duplicate)
	assert.Len(t, f.relayer.payloads, 1)
	assert.Len(t, f.eventsOf(notifier.SourceBroadcast), 1)

	stats := f.proc.GetStats()
	assert.Equal(t, uint64(1), stats.Duplicates)
	assert.Equal(t, uint64(1), stats.Stored)
	assert.Equal(t, uint64(1), stats.Relayed)
	summaries := f.proc.aggregator.Summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].Count)
}

func TestDeltaPerMinute(t *testing.T) {
	f := newFixture(t)
	first := f.send(t, 100, baseTime)
	assert.Nil(t, first.Reading.Delta)

	second := f.send(t, 110, baseTime.Add(5*time.Minute))
	require.NotNil(t, second.Reading.Delta)
	assert.Equal(t, 2.0, *second.Reading.Delta)

	third := f.send(t, 150, baseTime.Add(30*time.Minute))
	assert.Nil(t, third.Reading.Delta, "gap beyond the freshness window gives no delta")
}

func TestAlarmTriggerRepeatPolicy(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.send(t, 65, baseTime).AlarmTriggered)
	assert.False(t, f.send(t, 64, baseTime.Add(time.Minute)).AlarmTriggered)
	assert.False(t, f.send(t, 66, baseTime.Add(10*time.Minute)).AlarmTriggered)
	assert.True(t, f.send(t, 66, baseTime.Add(16*time.Minute)).AlarmTriggered, "repeat interval elapsed")
	assert.True(t, f.send(t, 50, baseTime.Add(17*time.Minute)).AlarmTriggered, "severity changed")
	assert.False(t, f.send(t, 120, baseTime.Add(18*time.Minute)).AlarmTriggered)
	assert.True(t, f.send(t, 260, baseTime.Add(19*time.Minute)).AlarmTriggered)

	triggers := f.eventsOf(notifier.SourceAlarmTrigger)
	require.Len(t, triggers, 4)
	assert.Equal(t, []string{"LOW", "LOW", "VERY_LOW", "HIGH"},
		[]string{triggers[0].Alarm, triggers[1].Alarm, triggers[2].Alarm, triggers[3].Alarm})
	assert.Equal(t, uint64(4), f.proc.GetStats().AlarmsTriggered)

	f.proc.ResetAlarmState()
	assert.True(t, f.send(t, 261, baseTime.Add(20*time.Minute)).AlarmTriggered)
}

func TestStoreFailureDoesNotStopRelay(t *testing.T) {
	f := newFixture(t)
	f.store.saveErr = utils.NewAppError(utils.ErrCodeDatabase, "disk full", "")

	res := f.send(t, 120, baseTime)
	assert.False(t, res.Stored)
	assert.True(t, res.Relayed)
	assert.Equal(t, uint64(1), f.proc.GetStats().StoreErrors)
}

func TestRelayEventsUpdateStats(t *testing.T) {
	f := newFixture(t)
	f.registry.Notify(context.Background(), notifier.Event{
		Source: notifier.SourceRelay,
		Extras: map[string]interface{}{"endpoints": 3, "sent": 2, "failed": 1},
	})

	stats := f.proc.GetStats()
	assert.Equal(t, uint64(1), stats.RelayFanouts)
	assert.Equal(t, uint64(2), stats.RelayEndpointsHit)
	assert.Equal(t, uint64(1), stats.RelayEndpointsErr)
}

func TestStartSeedsFromStorage(t *testing.T) {
	store := newMemStore()
	prev := &models.GlucoseReading{ID: "x", SensorSerial: "3MH00ABC", Value: 100, Time: baseTime}
	require.NoError(t, store.SaveReading(context.Background(), prev))

	now := baseTime.Add(time.Minute)
	proc := NewBroadcastProcessor(config.ReceiverConfig{}, alarmConfig(), Options{
		Store:  store,
		Logger: utils.NewTestLogger(),
		Now:    func() time.Time { return now },
	})
	require.NoError(t, proc.Start(context.Background()))
	assert.Error(t, proc.Start(context.Background()))

	res, err := proc.HandleBroadcast(context.Background(), DefaultAction, payload("3MH00ABC", 103, now))
	require.NoError(t, err)
	require.NotNil(t, res.Reading.Delta)
	assert.Equal(t, 3.0, *res.Reading.Delta)
	assert.False(t, res.Relayed)

	require.NoError(t, proc.Stop())
	assert.False(t, proc.IsRunning())
	assert.False(t, proc.GetHealth().Healthy)
}

func TestObsoleteResetsAlarmState(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.send(t, 65, baseTime).AlarmTriggered)

	f.registry.Notify(context.Background(), notifier.Event{Source: notifier.SourceObsolete})
	assert.Equal(t, "OBSOLETE", f.proc.GetStats().CurrentAlarm)

	assert.True(t, f.send(t, 66, baseTime.Add(20*time.Minute)).AlarmTriggered)
}

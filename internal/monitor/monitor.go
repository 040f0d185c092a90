// File: internal/monitor/monitor.go
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/glucodata-handler/internal/alarm"
	"github.com/smartdevs17/glucodata-handler/internal/config"
	"github.com/smartdevs17/glucodata-handler/internal/metrics"
	"github.com/smartdevs17/glucodata-handler/internal/notifier"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// Monitor defines the reading monitor interface
type Monitor interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool

	CheckStaleness(ctx context.Context) (*CheckResult, error)
	RunCleanup(ctx context.Context) error

	GetStats() *MonitorStats
	GetHealth() *HealthStatus
}

// Store is what the monitor needs from storage
type Store interface {
	ReadingSource
	Cleanup(ctx context.Context, retentionDays int) error
}

// ReadingMonitor runs the scheduled jobs: a staleness check that raises
// OBSOLETE once per stale period and a retention cleanup.
type ReadingMonitor struct {
	store      Store
	registry   *notifier.Registry
	classifier *alarm.Classifier
	metrics    *metrics.Manager
	logger     *logrus.Entry

	config        config.MonitorConfig
	retentionDays int
	now           func() time.Time

	mu      sync.RWMutex
	running bool
	cron    *cron.Cron
	cancel  context.CancelFunc

	poller *ReadingPoller

	// id of the reading OBSOLETE was raised for, empty while data is fresh
	staleFor string

	stats *MonitorStats
}

// CheckResult is the outcome of one staleness check
type CheckResult struct {
	CheckedAt time.Time     `json:"checked_at"`
	ReadingID string        `json:"reading_id,omitempty"`
	Age       time.Duration `json:"age"`
	Stale     bool          `json:"stale"`
	Emitted   bool          `json:"emitted"`
}

// MonitorStats provides monitoring statistics
type MonitorStats struct {
	StartTime       time.Time     `json:"start_time"`
	Uptime          time.Duration `json:"uptime"`
	IsRunning       bool          `json:"is_running"`
	Checks          uint64        `json:"checks"`
	ObsoleteEmitted uint64        `json:"obsolete_emitted"`
	CleanupRuns     uint64        `json:"cleanup_runs"`
	Stale           bool          `json:"stale"`
	LastCheckAt     *time.Time    `json:"last_check_at,omitempty"`
	LastCleanupAt   *time.Time    `json:"last_cleanup_at,omitempty"`
	ErrorCount      uint64        `json:"error_count"`
	LastError       *string       `json:"last_error,omitempty"`
	LastErrorTime   *time.Time    `json:"last_error_time,omitempty"`
}

// HealthStatus provides health information
type HealthStatus struct {
	Healthy        bool          `json:"healthy"`
	Stale          bool          `json:"stale"`
	LastCheckAge   time.Duration `json:"last_check_age"`
	StorageHealthy bool          `json:"storage_healthy"`
	Issues         []string      `json:"issues,omitempty"`
}

// Options wires optional collaborators
type Options struct {
	Metrics *metrics.Manager
	Logger  *logrus.Logger
	Now     func() time.Time
}

// NewReadingMonitor creates a new monitor
func NewReadingMonitor(
	store Store,
	registry *notifier.Registry,
	classifier *alarm.Classifier,
	cfg config.MonitorConfig,
	retentionDays int,
	opts Options,
) *ReadingMonitor {
	logger := opts.Logger
	if logger == nil {
		logger = utils.GetLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &ReadingMonitor{
		store:         store,
		registry:      registry,
		classifier:    classifier,
		metrics:       opts.Metrics,
		logger:        logger.WithField("component", "monitor"),
		config:        cfg,
		retentionDays: retentionDays,
		now:           now,
		poller:        NewReadingPoller(store),
		stats:         &MonitorStats{StartTime: now()},
	}
}

// Start schedules the jobs
func (m *ReadingMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Monitor already running", "")
	}

	cronLogger := cron.PrintfLogger(m.logger)
	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	jobCtx, cancel := context.WithCancel(ctx)

	if m.config.StaleCheckSchedule != "" {
		if _, err := c.AddFunc(m.config.StaleCheckSchedule, func() {
			if _, err := m.CheckStaleness(jobCtx); err != nil {
				m.logger.WithError(err).Warn("Staleness check failed")
			}
		}); err != nil {
			cancel()
			return utils.WrapError(utils.ErrCodeConfiguration, "Invalid stale check schedule", err)
		}
	}

	if m.config.CleanupSchedule != "" && m.retentionDays > 0 {
		if _, err := c.AddFunc(m.config.CleanupSchedule, func() {
			if err := m.RunCleanup(jobCtx); err != nil {
				m.logger.WithError(err).Warn("Cleanup failed")
			}
		}); err != nil {
			cancel()
			return utils.WrapError(utils.ErrCodeConfiguration, "Invalid cleanup schedule", err)
		}
	}

	if m.registry != nil {
		m.registry.Add(m, notifier.SourceBroadcast)
	}

	c.Start()
	m.cron = c
	m.cancel = cancel
	m.running = true
	m.stats.StartTime = m.now()
	m.stats.IsRunning = true

	m.logger.WithFields(logrus.Fields{
		"stale_check": m.config.StaleCheckSchedule,
		"cleanup":     m.config.CleanupSchedule,
		"jobs":        len(c.Entries()),
	}).Info("Monitor started")
	m.updateHealth(true)
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (m *ReadingMonitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	c, cancel := m.cron, m.cancel
	m.running = false
	m.stats.IsRunning = false
	m.cron = nil
	m.mu.Unlock()

	if m.registry != nil {
		m.registry.Remove(m)
	}
	<-c.Stop().Done()
	cancel()

	m.logger.Info("Monitor stopped")
	return nil
}

// IsRunning returns whether the monitor is running
func (m *ReadingMonitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Jobs returns the number of scheduled jobs
func (m *ReadingMonitor) Jobs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cron == nil {
		return 0
	}
	return len(m.cron.Entries())
}

// CheckStaleness looks at the newest reading. The first check that finds it
// obsolete emits OBSOLETE; further checks stay quiet until a newer reading
// arrives and goes stale in turn.
func (m *ReadingMonitor) CheckStaleness(ctx context.Context) (*CheckResult, error) {
	now := m.now()
	result := &CheckResult{CheckedAt: now}

	latest, err := m.poller.GetLatestReading(ctx)
	if err != nil {
		m.recordError(err)
		return nil, err
	}

	m.mu.Lock()
	m.stats.Checks++
	m.stats.LastCheckAt = &now
	m.mu.Unlock()

	if latest == nil {
		return result, nil
	}

	result.ReadingID = latest.ID
	result.Age = latest.Age(now)
	result.Stale = m.classifier.IsObsolete(latest, now)

	m.mu.Lock()
	m.stats.Stale = result.Stale
	if !result.Stale {
		if m.staleFor != "" {
			m.logger.WithField("reading_id", latest.ID).Info("Readings are fresh again")
		}
		m.staleFor = ""
		m.mu.Unlock()
		return result, nil
	}
	if m.staleFor == latest.ID {
		m.mu.Unlock()
		return result, nil
	}
	m.staleFor = latest.ID
	m.stats.ObsoleteEmitted++
	m.mu.Unlock()

	result.Emitted = true
	m.logger.WithFields(logrus.Fields{
		"reading_id": latest.ID,
		"age":        result.Age.Round(time.Second).String(),
	}).Warn("Glucose data is obsolete")

	if m.registry != nil {
		m.registry.Notify(ctx, notifier.Event{
			Source:  notifier.SourceObsolete,
			Reading: latest,
			Alarm:   alarm.Obsolete.String(),
		})
	}
	return result, nil
}

// OnNotify clears the stale state as soon as a fresh reading is accepted
func (m *ReadingMonitor) OnNotify(ctx context.Context, evt notifier.Event) {
	if evt.Source != notifier.SourceBroadcast || evt.Reading == nil {
		return
	}
	if m.classifier.IsObsolete(evt.Reading, m.now()) {
		return
	}

	m.mu.Lock()
	wasStale := m.staleFor != ""
	m.staleFor = ""
	m.stats.Stale = false
	m.mu.Unlock()

	if wasStale {
		m.logger.WithField("reading_id", evt.Reading.ID).Info("Readings are fresh again")
	}
}

// RunCleanup deletes data older than the retention period
func (m *ReadingMonitor) RunCleanup(ctx context.Context) error {
	if m.retentionDays <= 0 {
		return nil
	}

	start := m.now()
	if err := m.store.Cleanup(ctx, m.retentionDays); err != nil {
		m.recordError(err)
		return fmt.Errorf("cleanup with retention %d days: %w", m.retentionDays, err)
	}

	m.mu.Lock()
	m.stats.CleanupRuns++
	m.stats.LastCleanupAt = &start
	m.mu.Unlock()

	m.logger.WithField("retention_days", m.retentionDays).Info("Cleanup finished")
	return nil
}

// GetStats returns a snapshot of the monitor statistics
func (m *ReadingMonitor) GetStats() *MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := *m.stats
	if stats.IsRunning {
		stats.Uptime = m.now().Sub(stats.StartTime)
	}
	return &stats
}

// GetHealth returns monitor health status
func (m *ReadingMonitor) GetHealth() *HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health := &HealthStatus{
		Healthy:        true,
		Stale:          m.stats.Stale,
		StorageHealthy: true,
		Issues:         []string{},
	}

	if !m.running {
		health.Healthy = false
		health.Issues = append(health.Issues, "Monitor is not running")
	}
	if m.stats.LastCheckAt != nil {
		health.LastCheckAge = m.now().Sub(*m.stats.LastCheckAt)
	}
	if m.stats.LastErrorTime != nil && (m.stats.LastCheckAt == nil || m.stats.LastErrorTime.After(*m.stats.LastCheckAt)) {
		health.StorageHealthy = false
		health.Healthy = false
		health.Issues = append(health.Issues, "Storage unhealthy: "+*m.stats.LastError)
	}
	if m.stats.Stale {
		health.Issues = append(health.Issues, "Glucose data is obsolete")
	}

	return health
}

// recordError records an error in statistics
func (m *ReadingMonitor) recordError(err error) {
	m.mu.Lock()
	m.stats.ErrorCount++
	errorStr := err.Error()
	m.stats.LastError = &errorStr
	now := m.now()
	m.stats.LastErrorTime = &now
	m.mu.Unlock()

	m.updateHealth(false)
}

func (m *ReadingMonitor) updateHealth(healthy bool) {
	if m.metrics != nil {
		m.metrics.GetPrometheusMetrics().UpdateComponentHealth("monitor", healthy)
	}
}

// File: internal/notification/notification.go
package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smartdevs17/glucodata-handler/internal/metrics"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// Poster is the external notification service: it shows and removes
// notifications identified by an integer id.
type Poster interface {
	Name() string
	Post(ctx context.Context, n *Notification) error
	Cancel(ctx context.Context, id int) error
}

// Notification is the content of one alarm notification
type Notification struct {
	ID            int       `json:"id"`
	AlarmType     string    `json:"alarm_type"`
	ChannelID     string    `json:"channel_id"`
	Title         string    `json:"title"`
	Text          string    `json:"text"`
	Sound         string    `json:"sound"`
	Vibration     []int64   `json:"vibration,omitempty"`
	BypassDnd     bool      `json:"bypass_dnd"`
	ForceSound    bool      `json:"force_sound"`
	Vibrate       bool      `json:"vibrate"`
	Glucose       string    `json:"glucose"`
	Delta         string    `json:"delta"`
	When          time.Time `json:"when"`
	SnoozeOptions []int     `json:"snooze_options,omitempty"`
	ForTest       bool      `json:"for_test"`
}

// NotificationStats provides notification statistics
type NotificationStats struct {
	TotalPosted         uint64        `json:"total_posted"`
	TotalCancelled      uint64        `json:"total_cancelled"`
	TotalFailed         uint64        `json:"total_failed"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	ActiveNotifications int           `json:"active_notifications"`
	Posters             []string      `json:"posters"`
	LastError           *string       `json:"last_error,omitempty"`
	LastErrorTime       *time.Time    `json:"last_error_time,omitempty"`
}

type NotificationHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Manager fans every post and cancel out to the configured posters and keeps
// track of which notifications are currently shown. It is itself a Poster.
type Manager struct {
	posters        []Poster
	logger         *NotificationLogger
	metricsManager *metrics.Manager

	mu      sync.RWMutex
	running bool
	active  map[int]*Notification
	stats   *NotificationStats
}

// NewManager creates a notification manager over the given posters
func NewManager(metricsManager *metrics.Manager, posters ...Poster) *Manager {
	names := make([]string, 0, len(posters))
	for _, p := range posters {
		names = append(names, p.Name())
	}
	return &Manager{
		posters:        posters,
		logger:         NewNotificationLogger().WithField("component", "notification_manager"),
		metricsManager: metricsManager,
		active:         make(map[int]*Notification),
		stats:          &NotificationStats{Posters: names},
	}
}

// Name implements Poster
func (m *Manager) Name() string { return "manager" }

// Start starts the notification manager
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Notification manager already running", "")
	}
	m.running = true
	m.logger.Info("Notification manager started", map[string]interface{}{"posters": m.stats.Posters})
	return nil
}

// Stop stops the notification manager
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	m.logger.Info("Notification manager stopped")
	return nil
}

// IsHealthy returns whether the notification manager is healthy
func (m *Manager) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Post shows n on every poster. All posters are attempted and the first
// error is returned. n stays active while at least one poster shows it.
func (m *Manager) Post(ctx context.Context, n *Notification) error {
	start := time.Now()
	var firstErr error
	shown := 0
	for _, p := range m.posters {
		err := m.timed(p.Name(), "post", func() error { return p.Post(ctx, n) })
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		shown++
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(start, firstErr)
	if shown > 0 {
		m.stats.TotalPosted++
		m.active[n.ID] = n
	}
	return firstErr
}

// Cancel removes notification id on every poster
func (m *Manager) Cancel(ctx context.Context, id int) error {
	start := time.Now()
	var firstErr error
	for _, p := range m.posters {
		err := m.timed(p.Name(), "cancel", func() error { return p.Cancel(ctx, id) })
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(start, firstErr)
	if _, ok := m.active[id]; ok {
		m.stats.TotalCancelled++
		delete(m.active, id)
	}
	return firstErr
}

// Active returns the notifications currently shown, ordered by id
func (m *Manager) Active() []*Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Notification, 0, len(m.active))
	for _, n := range m.active {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) timed(poster, operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	if m.metricsManager != nil {
		prom := m.metricsManager.GetPrometheusMetrics()
		if err != nil {
			prom.RecordNotificationFailure(poster, operation)
		} else {
			prom.RecordNotificationSent(poster, operation, time.Since(start))
		}
	}
	if err != nil {
		m.logger.Error("Poster failed", map[string]interface{}{
			"poster":    poster,
			"operation": operation,
			"error":     err.Error(),
		})
	}
	return err
}

// record updates statistics, caller holds the lock
func (m *Manager) record(startTime time.Time, err error) {
	if err != nil {
		m.stats.TotalFailed++
		errorStr := err.Error()
		m.stats.LastError = &errorStr
		now := time.Now()
		m.stats.LastErrorTime = &now
	}

	responseTime := time.Since(startTime)
	if m.stats.AverageResponseTime == 0 {
		m.stats.AverageResponseTime = responseTime
	} else {
		m.stats.AverageResponseTime = (m.stats.AverageResponseTime + responseTime) / 2
	}
}

// GetStats returns notification statistics
func (m *Manager) GetStats() NotificationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := *m.stats
	stats.ActiveNotifications = len(m.active)
	return stats
}

func (m *Manager) GetHealth() *NotificationHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	health := &NotificationHealth{
		Healthy: m.running,
	}
	if m.stats.LastError != nil {
		health.Error = *m.stats.LastError
	}
	return health
}

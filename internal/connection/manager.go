package connection

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/glucodata-handler/internal/config"
	"github.com/smartdevs17/glucodata-handler/internal/metrics"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// Manager defines the connection manager interface
type Manager interface {
	Connect(ctx context.Context) (*nats.Conn, error)
	Conn() *nats.Conn
	HealthCheck() error
	IsConnected() bool
	Close() error
	Stats() ConnectionStats
}

// ConnectionManager owns the NATS connection shared by the relay transport
// and the broadcast intake.
type ConnectionManager struct {
	config         config.NATSConfig
	urls           []string
	currentIndex   int
	conn           *nats.Conn
	mu             sync.RWMutex
	logger         *logrus.Logger
	stats          ConnectionStats
	metricsManager *metrics.Manager
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	ConnectAttempts uint64    `json:"connect_attempts"`
	FailedAttempts  uint64    `json:"failed_attempts"`
	Reconnects      uint64    `json:"reconnects"`
	Disconnects     uint64    `json:"disconnects"`
	CurrentURL      string    `json:"current_url"`
	LastConnectedAt time.Time `json:"last_connected_at"`
	LastHealthCheck time.Time `json:"last_health_check"`
	IsHealthy       bool      `json:"is_healthy"`
	InMsgs          uint64    `json:"in_msgs"`
	OutMsgs         uint64    `json:"out_msgs"`
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(cfg config.NATSConfig, metricsManager *metrics.Manager) *ConnectionManager {
	urls := []string{cfg.URL}
	urls = append(urls, cfg.BackupURLs...)

	return &ConnectionManager{
		config:         cfg,
		urls:           urls,
		logger:         utils.GetLogger(),
		metricsManager: metricsManager,
		stats: ConnectionStats{
			CurrentURL: cfg.URL,
		},
	}
}

// Conn returns the current connection, nil before Connect succeeded
func (cm *ConnectionManager) Conn() *nats.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn
}

// Connect dials the configured servers in turn until one accepts. Later
// reconnects are handled by the client library.
func (cm *ConnectionManager) Connect(ctx context.Context) (*nats.Conn, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.conn != nil && !cm.conn.IsClosed() {
		return cm.conn, nil
	}

	attempts := cm.config.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	urls := cm.getAllURLs()

	for attempt := 0; attempt < attempts; attempt++ {
		for i, url := range urls {
			cm.stats.ConnectAttempts++
			cm.logger.WithFields(logrus.Fields{"url": url, "attempt": attempt + 1}).Info("Attempting NATS connection")

			nc, err := nats.Connect(url, cm.options()...)
			if err != nil {
				cm.stats.FailedAttempts++
				cm.logger.WithError(err).WithField("url", url).Warn("NATS connection failed")
				continue
			}

			cm.conn = nc
			cm.currentIndex = (cm.currentIndex + i) % len(cm.urls)
			cm.stats.CurrentURL = url
			cm.stats.LastConnectedAt = time.Now()
			cm.stats.IsHealthy = true

			cm.logger.WithField("url", url).Info("Connected to NATS")
			cm.updateHealth(true)
			return nc, nil
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cm.retryDelay()):
			}
		}
	}

	cm.updateHealth(false)
	return nil, utils.NewAppError(utils.ErrCodeConnection, "Failed to connect to any NATS server",
		"All connection attempts exhausted")
}

func (cm *ConnectionManager) options() []nats.Option {
	opts := []nats.Option{
		nats.Name("glucodata-handler"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			cm.mu.Lock()
			cm.stats.Disconnects++
			cm.stats.IsHealthy = false
			cm.mu.Unlock()
			cm.updateHealth(false)
			if err != nil {
				cm.logger.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			cm.mu.Lock()
			cm.stats.Reconnects++
			cm.stats.IsHealthy = true
			cm.stats.CurrentURL = nc.ConnectedUrl()
			cm.mu.Unlock()
			cm.updateHealth(true)
			cm.logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			cm.logger.Info("NATS connection closed")
		}),
	}
	if cm.config.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(cm.config.ConnectTimeout))
	}
	if cm.config.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cm.config.ReconnectWait))
	}
	if cm.config.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cm.config.MaxReconnects))
	}
	return opts
}

func (cm *ConnectionManager) retryDelay() time.Duration {
	if cm.config.ReconnectWait > 0 {
		return cm.config.ReconnectWait
	}
	return 2 * time.Second
}

// HealthCheck verifies the server answers a round trip
func (cm *ConnectionManager) HealthCheck() error {
	nc := cm.Conn()
	if nc == nil || !nc.IsConnected() {
		cm.setHealthy(false)
		return utils.NewAppError(utils.ErrCodeConnection, "NATS not connected", "")
	}

	if err := nc.FlushTimeout(5 * time.Second); err != nil {
		cm.setHealthy(false)
		return utils.WrapError(utils.ErrCodeConnection, "NATS flush failed", err)
	}

	cm.setHealthy(true)
	return nil
}

func (cm *ConnectionManager) setHealthy(healthy bool) {
	cm.mu.Lock()
	cm.stats.IsHealthy = healthy
	cm.stats.LastHealthCheck = time.Now()
	cm.mu.Unlock()
	cm.updateHealth(healthy)
}

func (cm *ConnectionManager) updateHealth(healthy bool) {
	if cm.metricsManager != nil {
		cm.metricsManager.GetPrometheusMetrics().UpdateComponentHealth("nats", healthy)
	}
}

// IsConnected returns whether the manager is connected
func (cm *ConnectionManager) IsConnected() bool {
	nc := cm.Conn()
	return nc != nil && nc.IsConnected()
}

// Close drains and closes the connection
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var err error
	if cm.conn != nil {
		err = cm.conn.Drain()
		cm.conn = nil
	}

	cm.stats.IsHealthy = false
	cm.logger.Info("Connection manager closed")
	return err
}

// Stats returns connection statistics
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := cm.stats
	if cm.conn != nil {
		s := cm.conn.Stats()
		stats.InMsgs = s.InMsgs
		stats.OutMsgs = s.OutMsgs
	}
	return stats
}

// getAllURLs returns all available URLs starting from current index
func (cm *ConnectionManager) getAllURLs() []string {
	urls := cm.urls

	// Start from the last good server
	if cm.currentIndex > 0 && cm.currentIndex < len(urls) {
		rotated := make([]string, len(urls))
		copy(rotated, urls[cm.currentIndex:])
		copy(rotated[len(urls)-cm.currentIndex:], urls[:cm.currentIndex])
		return rotated
	}

	return urls
}

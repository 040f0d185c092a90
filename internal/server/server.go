// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/glucodata-handler/internal/alarm"
	"github.com/smartdevs17/glucodata-handler/internal/config"
	"github.com/smartdevs17/glucodata-handler/internal/metrics"
	"github.com/smartdevs17/glucodata-handler/internal/monitor"
	"github.com/smartdevs17/glucodata-handler/internal/notification"
	"github.com/smartdevs17/glucodata-handler/internal/preferences"
	"github.com/smartdevs17/glucodata-handler/internal/processor"
	"github.com/smartdevs17/glucodata-handler/internal/relay"
	"github.com/smartdevs17/glucodata-handler/internal/storage"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// Dependencies are the components served over HTTP. Any of them may be nil;
// their routes then answer 503.
type Dependencies struct {
	Storage      storage.Storage
	Processor    *processor.BroadcastProcessor
	Dispatcher   *alarm.Dispatcher
	Preferences  *preferences.Store
	Notification *notification.Manager
	Relay        *relay.Relay
	Hub          *relay.Hub
	Monitor      *monitor.ReadingMonitor
	Metrics      *metrics.Manager
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         config.ServerConfig
	version        string
	server         *http.Server
	router         *mux.Router
	logger         *logrus.Entry
	metricsManager *metrics.Manager

	storage      storage.Storage
	processor    *processor.BroadcastProcessor
	dispatcher   *alarm.Dispatcher
	preferences  *preferences.Store
	notification *notification.Manager
	relay        *relay.Relay
	hub          *relay.Hub
	monitor      *monitor.ReadingMonitor

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg config.ServerConfig, deps Dependencies, version string) (*HTTPServer, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid server port", fmt.Sprint(cfg.Port))
	}

	s := &HTTPServer{
		config:         cfg,
		version:        version,
		logger:         utils.GetLogger().WithField("component", "http"),
		metricsManager: deps.Metrics,
		storage:        deps.Storage,
		processor:      deps.Processor,
		dispatcher:     deps.Dispatcher,
		preferences:    deps.Preferences,
		notification:   deps.Notification,
		relay:          deps.Relay,
		hub:            deps.Hub,
		monitor:        deps.Monitor,
		stopChan:       make(chan struct{}),
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the router, used by tests
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler())
	}
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")

	// Intake
	api.HandleFunc("/broadcast", s.broadcastHandler).Methods("POST")

	// Readings
	api.HandleFunc("/readings", s.listReadingsHandler).Methods("GET")
	api.HandleFunc("/readings/latest", s.latestReadingHandler).Methods("GET")
	api.HandleFunc("/readings/{id}", s.getReadingHandler).Methods("GET")

	// Alarm notifications
	api.HandleFunc("/alarm/status", s.alarmStatusHandler).Methods("GET")
	api.HandleFunc("/alarm/enabled", s.alarmEnabledHandler).Methods("PUT")
	api.HandleFunc("/alarm/test/{type}", s.alarmTestHandler).Methods("POST")
	api.HandleFunc("/alarm/stop", s.alarmStopHandler).Methods("POST")
	api.HandleFunc("/alarm/stop-all", s.alarmStopAllHandler).Methods("POST")
	api.HandleFunc("/alarm/snooze", s.snoozeHandler).Methods("POST")
	api.HandleFunc("/alarm/snooze", s.clearSnoozeHandler).Methods("DELETE")
	api.HandleFunc("/alarm/mapping", s.alarmMappingHandler).Methods("GET")
	api.HandleFunc("/alarm/history", s.alarmHistoryHandler).Methods("GET")
	api.HandleFunc("/notifications/active", s.activeNotificationsHandler).Methods("GET")

	// Preferences
	api.HandleFunc("/preferences", s.listPreferencesHandler).Methods("GET")
	api.HandleFunc("/preferences/{key}", s.setPreferenceHandler).Methods("PUT")

	// Wearables
	api.HandleFunc("/endpoints", s.endpointsHandler).Methods("GET")
	if s.hub != nil {
		api.Handle("/ws", s.hub).Methods("GET")
	}

	// Monitor
	api.HandleFunc("/monitor/status", s.monitorStatusHandler).Methods("GET")
	api.HandleFunc("/monitor/check", s.monitorCheckHandler).Methods("POST")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	// Immediately update system and component metrics so they appear on first scrape
	if s.metricsManager != nil {
		s.updateComponentMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateComponentMetrics()
		case <-s.stopChan:
			return
		}
	}
}

func (s *HTTPServer) updateComponentMetrics() {
	s.metricsManager.UpdateSystemMetrics()
	pm := s.metricsManager.GetPrometheusMetrics()

	if s.storage != nil {
		pm.UpdateComponentHealth("storage", s.storage.GetHealth().Healthy)
	}
	if s.monitor != nil {
		pm.UpdateComponentHealth("monitor", s.monitor.GetHealth().Healthy)
	}
	if s.processor != nil {
		pm.UpdateComponentHealth("processor", s.processor.GetHealth().Healthy)
	}
	if s.notification != nil {
		pm.UpdateComponentHealth("notification", s.notification.GetHealth().Healthy)
	}
	if s.dispatcher != nil {
		st := s.dispatcher.Status()
		var until time.Time
		if st.SnoozedUntil != nil {
			until = *st.SnoozedUntil
		}
		pm.UpdateAlarmState(st.Enabled, until)
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")
	s.stopOnce.Do(func() { close(s.stopChan) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         s.version,
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// detailedHealthHandler returns detailed health status
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{}
	healthy := true

	if s.storage != nil {
		h := s.storage.GetHealth()
		components["storage"] = h
		healthy = healthy && h.Healthy
	}
	if s.processor != nil {
		h := s.processor.GetHealth()
		components["processor"] = h
		healthy = healthy && h.Healthy
	}
	if s.notification != nil {
		h := s.notification.GetHealth()
		components["notification"] = h
		healthy = healthy && h.Healthy
	}
	if s.monitor != nil {
		h := s.monitor.GetHealth()
		components["monitor"] = h
		healthy = healthy && h.Healthy
	}
	if s.dispatcher != nil {
		components["alarm"] = s.dispatcher.Status()
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now(),
		"version":    s.version,
		"components": components,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"timestamp":       time.Now(),
		"metrics_enabled": s.config.EnableMetrics,
	}

	if s.storage != nil {
		storageStats, err := s.storage.GetStats()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
			return
		}
		stats["storage"] = storageStats
	}
	if s.processor != nil {
		stats["processor"] = s.processor.GetStats()
	}
	if s.notification != nil {
		stats["notification"] = s.notification.GetStats()
	}
	if s.relay != nil {
		stats["relay"] = s.relay.GetStats()
	}
	if s.monitor != nil {
		stats["monitor"] = s.monitor.GetStats()
	}
	if s.dispatcher != nil {
		stats["alarm"] = s.dispatcher.Status()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Utility Methods

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		entry := s.logger.WithError(err).WithField("status", status)
		if status >= http.StatusInternalServerError {
			entry.Error(message)
		} else {
			entry.Debug(message)
		}
	}

	s.writeJSON(w, status, errorResponse)
}

func (s *HTTPServer) unavailable(w http.ResponseWriter, component string) {
	s.writeError(w, http.StatusServiceUnavailable, component+" is not available", nil)
}

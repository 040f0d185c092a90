package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the glucodata handler
type PrometheusMetrics struct {
	// Broadcast intake metrics
	BroadcastsReceivedTotal *prometheus.CounterVec
	ReadingProcessingTime   prometheus.Histogram
	LatestGlucose           prometheus.Gauge
	LatestReadingTimestamp  prometheus.Gauge

	// Alarm metrics
	AlarmsTriggeredTotal *prometheus.CounterVec
	AlarmsSuppressed     *prometheus.CounterVec
	AlarmEnabled         prometheus.Gauge
	AlarmSnoozed         prometheus.Gauge

	// Notification metrics
	NotificationsSentTotal    *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec
	NotificationDuration      *prometheus.HistogramVec

	// Relay metrics
	RelaySendsTotal      *prometheus.CounterVec
	RelaySendDuration    *prometheus.HistogramVec
	RelayEndpointsActive prometheus.Gauge

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them on reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		// Broadcast intake metrics
		BroadcastsReceivedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdh_broadcasts_received_total",
				Help: "Total number of glucose broadcasts received",
			},
			[]string{"status"},
		),

		ReadingProcessingTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gdh_reading_processing_duration_seconds",
				Help:    "Time spent processing a received reading",
				Buckets: prometheus.DefBuckets,
			},
		),

		LatestGlucose: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gdh_latest_glucose_mgdl",
				Help: "Latest received glucose value in mg/dL",
			},
		),

		LatestReadingTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gdh_latest_reading_timestamp_seconds",
				Help: "Unix timestamp of the latest received reading",
			},
		),

		// Alarm metrics
		AlarmsTriggeredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdh_alarms_triggered_total",
				Help: "Total number of alarm notifications triggered",
			},
			[]string{"alarm_type", "test"},
		),

		AlarmsSuppressed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdh_alarms_suppressed_total",
				Help: "Total number of alarm triggers suppressed",
			},
			[]string{"alarm_type", "reason"},
		),

		AlarmEnabled: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gdh_alarm_notifications_enabled",
				Help: "Whether alarm notifications are enabled (1) or not (0)",
			},
		),

		AlarmSnoozed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gdh_alarm_snoozed_until_timestamp_seconds",
				Help: "Unix timestamp until which alarms are snoozed, 0 if not snoozed",
			},
		),

		// Notification metrics
		NotificationsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdh_notifications_sent_total",
				Help: "Total number of notification operations delivered",
			},
			[]string{"poster", "operation"},
		),

		NotificationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdh_notification_failures_total",
				Help: "Total number of failed notification operations",
			},
			[]string{"poster", "operation"},
		),

		NotificationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gdh_notification_duration_seconds",
				Help:    "Duration of notification operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"poster", "operation"},
		),

		// Relay metrics
		RelaySendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdh_relay_sends_total",
				Help: "Total number of relay send attempts per transport",
			},
			[]string{"transport", "status"},
		),

		RelaySendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gdh_relay_send_duration_seconds",
				Help:    "Duration of relay sends to wearable endpoints",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transport"},
		),

		RelayEndpointsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gdh_relay_endpoints_reachable",
				Help: "Number of reachable endpoints at the last relay",
			},
		),

		// Storage metrics
		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdh_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gdh_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		// API metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdh_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gdh_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Application health metrics
		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gdh_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gdh_component_health",
				Help: "Health status of application components (1 = healthy, 0 = unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gdh_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gdh_goroutines",
				Help: "Number of active goroutines",
			},
		),
	}
}

// Helper methods for recording metrics

// RecordBroadcast records a received broadcast with its outcome
func (m *PrometheusMetrics) RecordBroadcast(status string) {
	m.BroadcastsReceivedTotal.WithLabelValues(status).Inc()
}

// RecordReading records a processed reading
func (m *PrometheusMetrics) RecordReading(value float64, at time.Time, duration time.Duration) {
	m.LatestGlucose.Set(value)
	m.LatestReadingTimestamp.Set(float64(at.Unix()))
	m.ReadingProcessingTime.Observe(duration.Seconds())
}

// RecordAlarmTriggered records an alarm notification post
func (m *PrometheusMetrics) RecordAlarmTriggered(alarmType string, forTest bool) {
	test := "false"
	if forTest {
		test = "true"
	}
	m.AlarmsTriggeredTotal.WithLabelValues(alarmType, test).Inc()
}

// RecordAlarmSuppressed records a trigger that did not produce a notification
func (m *PrometheusMetrics) RecordAlarmSuppressed(alarmType, reason string) {
	m.AlarmsSuppressed.WithLabelValues(alarmType, reason).Inc()
}

// UpdateAlarmState updates the alarm enabled and snooze gauges
func (m *PrometheusMetrics) UpdateAlarmState(enabled bool, snoozedUntil time.Time) {
	if enabled {
		m.AlarmEnabled.Set(1)
	} else {
		m.AlarmEnabled.Set(0)
	}
	if snoozedUntil.IsZero() {
		m.AlarmSnoozed.Set(0)
	} else {
		m.AlarmSnoozed.Set(float64(snoozedUntil.Unix()))
	}
}

// RecordNotificationSent records a successful notification operation
func (m *PrometheusMetrics) RecordNotificationSent(poster, operation string, duration time.Duration) {
	m.NotificationsSentTotal.WithLabelValues(poster, operation).Inc()
	m.NotificationDuration.WithLabelValues(poster, operation).Observe(duration.Seconds())
}

// RecordNotificationFailure records a failed notification operation
func (m *PrometheusMetrics) RecordNotificationFailure(poster, operation string) {
	m.NotificationFailuresTotal.WithLabelValues(poster, operation).Inc()
}

// RecordRelaySend records one relay send attempt
func (m *PrometheusMetrics) RecordRelaySend(transport string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RelaySendsTotal.WithLabelValues(transport, status).Inc()
	m.RelaySendDuration.WithLabelValues(transport).Observe(duration.Seconds())
}

// UpdateRelayEndpoints records how many endpoints were reachable
func (m *PrometheusMetrics) UpdateRelayEndpoints(count int) {
	m.RelayEndpointsActive.Set(float64(count))
}

// RecordDatabaseOperation records database operation metrics
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records HTTP request metrics
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates application uptime
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates component health status
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates memory usage
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates goroutine count
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}

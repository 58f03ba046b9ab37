// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Lifecycle metrics
	TransitionRequests *prometheus.CounterVec
	TransitionLatency  *prometheus.HistogramVec
	TradesOpened       *prometheus.CounterVec

	// Realtime metrics
	FeedNotifications *prometheus.CounterVec
	FeedReconnects    prometheus.Counter
	LiveSubscribers   prometheus.Gauge

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Audit metrics
	AuditWriteErrors prometheus.Counter
}

// NewMetrics creates a new Metrics instance registered with reg. A nil reg
// uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "confianza"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TransitionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transition_requests_total",
			Help:      "Total number of status transition requests by from/to status and outcome",
		}, []string{"from", "to", "outcome"}),
		TransitionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transition_duration_seconds",
			Help:      "Status transition execution latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		TradesOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "trades_opened_total",
			Help:      "Total number of trade opening requests by result",
		}, []string{"result"}),

		FeedNotifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "feed_notifications_total",
			Help:      "Total number of change feed notifications by result",
		}, []string{"result"}),
		FeedReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "feed_reconnects_total",
			Help:      "Total number of change feed reconnects",
		}),
		LiveSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "live_subscribers",
			Help:      "Current number of websocket trade subscribers",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests by route and status code",
		}, []string{"route", "code"}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		AuditWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_errors_total",
			Help:      "Total number of transition events that could not be stored",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordTransition records the outcome of a status transition request.
func RecordTransition(from, to, outcome string, seconds float64) {
	DefaultMetrics.TransitionRequests.WithLabelValues(from, to, outcome).Inc()
	DefaultMetrics.TransitionLatency.WithLabelValues(outcome).Observe(seconds)
}

// RecordTradeOpened records a trade opening request.
func RecordTradeOpened(result string) {
	DefaultMetrics.TradesOpened.WithLabelValues(result).Inc()
}

// RecordFeedNotification records a change feed notification.
func RecordFeedNotification(result string) {
	DefaultMetrics.FeedNotifications.WithLabelValues(result).Inc()
}

// RecordFeedReconnect increments the change feed reconnect counter.
func RecordFeedReconnect() {
	DefaultMetrics.FeedReconnects.Inc()
}

// LiveSubscriberAdded increments the live subscriber gauge.
func LiveSubscriberAdded() {
	DefaultMetrics.LiveSubscribers.Inc()
}

// LiveSubscriberRemoved decrements the live subscriber gauge.
func LiveSubscriberRemoved() {
	DefaultMetrics.LiveSubscribers.Dec()
}

// RecordHTTPRequest records an API response.
func RecordHTTPRequest(route string, code int) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordAuditWriteError increments the audit write error counter.
func RecordAuditWriteError() {
	DefaultMetrics.AuditWriteErrors.Inc()
}

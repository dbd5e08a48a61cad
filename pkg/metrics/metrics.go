// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WSConnectionsActive tracks open client connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of open WebSocket connections",
		},
	)

	// PresenceEntries tracks identities currently registered as reachable.
	PresenceEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_entries",
			Help: "Number of identities with a live connection",
		},
	)

	// PresenceDisplaced counts joins that replaced an existing session.
	PresenceDisplaced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_displaced_total",
			Help: "Joins that displaced a previous session for the same identity",
		},
	)

	// MessagesTotal tracks chat messages by outcome (accepted, rejected, failed).
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Chat messages handled, by outcome",
		},
		[]string{"outcome"},
	)

	// StatusTransitions tracks applied delivery status transitions.
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_status_transitions_total",
			Help: "Applied message status transitions, by target status",
		},
		[]string{"status"},
	)

	// Notifications tracks notification dispatcher decisions.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_notifications_total",
			Help: "Notification decisions (fired, suppressed, dropped)",
		},
		[]string{"decision"},
	)

	// PushesDropped counts frames that could not be queued for a connection.
	PushesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_pushes_dropped_total",
			Help: "Frames dropped because the connection queue was full or closed",
		},
		[]string{"event"},
	)

	// HistoryRequests tracks history reads.
	HistoryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_history_requests_total",
			Help: "Conversation history requests, by transport",
		},
		[]string{"transport"},
	)

	// StoreDuration tracks message store operation latency.
	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_store_duration_seconds",
			Help:    "Message store operation duration",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op"},
	)

	// JournalPublishFailures counts event journal publish errors.
	JournalPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_journal_publish_failures_total",
			Help: "Event journal publish failures",
		},
		[]string{"kind"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// IncrementWSConnections increments the open connection count.
func IncrementWSConnections() {
	WSConnectionsActive.Inc()
}

// DecrementWSConnections decrements the open connection count.
func DecrementWSConnections() {
	WSConnectionsActive.Dec()
}

// RecordStoreOp records the duration of a store operation.
func RecordStoreOp(op string, seconds float64) {
	StoreDuration.WithLabelValues(op).Observe(seconds)
}

// Package metrics provides Prometheus instrumentation for the bridge. It
// exposes gauges for the session state machine and dashboard connections,
// counters for event fan-out, and a histogram for adapter command latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionState is a one-hot gauge over the session state machine:
	// exactly one label ("idle", "connecting", "awaiting_auth", "ready",
	// "disconnected") carries the value 1 at any time.
	SessionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wabridge_session_state",
		Help: "Current session state (one-hot across state labels)",
	}, []string{"state"})

	// DashboardClients tracks the number of attached dashboard WebSocket
	// connections.
	DashboardClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wabridge_dashboard_clients",
		Help: "Current number of connected dashboard clients",
	})

	// EventsPublished counts normalized events published to the broadcaster,
	// labeled by event type.
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wabridge_events_published_total",
		Help: "Total normalized events published",
	}, []string{"type"})

	// EventsDropped counts events dropped because a subscriber's queue was
	// full (slow or dead dashboard client).
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wabridge_events_dropped_total",
		Help: "Total events dropped due to full subscriber queues",
	})

	// MessagesSent counts outbound WhatsApp messages accepted by the adapter.
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wabridge_messages_sent_total",
		Help: "Total WhatsApp messages sent via the bridge",
	})

	// AdapterCommandDuration records round-trip latency of runner commands.
	AdapterCommandDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wabridge_adapter_command_seconds",
		Help:    "WhatsApp runner command round-trip latency in seconds",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	// ReconnectAttempts counts client transport reconnect attempts.
	ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wabridge_reconnect_attempts_total",
		Help: "Total dashboard transport reconnect attempts",
	})
)

func init() {
	prometheus.MustRegister(
		SessionState,
		DashboardClients,
		EventsPublished,
		EventsDropped,
		MessagesSent,
		AdapterCommandDuration,
		ReconnectAttempts,
	)
}

// SetSessionState flips the one-hot session state gauge to the given state.
func SetSessionState(state string) {
	for _, s := range []string{"idle", "connecting", "awaiting_auth", "ready", "disconnected"} {
		v := 0.0
		if s == state {
			v = 1
		}
		SessionState.WithLabelValues(s).Set(v)
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

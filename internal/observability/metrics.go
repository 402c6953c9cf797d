package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the counters and gauges the server exposes on /metrics.
type Metrics struct {
	// ActiveSessions tracks live backend sessions by creating app.
	// Labels: app (chat|slack|voice|"")
	ActiveSessions *prometheus.GaugeVec

	// EventsEnqueued counts wire messages pushed onto event queues.
	// Labels: type
	EventsEnqueued *prometheus.CounterVec

	// EventsDropped counts wire messages dropped because a queue was full.
	// Labels: type
	EventsDropped *prometheus.CounterVec

	// Reconnects counts session reconnect attempts by outcome.
	// Labels: outcome (success|failure)
	Reconnects *prometheus.CounterVec

	// Approvals counts approval resolutions by choice.
	// Labels: choice
	Approvals *prometheus.CounterVec

	// MessagesProcessed counts runtime calls completed by the session
	// workers. Labels: status (success|error|cancelled)
	MessagesProcessed *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics set on a private registry so tests can hold
// several instances without duplicate-registration panics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		ActiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "switchboard_active_sessions",
			Help: "Current number of live backend sessions.",
		}, []string{"app"}),
		EventsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_events_enqueued_total",
			Help: "Wire messages pushed onto event queues.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_events_dropped_total",
			Help: "Wire messages dropped because the event queue was full.",
		}, []string{"type"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_session_reconnects_total",
			Help: "Session reconnect attempts by outcome.",
		}, []string{"outcome"}),
		Approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_approvals_total",
			Help: "Approval gate resolutions by choice.",
		}, []string{"choice"}),
		MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_messages_processed_total",
			Help: "Runtime calls completed by session workers.",
		}, []string{"status"}),
		registry: registry,
	}
	registry.MustRegister(
		m.ActiveSessions,
		m.EventsEnqueued,
		m.EventsDropped,
		m.Reconnects,
		m.Approvals,
		m.MessagesProcessed,
	)
	return m
}

// Registry returns the prometheus registry backing this metrics set.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Package metrics exposes chat server activity to Prometheus.
//
// Everything is registered on a private registry, not the global default one,
// so tests can build as many Metrics values as they like without
// "duplicate metrics collector registration" panics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat"

// Write outcomes used as the "outcome" label of chat_writes_total.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected" // validation / auth / not found
	OutcomeFailed   = "failed"   // storage error
)

// Metrics implements live.Metrics and records write-path outcomes.
type Metrics struct {
	registry *prometheus.Registry

	subscriptions *prometheus.GaugeVec
	recomputes    *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	suppressed    *prometheus.CounterVec
	writes        *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "subscriptions",
			Help:      "Number of open live subscriptions.",
		}, []string{"query"}),
		recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "recomputes_total",
			Help:      "Live query re-runs triggered by writes.",
		}, []string{"query"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "deliveries_total",
			Help:      "Results delivered to subscribers.",
		}, []string{"query"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "suppressed_total",
			Help:      "Recomputed results dropped because they equal the last delivered one.",
		}, []string{"query"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Write operations by operation and outcome.",
		}, []string{"op", "outcome"}),
	}

	m.registry.MustRegister(
		m.subscriptions,
		m.recomputes,
		m.deliveries,
		m.suppressed,
		m.writes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) SubscriptionOpened(query string) { m.subscriptions.WithLabelValues(query).Inc() }
func (m *Metrics) SubscriptionClosed(query string) { m.subscriptions.WithLabelValues(query).Dec() }
func (m *Metrics) Recomputed(query string)         { m.recomputes.WithLabelValues(query).Inc() }
func (m *Metrics) Delivered(query string)          { m.deliveries.WithLabelValues(query).Inc() }
func (m *Metrics) Suppressed(query string)         { m.suppressed.WithLabelValues(query).Inc() }

// Write counts one write operation.
func (m *Metrics) Write(op, outcome string) {
	m.writes.WithLabelValues(op, outcome).Inc()
}

// Registry returns the registry behind Handler, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package metrics holds the prometheus collectors exported on /metrics.
// Every method is safe to call on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of fleet collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	sessions        *prometheus.GaugeVec
	evictions       prometheus.Counter
	commands        *prometheus.CounterVec
	commandsPending prometheus.Gauge
	leaseClaimed    *prometheus.CounterVec
	leaseReleased   *prometheus.CounterVec
	reclaimSweeps   prometheus.Counter
	reclaimReleased *prometheus.CounterVec
	reclaimFailures prometheus.Counter
	protocolErrors  prometheus.Counter
	pricesInserted  *prometheus.CounterVec
	httpRateLimited prometheus.Counter
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scanfleet_sessions",
			Help: "Open control-channel sessions by role.",
		}, []string{"role"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanfleet_session_evictions_total",
			Help: "Sessions evicted after a missed heartbeat.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanfleet_commands_total",
			Help: "Commands sent to scanners by outcome.",
		}, []string{"outcome"}),
		commandsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanfleet_commands_pending",
			Help: "Commands waiting for a response.",
		}),
		leaseClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanfleet_lease_items_claimed_total",
			Help: "Work items returned by claims, by domain.",
		}, []string{"domain"}),
		leaseReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanfleet_lease_items_released_total",
			Help: "Work items released by scanners, by domain.",
		}, []string{"domain"}),
		reclaimSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanfleet_reclaim_sweeps_total",
			Help: "Stale-lease sweeps run.",
		}),
		reclaimReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanfleet_reclaim_items_released_total",
			Help: "Work items force-released by the reclaimer, by domain.",
		}, []string{"domain"}),
		reclaimFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanfleet_reclaim_failures_total",
			Help: "Per-scanner reclaim failures.",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanfleet_protocol_errors_total",
			Help: "Connections closed for protocol violations.",
		}),
		pricesInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanfleet_prices_inserted_total",
			Help: "Prices stored, by kind.",
		}, []string{"kind"}),
		httpRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanfleet_http_rate_limited_total",
			Help: "Scanner API requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessions, m.evictions, m.commands, m.commandsPending,
		m.leaseClaimed, m.leaseReleased,
		m.reclaimSweeps, m.reclaimReleased, m.reclaimFailures,
		m.protocolErrors, m.pricesInserted, m.httpRateLimited,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionOpened(role string) {
	if m != nil {
		m.sessions.WithLabelValues(role).Inc()
	}
}

func (m *Metrics) SessionClosed(role string) {
	if m != nil {
		m.sessions.WithLabelValues(role).Dec()
	}
}

func (m *Metrics) SessionEvicted() {
	if m != nil {
		m.evictions.Inc()
	}
}

// CommandDone records a command outcome: ok, timeout, not_found or error.
func (m *Metrics) CommandDone(outcome string) {
	if m != nil {
		m.commands.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetCommandsPending(n int) {
	if m != nil {
		m.commandsPending.Set(float64(n))
	}
}

func (m *Metrics) ItemsClaimed(domain string, n int) {
	if m != nil {
		m.leaseClaimed.WithLabelValues(domain).Add(float64(n))
	}
}

func (m *Metrics) ItemsReleased(domain string, n int64) {
	if m != nil {
		m.leaseReleased.WithLabelValues(domain).Add(float64(n))
	}
}

func (m *Metrics) ReclaimSwept() {
	if m != nil {
		m.reclaimSweeps.Inc()
	}
}

func (m *Metrics) ReclaimReleased(domain string, n int64) {
	if m != nil {
		m.reclaimReleased.WithLabelValues(domain).Add(float64(n))
	}
}

func (m *Metrics) ReclaimFailed() {
	if m != nil {
		m.reclaimFailures.Inc()
	}
}

func (m *Metrics) ProtocolError() {
	if m != nil {
		m.protocolErrors.Inc()
	}
}

func (m *Metrics) PricesInserted(kind string, n int) {
	if m != nil {
		m.pricesInserted.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.httpRateLimited.Inc()
	}
}

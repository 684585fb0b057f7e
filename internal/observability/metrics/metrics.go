// Package metrics holds the bot's Prometheus collectors.
//
// All methods are nil-safe so components can be constructed without metrics
// in tests and minimal setups.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scuttlebot"

type Metrics struct {
	reg *prometheus.Registry

	queries    *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	broadcasts *prometheus.CounterVec
	gateway    *prometheus.HistogramVec
	commands   *prometheus.CounterVec
}

// New registers all collectors (plus Go/process collectors) on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arena_queries_total",
			Help:      "Arena stats/rankings queries by terminal outcome.",
		}, []string{"kind", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Per-target broadcast delivery results.",
		}, []string{"result"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_runs_total",
			Help:      "Broadcast invocations by outcome.",
		}, []string{"outcome"}),
		gateway: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of stats backend requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Handled chat commands.",
		}, []string{"cmd", "result"}),
	}
	reg.MustRegister(
		m.queries, m.deliveries, m.broadcasts, m.gateway, m.commands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) QueryFinished(kind, outcome string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Deliveries(succeeded, failed int) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues("ok").Add(float64(succeeded))
	m.deliveries.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) BroadcastFinished(outcome string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GatewayRequest(endpoint, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.gateway.WithLabelValues(endpoint, status).Observe(d.Seconds())
}

func (m *Metrics) Command(cmd, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(cmd, result).Inc()
}

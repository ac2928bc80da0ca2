// Package observability implements component J: Prometheus counters and
// histograms plus an OpenTelemetry span helper (StartSpan). Of the
// collectors, the gateway records only the request counter, from the
// server's plain-proxy handler; the others are registered and exported but
// not updated. No code path in the gateway opens spans.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the process's Prometheus collectors. Construct once at
// startup and register against a prometheus.Registerer (usually the
// default registry).
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec
	UpstreamHealth   *prometheus.GaugeVec
	ToolCallsTotal   *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accesspoint_requests_total",
			Help: "Total proxied requests by route and status class.",
		}, []string{"route", "status_class"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accesspoint_upstream_latency_seconds",
			Help:    "Upstream round-trip latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream"}),
		UpstreamHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "accesspoint_upstream_node_healthy",
			Help: "1 if the node is currently healthy, else 0.",
		}, []string{"upstream", "node"}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accesspoint_mcp_tool_calls_total",
			Help: "Total MCP tools/call invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "accesspoint_mcp_sessions_active",
			Help: "Current number of live MCP sessions.",
		}),
	}
	reg.MustRegister(m.RequestsTotal, m.UpstreamLatency, m.UpstreamHealth, m.ToolCallsTotal, m.SessionsActive)
	return m
}

func (m *Metrics) ObserveRequest(route, statusClass string) {
	m.RequestsTotal.WithLabelValues(route, statusClass).Inc()
}

func (m *Metrics) ObserveUpstreamLatency(upstream string, d time.Duration) {
	m.UpstreamLatency.WithLabelValues(upstream).Observe(d.Seconds())
}

func (m *Metrics) SetNodeHealth(upstream, node string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.UpstreamHealth.WithLabelValues(upstream, node).Set(v)
}

func (m *Metrics) ObserveToolCall(tool, outcome string) {
	m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

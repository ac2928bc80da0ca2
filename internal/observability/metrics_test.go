package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveRequestIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveRequest("r1", "2xx")
	m.ObserveRequest("r1", "2xx")

	metric := &dto.Metric{}
	require.NoError(t, m.RequestsTotal.WithLabelValues("r1", "2xx").Write(metric))
	assert.Equal(t, float64(2), metric.GetCounter().GetValue())
}

func TestMetrics_UpstreamLatencyRecordsObservation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveUpstreamLatency("up1", 150*time.Millisecond)

	metric := &dto.Metric{}
	require.NoError(t, m.UpstreamLatency.WithLabelValues("up1").(prometheus.Histogram).Write(metric))
	assert.Equal(t, uint64(1), metric.GetHistogram().GetSampleCount())
}

func TestMetrics_NodeHealthGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SetNodeHealth("up1", "a:80", true)
	metric := &dto.Metric{}
	require.NoError(t, m.UpstreamHealth.WithLabelValues("up1", "a:80").Write(metric))
	assert.Equal(t, float64(1), metric.GetGauge().GetValue())

	m.SetNodeHealth("up1", "a:80", false)
	require.NoError(t, m.UpstreamHealth.WithLabelValues("up1", "a:80").Write(metric))
	assert.Equal(t, float64(0), metric.GetGauge().GetValue())
}

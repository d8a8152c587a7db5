package zerohack

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherFamily(t *testing.T, m *PrometheusMetricsCollector, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	t.Fatalf("metric family %q not registered", name)
	return nil
}

func TestMetricsCounter(t *testing.T) {
	m := NewPrometheusMetricsCollector()
	m.IncrementCounter("analyses_total", map[string]string{"verdict": "SAFE"})
	m.IncrementCounter("analyses_total", map[string]string{"verdict": "SAFE"})
	m.IncrementCounter("analyses_total", map[string]string{"verdict": "THREAT"})

	family := gatherFamily(t, m, "analyses_total")
	require.Len(t, family.Metric, 2)
	byVerdict := make(map[string]float64)
	for _, metric := range family.Metric {
		require.Len(t, metric.Label, 1)
		byVerdict[metric.Label[0].GetValue()] = metric.Counter.GetValue()
	}
	assert.Equal(t, 2.0, byVerdict["SAFE"])
	assert.Equal(t, 1.0, byVerdict["THREAT"])
}

func TestMetricsGaugeKeepsLatestValue(t *testing.T) {
	m := NewPrometheusMetricsCollector()
	m.SetGauge("alert_subscribers", 3, nil)
	m.SetGauge("alert_subscribers", 7, nil)

	family := gatherFamily(t, m, "alert_subscribers")
	require.Len(t, family.Metric, 1)
	assert.Equal(t, 7.0, family.Metric[0].Gauge.GetValue())
}

func TestMetricsHistogramCountsSamples(t *testing.T) {
	m := NewPrometheusMetricsCollector()
	m.ObserveHistogram("analysis_duration_seconds", 0.05, nil)
	m.ObserveHistogram("analysis_duration_seconds", 0.2, nil)

	family := gatherFamily(t, m, "analysis_duration_seconds")
	require.Len(t, family.Metric, 1)
	assert.EqualValues(t, 2, family.Metric[0].Histogram.GetSampleCount())
	assert.InDelta(t, 0.25, family.Metric[0].Histogram.GetSampleSum(), 1e-9)
}

func TestMetricsLabelOrderIsStable(t *testing.T) {
	m := NewPrometheusMetricsCollector()
	m.IncrementCounter("detector_verdicts_total", map[string]string{"verdict": "normal", "detector": "IsolationForest"})
	m.IncrementCounter("detector_verdicts_total", map[string]string{"detector": "IsolationForest", "verdict": "normal"})

	family := gatherFamily(t, m, "detector_verdicts_total")
	require.Len(t, family.Metric, 1)
	require.Len(t, family.Metric[0].Label, 2)
	// Labels are sorted by name, so map iteration order never changes arity.
	assert.Equal(t, "detector", family.Metric[0].Label[0].GetName())
	assert.Equal(t, 2.0, family.Metric[0].Counter.GetValue())
}

func TestMetricsHealthCheck(t *testing.T) {
	m := NewPrometheusMetricsCollector()
	m.IncrementCounter("analyses_total", nil)
	assert.NoError(t, m.HealthCheck())
}

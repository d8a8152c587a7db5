package zerohack

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector implements MetricsCollector on a dedicated
// registry. Metric vectors are created lazily on first use; a metric's label
// set is fixed by its first observation.
type PrometheusMetricsCollector struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

func NewPrometheusMetricsCollector() *PrometheusMetricsCollector {
	return &PrometheusMetricsCollector{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the backing registry for the metrics endpoint.
func (m *PrometheusMetricsCollector) Registry() *prometheus.Registry { return m.registry }

func (m *PrometheusMetricsCollector) IncrementCounter(name string, labels map[string]string) {
	names, values := splitLabels(labels)
	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, names)
		m.registry.MustRegister(vec)
		m.counters[name] = vec
	}
	m.mu.Unlock()
	vec.WithLabelValues(values...).Inc()
}

func (m *PrometheusMetricsCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	names, values := splitLabels(labels)
	m.mu.Lock()
	vec, ok := m.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: prometheus.DefBuckets,
		}, names)
		m.registry.MustRegister(vec)
		m.histograms[name] = vec
	}
	m.mu.Unlock()
	vec.WithLabelValues(values...).Observe(value)
}

func (m *PrometheusMetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	names, values := splitLabels(labels)
	m.mu.Lock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, names)
		m.registry.MustRegister(vec)
		m.gauges[name] = vec
	}
	m.mu.Unlock()
	vec.WithLabelValues(values...).Set(value)
}

// HealthCheck verifies the registry can gather.
func (m *PrometheusMetricsCollector) HealthCheck() error {
	_, err := m.registry.Gather()
	return err
}

// splitLabels fixes label order so a metric's arity stays stable across
// calls.
func splitLabels(labels map[string]string) ([]string, []string) {
	if len(labels) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = labels[name]
	}
	return names, values
}

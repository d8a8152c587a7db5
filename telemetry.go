package zerohack

import (
	"sync"
	"time"
)

// TrafficTelemetry keeps the most recent feature averages per source IP so
// the per-IP surface can show what the traffic looked like, not just how it
// was judged. Entries expire after the TTL.
type TrafficTelemetry struct {
	mu   sync.RWMutex
	ttl  time.Duration
	data map[string]*telemetryEntry
}

type telemetryEntry struct {
	metrics map[string]float64
	expires time.Time
}

func NewTrafficTelemetry(ttl time.Duration) *TrafficTelemetry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TrafficTelemetry{ttl: ttl, data: make(map[string]*telemetryEntry)}
}

// Ingest merges the latest observed metrics for one source IP and refreshes
// its expiry.
func (t *TrafficTelemetry) Ingest(sourceIP string, metrics map[string]float64) {
	if sourceIP == "" || len(metrics) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.data[sourceIP]
	if !ok {
		entry = &telemetryEntry{metrics: make(map[string]float64, len(metrics))}
		t.data[sourceIP] = entry
	}
	for k, v := range metrics {
		entry.metrics[k] = v
	}
	entry.expires = time.Now().Add(t.ttl)
}

// Snapshot returns a copy of the live metrics for one source IP, or nil when
// nothing unexpired is known.
func (t *TrafficTelemetry) Snapshot(sourceIP string) map[string]float64 {
	if sourceIP == "" {
		return nil
	}
	t.mu.RLock()
	entry, ok := t.data[sourceIP]
	if !ok || time.Now().After(entry.expires) {
		t.mu.RUnlock()
		return nil
	}
	snapshot := make(map[string]float64, len(entry.metrics))
	for k, v := range entry.metrics {
		snapshot[k] = v
	}
	t.mu.RUnlock()
	return snapshot
}

// Cleanup drops expired entries.
func (t *TrafficTelemetry) Cleanup() {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for ip, entry := range t.data {
		if now.After(entry.expires) {
			delete(t.data, ip)
		}
	}
}

// columnAverages folds a feature table into one mean per column.
func columnAverages(fv *FeatureVector) map[string]float64 {
	if fv.Empty() {
		return nil
	}
	averages := make(map[string]float64, len(fv.Columns))
	for col, name := range fv.Columns {
		var sum float64
		for _, row := range fv.Rows {
			sum += row[col]
		}
		averages[name] = sum / float64(len(fv.Rows))
	}
	return averages
}

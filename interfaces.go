package zerohack

import (
	"context"
	"time"
)

// AnomalyDetector scores one preprocessed feature batch. Failures surface as
// results with the error verdict, never as silent normals.
type AnomalyDetector interface {
	Name() string
	Predict(features *FeatureVector) DetectionResult
}

// EvidenceArchiver persists the full incident report to content-addressed
// storage and returns the reference it was stored under.
type EvidenceArchiver interface {
	Archive(ctx context.Context, incident *Incident) (string, error)
	Name() string
}

// LedgerReceipt is the ledger gateway's acknowledgement for one submission.
type LedgerReceipt struct {
	TxHash      string `json:"tx_hash"`
	Quarantined bool   `json:"quarantined"`
}

// LedgerClient anchors incident digests on the tamper-evident ledger.
type LedgerClient interface {
	Submit(ctx context.Context, incident *Incident) (*LedgerReceipt, error)
	Name() string
}

// IncidentRecorder is the durable local incident log as the dispatcher
// sees it.
type IncidentRecorder interface {
	AddIncident(ctx context.Context, incident *Incident) error
	HealthCheck() error
}

// AlertSink pushes live alert envelopes to connected subscribers.
type AlertSink interface {
	Broadcast(eventType string, data any)
}

// RateLimiter interface for different algorithms
type RateLimiter interface {
	Allow(key string) (allowed bool, remaining int, reset time.Time, err error)
	HealthCheck() error
}

// MetricsCollector interface for observability
type MetricsCollector interface {
	IncrementCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	HealthCheck() error
}

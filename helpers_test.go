package zerohack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oarkflow/log"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return &log.Logger{Level: log.PanicLevel, Writer: log.IOWriter{Writer: io.Discard}}
}

var baseTime = time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

// writeArtifactPair drops placeholder model and scaler files so mtime-based
// reload checks see real files. The stub loader never reads their contents.
func writeArtifactPair(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	model := filepath.Join(dir, "model.onnx")
	scaler := filepath.Join(dir, "scaler.json")
	require.NoError(t, os.WriteFile(model, []byte("model"), 0o644))
	require.NoError(t, os.WriteFile(scaler, []byte("{}"), 0o644))
	return model, scaler
}

type stubRunner struct {
	run    func(input []float32, inputShape, outputShape []int64) ([]float32, error)
	closed atomic.Bool
}

func (r *stubRunner) Run(input []float32, inputShape, outputShape []int64) ([]float32, error) {
	return r.run(input, inputShape, outputShape)
}

func (r *stubRunner) Close() error {
	r.closed.Store(true)
	return nil
}

// echoRunner reproduces its input, giving a reconstruction error of zero.
func echoRunner() *stubRunner {
	return &stubRunner{run: func(input []float32, _, _ []int64) ([]float32, error) {
		out := make([]float32, len(input))
		copy(out, input)
		return out, nil
	}}
}

// zeroRunner reconstructs everything as zero.
func zeroRunner() *stubRunner {
	return &stubRunner{run: func(input []float32, _, _ []int64) ([]float32, error) {
		return make([]float32, len(input)), nil
	}}
}

// scoreRunner returns the given per-row scores regardless of input.
func scoreRunner(scores ...float32) *stubRunner {
	return &stubRunner{run: func(_ []float32, _, _ []int64) ([]float32, error) {
		out := make([]float32, len(scores))
		copy(out, scores)
		return out, nil
	}}
}

func failingRunner(err error) *stubRunner {
	return &stubRunner{run: func(_ []float32, _, _ []int64) ([]float32, error) {
		return nil, err
	}}
}

func staticLoader(runner modelRunner, scaler *featureScaler) artifactLoader {
	return func(string, string) (*scoringArtifact, error) {
		return &scoringArtifact{runner: runner, scaler: scaler}, nil
	}
}

// identityScaler maps every listed column through unchanged (min 0, max 1).
func identityScaler(columns ...string) *featureScaler {
	sc := &featureScaler{Columns: columns}
	for range columns {
		sc.Min = append(sc.Min, 0)
		sc.Max = append(sc.Max, 1)
	}
	return sc
}

type fakeDetector struct {
	name  string
	res   DetectionResult
	calls atomic.Int32
}

func (d *fakeDetector) Name() string { return d.name }

func (d *fakeDetector) Predict(*FeatureVector) DetectionResult {
	d.calls.Add(1)
	return d.res
}

type stubArchiver struct {
	mu    sync.Mutex
	ref   string
	err   error
	fails int
	calls int
}

func (a *stubArchiver) Name() string { return "stub_archive" }

func (a *stubArchiver) Archive(context.Context, *Incident) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	if a.calls <= a.fails {
		return "", errors.New("transient archive failure")
	}
	return a.ref, nil
}

func (a *stubArchiver) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type stubLedger struct {
	mu           sync.Mutex
	receipt      LedgerReceipt
	err          error
	calls        int
	archivalRefs []string
}

func (l *stubLedger) Name() string { return "stub_ledger" }

func (l *stubLedger) Submit(_ context.Context, incident *Incident) (*LedgerReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.archivalRefs = append(l.archivalRefs, incident.ArchivalRef)
	if l.err != nil {
		return nil, l.err
	}
	receipt := l.receipt
	return &receipt, nil
}

func (l *stubLedger) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type stubRecorder struct {
	mu    sync.Mutex
	err   error
	saved []*Incident
}

func (r *stubRecorder) AddIncident(_ context.Context, incident *Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	clone := *incident
	r.saved = append(r.saved, &clone)
	return nil
}

func (r *stubRecorder) HealthCheck() error { return nil }

type stubSink struct {
	mu     sync.Mutex
	events []AlertEnvelope
}

func (s *stubSink) Broadcast(eventType string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, AlertEnvelope{EventType: eventType, Data: data})
}

func (s *stubSink) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, len(s.events))
	for i, ev := range s.events {
		types[i] = ev.EventType
	}
	return types
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) (bool, int, time.Time, error) {
	return false, 0, time.Time{}, nil
}

func (denyLimiter) HealthCheck() error { return nil }

// sshBurstSession builds count attempts from one source to port 22, spaced by
// gap, each carrying a shared numeric feature so preprocessing keeps the rows.
func sshBurstSession(source string, count int, start time.Time, gap time.Duration) Session {
	events := make(Session, 0, count)
	for i := 0; i < count; i++ {
		events = append(events, Event{
			Timestamp: start.Add(time.Duration(i) * gap),
			TimeValid: true,
			SourceIP:  source,
			DestIP:    "10.0.0.1",
			DestPort:  22,
			Features:  map[string]float64{"flow_pkts_per_s": float64(10 + i)},
		})
	}
	return events
}

// floodSession builds count connections against one destination endpoint,
// cycling the source across the given number of distinct addresses.
func floodSession(destIP string, destPort, count, sources int, start time.Time, gap time.Duration) Session {
	events := make(Session, 0, count)
	for i := 0; i < count; i++ {
		events = append(events, Event{
			Timestamp: start.Add(time.Duration(i) * gap),
			TimeValid: true,
			SourceIP:  fmt.Sprintf("203.0.113.%d", i%sources+1),
			DestIP:    destIP,
			DestPort:  destPort,
		})
	}
	return events
}

func testIncident() *Incident {
	return &Incident{
		ID:                 "inc_abc123def456",
		DetectionTimestamp: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		EventTimestamp:     time.Date(2026, 8, 20, 11, 59, 30, 0, time.UTC),
		SourceIP:           "203.0.113.50",
		AttackType:         "PORT_SCAN",
		Explanation:        "Signature Matcher: Potential port scan from 203.0.113.50 to 10.0.0.8.",
		Confidence:         0.9,
		LayerOutputs: []LayerOutput{
			{Layer: "Signature", Verdict: "threat", Score: 1.0, RuleID: "PORT_SCAN"},
		},
	}
}

package zerohack

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oarkflow/log"
)

// AnalysisResult is the externally visible outcome of one analysis call: the
// aggregated verdict plus whatever collaborator references succeeded.
type AnalysisResult struct {
	AggregatedVerdict
	IncidentID  string `json:"incident_id,omitempty"`
	ArchivalRef string `json:"archival_ref,omitempty"`
	LedgerRef   string `json:"ledger_ref,omitempty"`
}

// Incident is the detail record built for a THREAT verdict.
type Incident struct {
	ID                 string            `json:"id"`
	DetectionTimestamp time.Time         `json:"detection_pipeline_timestamp"`
	EventTimestamp     time.Time         `json:"approximated_event_timestamp"`
	SourceIP           string            `json:"identified_source_ip"`
	AttackType         string            `json:"identified_attack_type"`
	Explanation        string            `json:"full_explanation_summary"`
	Confidence         float64           `json:"confidence"`
	ArchivalRef        string            `json:"archival_ref,omitempty"`
	LedgerRef          string            `json:"ledger_ref,omitempty"`
	LayerOutputs       []LayerOutput     `json:"layer_outputs"`
	Verdict            AggregatedVerdict `json:"full_verdict"`
	SampleEvents       []Event           `json:"triggering_data_sample,omitempty"`
}

const incidentSampleEvents = 5

// Pipeline wires preprocessing, the detection layers, aggregation, and
// post-verdict dispatch into one analysis entry point.
type Pipeline struct {
	preprocessor *FeaturePreprocessor
	detectors    map[string]AnomalyDetector
	signatures   *SignatureEngine
	aggregator   *Aggregator
	dispatcher   *Dispatcher
	verdicts     *VerdictLedger
	profiler     *SourceProfiler
	telemetry    *TrafficTelemetry
	metrics      MetricsCollector
	logger       *log.Logger
}

// NewPipeline assembles the analysis pipeline. detectors are keyed by the
// aggregator channel names they feed; dispatcher, verdicts, profiler, and
// telemetry may be nil for library use.
func NewPipeline(detectors map[string]AnomalyDetector, signatures *SignatureEngine, aggregator *Aggregator,
	dispatcher *Dispatcher, verdicts *VerdictLedger, profiler *SourceProfiler,
	telemetry *TrafficTelemetry, metrics MetricsCollector, logger *log.Logger) *Pipeline {
	return &Pipeline{
		preprocessor: NewFeaturePreprocessor(),
		detectors:    detectors,
		signatures:   signatures,
		aggregator:   aggregator,
		dispatcher:   dispatcher,
		verdicts:     verdicts,
		profiler:     profiler,
		telemetry:    telemetry,
		metrics:      metrics,
		logger:       logger,
	}
}

// Analyze runs one session through every detection layer, fuses the
// outcomes, and on a THREAT verdict records and dispatches an incident.
// Detector and signature failures degrade to per-layer verdicts; only
// malformed input returns an error.
func (p *Pipeline) Analyze(ctx context.Context, session Session) (*AnalysisResult, error) {
	started := time.Now()
	if len(session) == 0 {
		return nil, &InputError{Reason: "No events provided in the request."}
	}
	p.logger.Info().Int("events", len(session)).Msg("starting traffic session analysis")

	stageStart := time.Now()
	features, err := p.preprocessor.Transform(session)
	if err != nil {
		return nil, err
	}
	p.observeStage("preprocess", stageStart)

	if p.telemetry != nil {
		p.telemetry.Ingest(firstSourceIP(session), columnAverages(features))
	}

	results := make(map[string]DetectionResult, len(p.detectors))
	var findings []SignatureFinding

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for channel, detector := range p.detectors {
		wg.Add(1)
		go func(channel string, detector AnomalyDetector) {
			defer wg.Done()
			start := time.Now()
			var res DetectionResult
			if features.Empty() {
				res = DetectionResult{
					Verdict:     VerdictSkipped,
					Explanation: fmt.Sprintf("Input for %s was empty.", detector.Name()),
				}
			} else {
				res = detector.Predict(features)
			}
			mu.Lock()
			results[channel] = res
			mu.Unlock()
			p.observeStage(channel, start)
			if p.metrics != nil {
				p.metrics.IncrementCounter("detector_verdicts_total", map[string]string{
					"detector": detector.Name(),
					"verdict":  res.Verdict,
				})
			}
		}(channel, detector)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		start := time.Now()
		findings = p.signatures.Analyze(session)
		p.observeStage("signature", start)
	}()
	wg.Wait()

	stageStart = time.Now()
	verdict := p.aggregator.Aggregate(results, findings)
	p.observeStage("aggregate", stageStart)

	if p.metrics != nil {
		p.metrics.IncrementCounter("analyses_total", map[string]string{"verdict": verdict.FinalVerdict})
		p.metrics.ObserveHistogram("analysis_duration_seconds", time.Since(started).Seconds(), nil)
	}

	sourceIP, attackType := identifyThreatOrigin(findings)
	isThreat := verdict.FinalVerdict == FinalVerdictThreat

	if p.verdicts != nil {
		record := VerdictRecord{
			SourceIP:     firstSourceIP(session),
			FinalVerdict: verdict.FinalVerdict,
			Confidence:   verdict.Confidence,
		}
		if isThreat {
			record.AttackType = attackType
		}
		p.verdicts.Record(record)
	}
	if p.profiler != nil {
		p.profiler.Track(firstSourceIP(session), attackType, isThreat, time.Now())
	}

	result := &AnalysisResult{AggregatedVerdict: verdict}
	if !isThreat {
		p.logger.Info().Float64("confidence", verdict.Confidence).Msg("traffic assessed as safe")
		return result, nil
	}

	incident := p.buildIncident(verdict, session, sourceIP, attackType)
	result.IncidentID = incident.ID
	p.logger.Warn().
		Str("incident_id", incident.ID).
		Str("source_ip", incident.SourceIP).
		Str("attack_type", incident.AttackType).
		Float64("confidence", verdict.Confidence).
		Msg("threat detected")

	if p.dispatcher != nil {
		refs := p.dispatcher.Dispatch(ctx, incident)
		result.ArchivalRef = refs.ArchivalRef
		result.LedgerRef = refs.LedgerRef
	}
	return result, nil
}

func (p *Pipeline) buildIncident(verdict AggregatedVerdict, session Session, sourceIP, attackType string) *Incident {
	sample := session
	if len(sample) > incidentSampleEvents {
		sample = sample[:incidentSampleEvents]
	}
	return &Incident{
		ID:                 newIncidentID(),
		DetectionTimestamp: time.Now(),
		EventTimestamp:     approximateEventTime(session),
		SourceIP:           sourceIP,
		AttackType:         attackType,
		Explanation:        verdict.ExplanationSummary,
		Confidence:         verdict.Confidence,
		LayerOutputs:       verdict.LayerOutputs,
		Verdict:            verdict,
		SampleEvents:       append([]Event(nil), sample...),
	}
}

func (p *Pipeline) observeStage(stage string, started time.Time) {
	elapsed := time.Since(started)
	p.logger.Debug().Str("stage", stage).Dur("elapsed", elapsed).Msg("pipeline stage finished")
	if p.metrics != nil {
		p.metrics.ObserveHistogram("pipeline_stage_duration_seconds", elapsed.Seconds(), map[string]string{"stage": stage})
	}
}

// newIncidentID returns ids like inc_3fa85f64b1c2.
func newIncidentID() string {
	return "inc_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// identifyThreatOrigin pulls a source IP and attack label from the strongest
// signature finding. Anomaly-only threats keep the defaults.
func identifyThreatOrigin(findings []SignatureFinding) (string, string) {
	sourceIP, attackType := "N/A", "Aggregated Threat"
	var strongest *SignatureFinding
	for i := range findings {
		if !findings[i].IsMatch {
			continue
		}
		if strongest == nil || findings[i].Confidence > strongest.Confidence {
			strongest = &findings[i]
		}
	}
	if strongest == nil {
		return sourceIP, attackType
	}
	attackType = strongest.RuleID
	if ip, ok := strongest.Details["source_ip"].(string); ok && ip != "" {
		sourceIP = ip
	}
	return sourceIP, attackType
}

// approximateEventTime picks the first parseable event timestamp, falling
// back to the current time for sessions without one.
func approximateEventTime(session Session) time.Time {
	for _, ev := range session {
		if ev.TimeValid {
			return ev.Timestamp
		}
	}
	return time.Now()
}

func firstSourceIP(session Session) string {
	for _, ev := range session {
		if ev.SourceIP != "" {
			return ev.SourceIP
		}
	}
	return ""
}

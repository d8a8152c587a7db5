package zerohack

import (
	"fmt"
	"math"
	"strings"

	"github.com/oarkflow/log"
)

const (
	FinalVerdictSafe   = "SAFE"
	FinalVerdictThreat = "THREAT"
)

// LayerOutput is one layer's contribution to the final verdict.
type LayerOutput struct {
	Layer       string  `json:"layer"`
	Verdict     string  `json:"verdict"`
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
	RuleID      string  `json:"rule_id,omitempty"`
}

// AggregatedVerdict is the fused outcome of all detection layers for one
// session.
type AggregatedVerdict struct {
	FinalVerdict       string        `json:"final_verdict"`
	Confidence         float64       `json:"confidence"`
	ExplanationSummary string        `json:"explanation_summary"`
	LayerOutputs       []LayerOutput `json:"layer_outputs"`
}

// AnomalyChannel describes one named anomaly detector feeding the
// aggregator. StrictCutoff is the channel's own decision boundary; a score
// past it escalates the channel from the base to the strict likelihood.
type AnomalyChannel struct {
	Name         string  `json:"name"`
	Layer        string  `json:"layer"`
	Label        string  `json:"label"`
	Weight       float64 `json:"weight"`
	StrictCutoff float64 `json:"strict_cutoff"`
	LowerIsWorse bool    `json:"lower_is_worse"`
}

// AggregatorConfig fixes the fusion weights and decision thresholds. An
// aggregator never reads mutable state; construct a new one to change
// policy.
type AggregatorConfig struct {
	SignatureWeight      float64          `json:"signature_weight"`
	StrongSignatureFloor float64          `json:"strong_signature_floor"`
	ThreatThreshold      float64          `json:"threat_threshold"`
	BaseLikelihood       float64          `json:"base_likelihood"`
	StrictLikelihood     float64          `json:"strict_likelihood"`
	MultiSignalCount     int              `json:"multi_signal_count"`
	MultiSignalFloor     float64          `json:"multi_signal_floor"`
	Channels             []AnomalyChannel `json:"channels"`
}

// DefaultAggregatorConfig returns the tuned production policy: a strong
// signature dominates the verdict on its own, and two agreeing weaker
// signals still escalate.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		SignatureWeight:      0.6,
		StrongSignatureFloor: 0.9,
		ThreatThreshold:      0.65,
		BaseLikelihood:       0.6,
		StrictLikelihood:     0.8,
		MultiSignalCount:     2,
		MultiSignalFloor:     0.5,
		Channels: []AnomalyChannel{
			{
				Name:         "isolation_forest",
				Layer:        "IsolationForest",
				Label:        "Isolation Forest",
				Weight:       0.2,
				StrictCutoff: -0.1,
				LowerIsWorse: true,
			},
			{
				Name:         "behavioral",
				Layer:        "BehavioralAI",
				Label:        "Behavioral AI",
				Weight:       0.2,
				StrictCutoff: 0.7,
			},
		},
	}
}

// Aggregator fuses per-layer outcomes into one final verdict.
type Aggregator struct {
	cfg    AggregatorConfig
	logger *log.Logger
}

func NewAggregator(cfg AggregatorConfig, logger *log.Logger) *Aggregator {
	return &Aggregator{cfg: cfg, logger: logger}
}

// Aggregate combines anomaly channel results, keyed by channel name, with
// signature findings. Signature layers come first in the output, then the
// channels in configured order. Channels absent from results are omitted;
// error and skipped verdicts appear in the output but contribute no threat
// weight. Aggregate is a pure function of its inputs.
func (a *Aggregator) Aggregate(results map[string]DetectionResult, findings []SignatureFinding) AggregatedVerdict {
	var (
		explanations    []string
		layerOutputs    []LayerOutput
		finalConfidence float64
		threatSignals   int
		strongest       *SignatureFinding
	)

	for i := range findings {
		finding := findings[i]
		if !finding.IsMatch {
			continue
		}
		explanations = append(explanations, "Signature Matcher: "+finding.Explanation)
		layerOutputs = append(layerOutputs, LayerOutput{
			Layer:       "Signature",
			Verdict:     "threat",
			Score:       finding.Confidence,
			Explanation: finding.Explanation,
			RuleID:      finding.RuleID,
		})
		if strongest == nil || finding.Confidence > strongest.Confidence {
			strongest = &findings[i]
		}
	}

	strongSignature := strongest != nil && strongest.Confidence >= a.cfg.StrongSignatureFloor
	if strongSignature {
		finalConfidence += a.cfg.SignatureWeight * strongest.Confidence
		threatSignals++
	}

	for _, ch := range a.cfg.Channels {
		res, ok := results[ch.Name]
		if !ok {
			continue
		}
		layer, label := ch.Layer, ch.Label
		if res.ModelType != "" {
			layer = fmt.Sprintf("%s (%s)", ch.Layer, res.ModelType)
			label = fmt.Sprintf("%s (%s)", ch.Label, res.ModelType)
		}
		explanations = append(explanations, label+": "+res.Explanation)
		layerOutputs = append(layerOutputs, LayerOutput{
			Layer:       layer,
			Verdict:     res.Verdict,
			Score:       res.Score,
			Explanation: res.Explanation,
		})

		if res.Verdict != VerdictAnomaly {
			continue
		}
		likelihood := a.cfg.BaseLikelihood
		if pastStrictCutoff(res.Score, ch) {
			likelihood = a.cfg.StrictLikelihood
		}
		finalConfidence += ch.Weight * likelihood
		threatSignals++
	}

	finalConfidence = math.Min(finalConfidence, 1.0)

	finalVerdict := FinalVerdictSafe
	switch {
	case strongSignature:
		finalVerdict = FinalVerdictThreat
		finalConfidence = math.Max(finalConfidence, a.cfg.StrongSignatureFloor)
	case finalConfidence > a.cfg.ThreatThreshold:
		finalVerdict = FinalVerdictThreat
	case a.cfg.MultiSignalCount > 0 && threatSignals >= a.cfg.MultiSignalCount:
		// Agreement between weak layers escalates even when the combined
		// confidence alone stays under the threshold.
		finalVerdict = FinalVerdictThreat
		finalConfidence = math.Max(finalConfidence, a.cfg.MultiSignalFloor)
	}

	summary := strings.Join(explanations, "\n")
	if summary == "" {
		if finalVerdict == FinalVerdictThreat {
			summary = "Threat detected based on aggregated scores, but individual explanations were missing."
		} else {
			summary = "No specific threats or anomalies detected by any layer."
		}
	}

	a.logger.Debug().
		Str("final_verdict", finalVerdict).
		Float64("confidence", finalConfidence).
		Int("threat_signals", threatSignals).
		Int("layers", len(layerOutputs)).
		Msg("layer outcomes fused")

	return AggregatedVerdict{
		FinalVerdict:       finalVerdict,
		Confidence:         round2(finalConfidence),
		ExplanationSummary: summary,
		LayerOutputs:       layerOutputs,
	}
}

func pastStrictCutoff(score float64, ch AnomalyChannel) bool {
	if ch.LowerIsWorse {
		return score < ch.StrictCutoff
	}
	return score > ch.StrictCutoff
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package zerohack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateAllNormalIsSafe(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig(), testLogger())

	verdict := agg.Aggregate(map[string]DetectionResult{
		"isolation_forest": {Verdict: VerdictNormal, Score: 0.2, Explanation: "Score is above threshold."},
		"behavioral":       {Verdict: VerdictNormal, Score: 0.01, Explanation: "MSE within threshold.", ModelType: "Autoencoder"},
	}, nil)

	assert.Equal(t, FinalVerdictSafe, verdict.FinalVerdict)
	assert.Equal(t, 0.0, verdict.Confidence)
	require.Len(t, verdict.LayerOutputs, 2)
	assert.Equal(t, "IsolationForest", verdict.LayerOutputs[0].Layer)
	assert.Equal(t, "BehavioralAI (Autoencoder)", verdict.LayerOutputs[1].Layer)
	assert.Contains(t, verdict.ExplanationSummary, "Isolation Forest: Score is above threshold.")
	assert.Contains(t, verdict.ExplanationSummary, "Behavioral AI (Autoencoder): MSE within threshold.")
}

func TestAggregateNoInputs(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig(), testLogger())

	verdict := agg.Aggregate(nil, nil)

	assert.Equal(t, FinalVerdictSafe, verdict.FinalVerdict)
	assert.Equal(t, 0.0, verdict.Confidence)
	assert.Empty(t, verdict.LayerOutputs)
	assert.Equal(t, "No specific threats or anomalies detected by any layer.", verdict.ExplanationSummary)
}

func TestAggregateStrongSignatureDominates(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig(), testLogger())

	findings := []SignatureFinding{{
		RuleID:      "PORT_SCAN",
		IsMatch:     true,
		Confidence:  1.0,
		Explanation: "Potential port scan from 198.51.100.9 to 10.0.0.8.",
	}}
	verdict := agg.Aggregate(map[string]DetectionResult{
		"isolation_forest": {Verdict: VerdictNormal, Score: 0.3, Explanation: "normal"},
		"behavioral":       {Verdict: VerdictNormal, Score: 0.02, Explanation: "normal", ModelType: "Autoencoder"},
	}, findings)

	assert.Equal(t, FinalVerdictThreat, verdict.FinalVerdict)
	assert.Equal(t, 0.9, verdict.Confidence)
	require.NotEmpty(t, verdict.LayerOutputs)
	first := verdict.LayerOutputs[0]
	assert.Equal(t, "Signature", first.Layer)
	assert.Equal(t, "threat", first.Verdict)
	assert.Equal(t, "PORT_SCAN", first.RuleID)
	assert.Contains(t, verdict.ExplanationSummary, "Signature Matcher: Potential port scan")
}

func TestAggregateSignaturePlusAnomalies(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig(), testLogger())

	findings := []SignatureFinding{{RuleID: "SSH_BRUTE_FORCE", IsMatch: true, Confidence: 1.0, Explanation: "burst"}}
	verdict := agg.Aggregate(map[string]DetectionResult{
		"isolation_forest": {Verdict: VerdictAnomaly, Score: -0.2, Explanation: "low score"},
		"behavioral":       {Verdict: VerdictAnomaly, Score: 0.85, Explanation: "high mse", ModelType: "Autoencoder"},
	}, findings)

	// 0.6*1.0 + 0.2*0.8 + 0.2*0.8 = 0.92, above the strong-signature floor.
	assert.Equal(t, FinalVerdictThreat, verdict.FinalVerdict)
	assert.Equal(t, 0.92, verdict.Confidence)
}

func TestAggregateTwoWeakSignalsEscalate(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig(), testLogger())

	verdict := agg.Aggregate(map[string]DetectionResult{
		"isolation_forest": {Verdict: VerdictAnomaly, Score: -0.2, Explanation: "low score"},
		"behavioral":       {Verdict: VerdictAnomaly, Score: 0.85, Explanation: "high mse", ModelType: "Autoencoder"},
	}, nil)

	// 0.2*0.8 + 0.2*0.8 = 0.32: under the threshold, but two agreeing
	// signals still escalate to the multi-signal floor.
	assert.Equal(t, FinalVerdictThreat, verdict.FinalVerdict)
	assert.Equal(t, 0.5, verdict.Confidence)
}

func TestAggregateSingleWeakSignalStaysSafe(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig(), testLogger())

	// Score 0.65 is anomalous but under the strict cutoff 0.7, so the base
	// likelihood applies: 0.2*0.6 = 0.12.
	verdict := agg.Aggregate(map[string]DetectionResult{
		"behavioral": {Verdict: VerdictAnomaly, Score: 0.65, Explanation: "mild mse", ModelType: "Autoencoder"},
	}, nil)

	assert.Equal(t, FinalVerdictSafe, verdict.FinalVerdict)
	assert.Equal(t, 0.12, verdict.Confidence)
}

func TestAggregateStrictCutoffRaisesLikelihood(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig(), testLogger())

	verdict := agg.Aggregate(map[string]DetectionResult{
		"behavioral": {Verdict: VerdictAnomaly, Score: 0.75, Explanation: "strong mse", ModelType: "Autoencoder"},
	}, nil)

	// 0.75 is past the strict cutoff 0.7: 0.2*0.8 = 0.16.
	assert.Equal(t, FinalVerdictSafe, verdict.FinalVerdict)
	assert.Equal(t, 0.16, verdict.Confidence)
}

func TestAggregateErrorAndSkippedCarryNoWeight(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig(), testLogger())

	verdict := agg.Aggregate(map[string]DetectionResult{
		"isolation_forest": {Verdict: VerdictError, Explanation: "Model/scaler not loaded."},
		"behavioral":       {Verdict: VerdictSkipped, Explanation: "Input for Autoencoder was empty."},
	}, nil)

	assert.Equal(t, FinalVerdictSafe, verdict.FinalVerdict)
	assert.Equal(t, 0.0, verdict.Confidence)
	require.Len(t, verdict.LayerOutputs, 2)
	assert.Equal(t, VerdictError, verdict.LayerOutputs[0].Verdict)
	assert.Equal(t, VerdictSkipped, verdict.LayerOutputs[1].Verdict)
	assert.Contains(t, verdict.ExplanationSummary, "Model/scaler not loaded.")
}

func TestAggregateIgnoresUnknownChannels(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig(), testLogger())

	verdict := agg.Aggregate(map[string]DetectionResult{
		"mystery": {Verdict: VerdictAnomaly, Score: 0.99, Explanation: "not configured"},
	}, nil)

	assert.Equal(t, FinalVerdictSafe, verdict.FinalVerdict)
	assert.Empty(t, verdict.LayerOutputs)
}

func TestAggregateWeakMatchBelowStrongFloor(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig(), testLogger())

	// A sub-floor signature match contributes a layer output but no weight,
	// so on its own the verdict stays safe.
	findings := []SignatureFinding{{RuleID: "PORT_SCAN", IsMatch: true, Confidence: 0.5, Explanation: "partial"}}
	verdict := agg.Aggregate(nil, findings)

	assert.Equal(t, FinalVerdictSafe, verdict.FinalVerdict)
	assert.Equal(t, 0.0, verdict.Confidence)
	require.Len(t, verdict.LayerOutputs, 1)
	assert.Equal(t, "Signature", verdict.LayerOutputs[0].Layer)
}

func TestAggregateMultiSignalEscalationCanBeDisabled(t *testing.T) {
	cfg := DefaultAggregatorConfig()
	cfg.MultiSignalCount = 0
	agg := NewAggregator(cfg, testLogger())

	verdict := agg.Aggregate(map[string]DetectionResult{
		"isolation_forest": {Verdict: VerdictAnomaly, Score: -0.2, Explanation: "low score"},
		"behavioral":       {Verdict: VerdictAnomaly, Score: 0.85, Explanation: "high mse"},
	}, nil)

	assert.Equal(t, FinalVerdictSafe, verdict.FinalVerdict)
	assert.Equal(t, 0.32, verdict.Confidence)
}

func TestAggregateLayerOrderIsStable(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig(), testLogger())

	findings := []SignatureFinding{
		{RuleID: "SSH_BRUTE_FORCE", IsMatch: true, Confidence: 1.0, Explanation: "burst"},
		{RuleID: "DDOS_FLOOD_DETECTED", IsMatch: true, Confidence: 1.0, Explanation: "flood"},
	}
	verdict := agg.Aggregate(map[string]DetectionResult{
		"isolation_forest": {Verdict: VerdictNormal, Score: 0.2, Explanation: "normal"},
		"behavioral":       {Verdict: VerdictNormal, Score: 0.01, Explanation: "normal"},
	}, findings)

	require.Len(t, verdict.LayerOutputs, 4)
	assert.Equal(t, "SSH_BRUTE_FORCE", verdict.LayerOutputs[0].RuleID)
	assert.Equal(t, "DDOS_FLOOD_DETECTED", verdict.LayerOutputs[1].RuleID)
	assert.Equal(t, "IsolationForest", verdict.LayerOutputs[2].Layer)
	assert.Equal(t, "BehavioralAI", verdict.LayerOutputs[3].Layer)
}

func TestAggregateIsPure(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig(), testLogger())

	results := map[string]DetectionResult{
		"isolation_forest": {Verdict: VerdictAnomaly, Score: -0.2, Explanation: "low score"},
	}
	findings := []SignatureFinding{{RuleID: "PORT_SCAN", IsMatch: true, Confidence: 1.0, Explanation: "scan"}}

	first := agg.Aggregate(results, findings)
	second := agg.Aggregate(results, findings)
	assert.Equal(t, first, second)
}

func TestAggregateNonMatchFindingsAreSkipped(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig(), testLogger())

	findings := []SignatureFinding{{RuleID: "PORT_SCAN", IsMatch: false, Confidence: 1.0, Explanation: "no"}}
	verdict := agg.Aggregate(nil, findings)

	assert.Equal(t, FinalVerdictSafe, verdict.FinalVerdict)
	assert.Empty(t, verdict.LayerOutputs)
}

func TestAggregateConfidenceIsMonotonicInChannelSeverity(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig(), testLogger())

	// Same channel stepped from normal to anomalous to past the strict
	// cutoff; confidence must never decrease along the way.
	steps := []DetectionResult{
		{Verdict: VerdictNormal, Score: 0.2, ModelType: "Autoencoder"},
		{Verdict: VerdictAnomaly, Score: 0.65, ModelType: "Autoencoder"},
		{Verdict: VerdictAnomaly, Score: 0.95, ModelType: "Autoencoder"},
	}

	prev := -1.0
	for _, res := range steps {
		verdict := agg.Aggregate(map[string]DetectionResult{"behavioral": res}, nil)
		assert.GreaterOrEqual(t, verdict.Confidence, prev, "score %v lowered the fused confidence", res.Score)
		prev = verdict.Confidence
	}
}

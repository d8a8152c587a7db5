package zerohack

import (
	"fmt"

	"github.com/oarkflow/log"
)

const (
	VerdictNormal  = "normal"
	VerdictAnomaly = "anomaly"
	VerdictError   = "error"
	VerdictSkipped = "skipped"
)

// DetectionResult is one anomaly channel's outcome for a batch. Error and
// skipped verdicts carry no threat weight downstream; a detector failure is
// never reported as normal.
type DetectionResult struct {
	Verdict     string  `json:"verdict"`
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
	ModelType   string  `json:"model_type,omitempty"`
}

const defaultLSTMTimesteps = 10

// IsolationForestDetector scores batches with an isolation forest exported
// to ONNX. Lower decision scores are more anomalous.
type IsolationForestDetector struct {
	name      string
	cutoff    float64
	artifacts *artifactManager
	logger    *log.Logger
}

func NewIsolationForestDetector(modelPath, scalerPath string, cutoff float64, load artifactLoader, logger *log.Logger) *IsolationForestDetector {
	return &IsolationForestDetector{
		name:      "IsolationForest",
		cutoff:    cutoff,
		artifacts: newArtifactManager(modelPath, scalerPath, load, logger),
		logger:    logger,
	}
}

func (d *IsolationForestDetector) Name() string { return d.name }

func (d *IsolationForestDetector) Predict(features *FeatureVector) DetectionResult {
	art, err := d.artifacts.acquire()
	if err != nil {
		d.logger.Error().Str("detector", d.name).Err(err).Msg("artifact unavailable")
		return DetectionResult{Verdict: VerdictError, Explanation: "Model/scaler not loaded."}
	}
	if features.Empty() {
		return DetectionResult{Verdict: VerdictError, Explanation: "Input data is empty."}
	}

	scaled, err := art.scaler.Transform(features)
	if err != nil {
		d.logger.Error().Str("detector", d.name).Err(err).Msg("scaling failed")
		return DetectionResult{Verdict: VerdictError, Explanation: fmt.Sprintf("Error scaling input data: %v", err)}
	}
	scores, err := scoreRows(art.runner, scaled)
	if err != nil {
		d.logger.Error().Str("detector", d.name).Err(err).Msg("inference failed")
		return DetectionResult{Verdict: VerdictError, Explanation: fmt.Sprintf("Error during prediction: %v", err)}
	}

	avg := mean(scores)
	explanation := fmt.Sprintf("Isolation Forest average score: %.4f. ", avg)
	verdict := VerdictNormal
	if avg < d.cutoff {
		verdict = VerdictAnomaly
		explanation += fmt.Sprintf("Score is below threshold (%g), indicating potential anomaly.", d.cutoff)
	} else {
		explanation += "Score is above threshold, indicating normal behavior."
	}
	return DetectionResult{Verdict: verdict, Score: avg, Explanation: explanation}
}

// AutoencoderDetector scores batches by reconstruction error. High mean
// squared error against the model's reconstruction marks an anomaly.
type AutoencoderDetector struct {
	name      string
	modelType string
	cutoff    float64
	artifacts *artifactManager
	logger    *log.Logger
}

func NewAutoencoderDetector(modelPath, scalerPath string, cutoff float64, load artifactLoader, logger *log.Logger) *AutoencoderDetector {
	return &AutoencoderDetector{
		name:      "Autoencoder",
		modelType: "Autoencoder",
		cutoff:    cutoff,
		artifacts: newArtifactManager(modelPath, scalerPath, load, logger),
		logger:    logger,
	}
}

func (d *AutoencoderDetector) Name() string { return d.name }

func (d *AutoencoderDetector) Predict(features *FeatureVector) DetectionResult {
	art, err := d.artifacts.acquire()
	if err != nil {
		d.logger.Error().Str("detector", d.name).Err(err).Msg("artifact unavailable")
		return DetectionResult{Verdict: VerdictError, Explanation: "AE Model/scaler not loaded.", ModelType: d.modelType}
	}
	if features.Empty() {
		return DetectionResult{Verdict: VerdictError, Explanation: "Input data is empty.", ModelType: d.modelType}
	}

	scaled, err := art.scaler.Transform(features)
	if err != nil {
		d.logger.Error().Str("detector", d.name).Err(err).Msg("scaling failed")
		return DetectionResult{Verdict: VerdictError, Explanation: fmt.Sprintf("Error scaling input data: %v", err), ModelType: d.modelType}
	}
	errors, err := reconstructionErrors(art.runner, scaled)
	if err != nil {
		d.logger.Error().Str("detector", d.name).Err(err).Msg("inference failed")
		return DetectionResult{Verdict: VerdictError, Explanation: fmt.Sprintf("Error during prediction: %v", err), ModelType: d.modelType}
	}

	avg := mean(errors)
	explanation := fmt.Sprintf("Autoencoder average MSE: %.6f. Threshold: %.6f. ", avg, d.cutoff)
	verdict := VerdictNormal
	if avg > d.cutoff {
		verdict = VerdictAnomaly
		explanation += "MSE exceeds threshold, indicating potential anomaly."
	} else {
		explanation += "MSE within threshold, indicating normal behavior."
	}
	return DetectionResult{Verdict: verdict, Score: avg, Explanation: explanation, ModelType: d.modelType}
}

// LSTMDetector scores fixed-length event windows by sequence reconstruction
// error. Rows are cut into non-overlapping windows; a tail shorter than one
// window is discarded.
type LSTMDetector struct {
	name      string
	modelType string
	cutoff    float64
	timesteps int
	artifacts *artifactManager
	logger    *log.Logger
}

func NewLSTMDetector(modelPath, scalerPath string, cutoff float64, timesteps int, load artifactLoader, logger *log.Logger) *LSTMDetector {
	if timesteps <= 0 {
		timesteps = defaultLSTMTimesteps
	}
	return &LSTMDetector{
		name:      "LSTM",
		modelType: "LSTM",
		cutoff:    cutoff,
		timesteps: timesteps,
		artifacts: newArtifactManager(modelPath, scalerPath, load, logger),
		logger:    logger,
	}
}

func (d *LSTMDetector) Name() string { return d.name }

func (d *LSTMDetector) Predict(features *FeatureVector) DetectionResult {
	art, err := d.artifacts.acquire()
	if err != nil {
		d.logger.Error().Str("detector", d.name).Err(err).Msg("artifact unavailable")
		return DetectionResult{Verdict: VerdictError, Explanation: "LSTM Model/scaler not loaded.", ModelType: d.modelType}
	}
	if features.Empty() {
		return DetectionResult{Verdict: VerdictError, Explanation: "Input data is empty.", ModelType: d.modelType}
	}

	scaled, err := art.scaler.Transform(features)
	if err != nil {
		d.logger.Error().Str("detector", d.name).Err(err).Msg("scaling failed")
		return DetectionResult{Verdict: VerdictError, Explanation: fmt.Sprintf("Error scaling input data: %v", err), ModelType: d.modelType}
	}

	windows := len(scaled) / d.timesteps
	if windows == 0 {
		return DetectionResult{
			Verdict:     VerdictError,
			Explanation: fmt.Sprintf("Not enough data for sequences: need at least %d rows, got %d.", d.timesteps, len(scaled)),
			ModelType:   d.modelType,
		}
	}

	errors, err := sequenceErrors(art.runner, scaled[:windows*d.timesteps], d.timesteps)
	if err != nil {
		d.logger.Error().Str("detector", d.name).Err(err).Msg("inference failed")
		return DetectionResult{Verdict: VerdictError, Explanation: fmt.Sprintf("Error during prediction: %v", err), ModelType: d.modelType}
	}

	avg := mean(errors)
	explanation := fmt.Sprintf("LSTM average sequence MSE: %.6f. Threshold: %.6f. ", avg, d.cutoff)
	verdict := VerdictNormal
	if avg > d.cutoff {
		verdict = VerdictAnomaly
		explanation += "MSE exceeds threshold, indicating potential anomaly in temporal patterns."
	} else {
		explanation += "MSE within threshold, indicating normal temporal patterns."
	}
	return DetectionResult{Verdict: verdict, Score: avg, Explanation: explanation, ModelType: d.modelType}
}

// scoreRows runs a density model producing one score per row.
func scoreRows(runner modelRunner, rows [][]float32) ([]float64, error) {
	n, f := len(rows), len(rows[0])
	out, err := runner.Run(flatten(rows), []int64{int64(n), int64(f)}, []int64{int64(n), 1})
	if err != nil {
		return nil, err
	}
	if len(out) != n {
		return nil, fmt.Errorf("model returned %d scores for %d rows", len(out), n)
	}
	scores := make([]float64, n)
	for i, v := range out {
		scores[i] = float64(v)
	}
	return scores, nil
}

// reconstructionErrors runs a reconstruction model and returns the per-row
// mean squared error between input and output.
func reconstructionErrors(runner modelRunner, rows [][]float32) ([]float64, error) {
	n, f := len(rows), len(rows[0])
	flat := flatten(rows)
	shape := []int64{int64(n), int64(f)}
	out, err := runner.Run(flat, shape, shape)
	if err != nil {
		return nil, err
	}
	if len(out) != len(flat) {
		return nil, fmt.Errorf("model returned %d values, want %d", len(out), len(flat))
	}
	mses := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < f; j++ {
			diff := float64(flat[i*f+j] - out[i*f+j])
			sum += diff * diff
		}
		mses[i] = sum / float64(f)
	}
	return mses, nil
}

// sequenceErrors runs a sequence reconstruction model over non-overlapping
// windows and returns the per-window mean squared error.
func sequenceErrors(runner modelRunner, rows [][]float32, timesteps int) ([]float64, error) {
	windows := len(rows) / timesteps
	f := len(rows[0])
	flat := flatten(rows)
	shape := []int64{int64(windows), int64(timesteps), int64(f)}
	out, err := runner.Run(flat, shape, shape)
	if err != nil {
		return nil, err
	}
	if len(out) != len(flat) {
		return nil, fmt.Errorf("model returned %d values, want %d", len(out), len(flat))
	}
	span := timesteps * f
	mses := make([]float64, windows)
	for w := 0; w < windows; w++ {
		var sum float64
		for k := 0; k < span; k++ {
			diff := float64(flat[w*span+k] - out[w*span+k])
			sum += diff * diff
		}
		mses[w] = sum / float64(span)
	}
	return mses, nil
}

func flatten(rows [][]float32) []float32 {
	if len(rows) == 0 {
		return nil
	}
	flat := make([]float32, 0, len(rows)*len(rows[0]))
	for _, row := range rows {
		flat = append(flat, row...)
	}
	return flat
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

package zerohack

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolationForestFlagsLowScores(t *testing.T) {
	model, scaler := writeArtifactPair(t)
	det := NewIsolationForestDetector(model, scaler, -0.1,
		staticLoader(scoreRunner(-0.5, -0.3), identityScaler("a", "b")), testLogger())

	res := det.Predict(&FeatureVector{Columns: []string{"a", "b"}, Rows: [][]float64{{0.2, 0.4}, {0.1, 0.3}}})

	assert.Equal(t, VerdictAnomaly, res.Verdict)
	assert.InDelta(t, -0.4, res.Score, 1e-6)
	assert.Equal(t, "Isolation Forest average score: -0.4000. Score is below threshold (-0.1), indicating potential anomaly.", res.Explanation)
	assert.Empty(t, res.ModelType)
}

func TestIsolationForestPassesHighScores(t *testing.T) {
	model, scaler := writeArtifactPair(t)
	det := NewIsolationForestDetector(model, scaler, -0.1,
		staticLoader(scoreRunner(0.05, 0.15), identityScaler("a", "b")), testLogger())

	res := det.Predict(&FeatureVector{Columns: []string{"a", "b"}, Rows: [][]float64{{0.2, 0.4}, {0.1, 0.3}}})

	assert.Equal(t, VerdictNormal, res.Verdict)
	assert.Equal(t, "Isolation Forest average score: 0.1000. Score is above threshold, indicating normal behavior.", res.Explanation)
}

func TestIsolationForestWithoutArtifactReportsError(t *testing.T) {
	det := NewIsolationForestDetector("/missing/model.onnx", "/missing/scaler.json", -0.1,
		staticLoader(echoRunner(), identityScaler("a")), testLogger())

	res := det.Predict(&FeatureVector{Columns: []string{"a"}, Rows: [][]float64{{1}}})

	assert.Equal(t, VerdictError, res.Verdict)
	assert.NotEqual(t, VerdictNormal, res.Verdict)
	assert.Equal(t, "Model/scaler not loaded.", res.Explanation)
}

func TestIsolationForestEmptyInput(t *testing.T) {
	model, scaler := writeArtifactPair(t)
	det := NewIsolationForestDetector(model, scaler, -0.1,
		staticLoader(echoRunner(), identityScaler("a")), testLogger())

	res := det.Predict(&FeatureVector{Columns: []string{"a"}})

	assert.Equal(t, VerdictError, res.Verdict)
	assert.Equal(t, "Input data is empty.", res.Explanation)
}

func TestIsolationForestScalingFailure(t *testing.T) {
	model, scaler := writeArtifactPair(t)
	det := NewIsolationForestDetector(model, scaler, -0.1,
		staticLoader(echoRunner(), identityScaler("absent")), testLogger())

	res := det.Predict(&FeatureVector{Columns: []string{"a"}, Rows: [][]float64{{1}}})

	assert.Equal(t, VerdictError, res.Verdict)
	assert.Equal(t, `Error scaling input data: feature "absent" missing from input`, res.Explanation)
}

func TestIsolationForestInferenceFailure(t *testing.T) {
	model, scaler := writeArtifactPair(t)
	det := NewIsolationForestDetector(model, scaler, -0.1,
		staticLoader(failingRunner(errors.New("session run failed")), identityScaler("a")), testLogger())

	res := det.Predict(&FeatureVector{Columns: []string{"a"}, Rows: [][]float64{{1}}})

	assert.Equal(t, VerdictError, res.Verdict)
	assert.Equal(t, "Error during prediction: session run failed", res.Explanation)
}

func TestIsolationForestScoreCountMismatch(t *testing.T) {
	model, scaler := writeArtifactPair(t)
	det := NewIsolationForestDetector(model, scaler, -0.1,
		staticLoader(scoreRunner(0.5), identityScaler("a")), testLogger())

	res := det.Predict(&FeatureVector{Columns: []string{"a"}, Rows: [][]float64{{1}, {2}}})

	assert.Equal(t, VerdictError, res.Verdict)
	assert.Equal(t, "Error during prediction: model returned 1 scores for 2 rows", res.Explanation)
}

func TestAutoencoderPerfectReconstructionIsNormal(t *testing.T) {
	model, scaler := writeArtifactPair(t)
	det := NewAutoencoderDetector(model, scaler, 0.1,
		staticLoader(echoRunner(), identityScaler("a", "b")), testLogger())

	res := det.Predict(&FeatureVector{Columns: []string{"a", "b"}, Rows: [][]float64{{0.2, 0.4}}})

	assert.Equal(t, VerdictNormal, res.Verdict)
	assert.Equal(t, "Autoencoder", res.ModelType)
	assert.Equal(t, "Autoencoder average MSE: 0.000000. Threshold: 0.100000. MSE within threshold, indicating normal behavior.", res.Explanation)
}

func TestAutoencoderHighReconstructionErrorIsAnomalous(t *testing.T) {
	model, scaler := writeArtifactPair(t)
	det := NewAutoencoderDetector(model, scaler, 0.1,
		staticLoader(zeroRunner(), identityScaler("a", "b")), testLogger())

	// Inputs of 1.0 reconstructed as 0.0 give a per-row MSE of exactly 1.
	res := det.Predict(&FeatureVector{Columns: []string{"a", "b"}, Rows: [][]float64{{1, 1}, {1, 1}}})

	assert.Equal(t, VerdictAnomaly, res.Verdict)
	assert.InDelta(t, 1.0, res.Score, 1e-6)
	assert.Equal(t, "Autoencoder average MSE: 1.000000. Threshold: 0.100000. MSE exceeds threshold, indicating potential anomaly.", res.Explanation)
}

func TestAutoencoderWithoutArtifactReportsError(t *testing.T) {
	det := NewAutoencoderDetector("/missing/model.onnx", "/missing/scaler.json", 0.1,
		staticLoader(echoRunner(), identityScaler("a")), testLogger())

	res := det.Predict(&FeatureVector{Columns: []string{"a"}, Rows: [][]float64{{1}}})

	assert.Equal(t, VerdictError, res.Verdict)
	assert.Equal(t, "AE Model/scaler not loaded.", res.Explanation)
	assert.Equal(t, "Autoencoder", res.ModelType)
}

func TestLSTMSequenceReconstruction(t *testing.T) {
	model, scaler := writeArtifactPair(t)
	det := NewLSTMDetector(model, scaler, 0.2, 2,
		staticLoader(zeroRunner(), identityScaler("v")), testLogger())

	// Three rows and two timesteps: one full window, the tail row dropped.
	res := det.Predict(&FeatureVector{Columns: []string{"v"}, Rows: [][]float64{{1}, {1}, {1}}})

	assert.Equal(t, VerdictAnomaly, res.Verdict)
	assert.Equal(t, "LSTM", res.ModelType)
	assert.InDelta(t, 1.0, res.Score, 1e-6)
	assert.Equal(t, "LSTM average sequence MSE: 1.000000. Threshold: 0.200000. MSE exceeds threshold, indicating potential anomaly in temporal patterns.", res.Explanation)
}

func TestLSTMNormalSequences(t *testing.T) {
	model, scaler := writeArtifactPair(t)
	det := NewLSTMDetector(model, scaler, 0.2, 2,
		staticLoader(echoRunner(), identityScaler("v")), testLogger())

	res := det.Predict(&FeatureVector{Columns: []string{"v"}, Rows: [][]float64{{0.3}, {0.6}}})

	assert.Equal(t, VerdictNormal, res.Verdict)
	assert.Equal(t, "LSTM average sequence MSE: 0.000000. Threshold: 0.200000. MSE within threshold, indicating normal temporal patterns.", res.Explanation)
}

func TestLSTMRequiresOneFullWindow(t *testing.T) {
	model, scaler := writeArtifactPair(t)
	det := NewLSTMDetector(model, scaler, 0.2, 5,
		staticLoader(echoRunner(), identityScaler("v")), testLogger())

	res := det.Predict(&FeatureVector{Columns: []string{"v"}, Rows: [][]float64{{1}, {2}, {3}}})

	assert.Equal(t, VerdictError, res.Verdict)
	assert.Equal(t, "Not enough data for sequences: need at least 5 rows, got 3.", res.Explanation)
	assert.Equal(t, "LSTM", res.ModelType)
}

func TestLSTMFeedsWholeWindowsOnly(t *testing.T) {
	model, scaler := writeArtifactPair(t)
	var gotLen int
	var gotShape []int64
	runner := &stubRunner{run: func(input []float32, inputShape, _ []int64) ([]float32, error) {
		gotLen = len(input)
		gotShape = append([]int64(nil), inputShape...)
		out := make([]float32, len(input))
		copy(out, input)
		return out, nil
	}}
	det := NewLSTMDetector(model, scaler, 0.2, 2,
		staticLoader(runner, identityScaler("v")), testLogger())

	res := det.Predict(&FeatureVector{Columns: []string{"v"}, Rows: [][]float64{{1}, {2}, {3}, {4}, {5}}})

	require.Equal(t, VerdictNormal, res.Verdict)
	assert.Equal(t, 4, gotLen)
	assert.Equal(t, []int64{2, 2, 1}, gotShape)
}

func TestLSTMWithoutArtifactReportsError(t *testing.T) {
	det := NewLSTMDetector("/missing/model.onnx", "/missing/scaler.json", 0.2, 2,
		staticLoader(echoRunner(), identityScaler("v")), testLogger())

	res := det.Predict(&FeatureVector{Columns: []string{"v"}, Rows: [][]float64{{1}, {2}}})

	assert.Equal(t, VerdictError, res.Verdict)
	assert.Equal(t, "LSTM Model/scaler not loaded.", res.Explanation)
}

func TestLSTMDefaultTimesteps(t *testing.T) {
	model, scaler := writeArtifactPair(t)
	det := NewLSTMDetector(model, scaler, 0.2, 0,
		staticLoader(echoRunner(), identityScaler("v")), testLogger())
	assert.Equal(t, defaultLSTMTimesteps, det.timesteps)
}

func TestDetectorNames(t *testing.T) {
	model, scaler := writeArtifactPair(t)
	load := staticLoader(echoRunner(), identityScaler("v"))
	assert.Equal(t, "IsolationForest", NewIsolationForestDetector(model, scaler, 0, load, testLogger()).Name())
	assert.Equal(t, "Autoencoder", NewAutoencoderDetector(model, scaler, 0, load, testLogger()).Name())
	assert.Equal(t, "LSTM", NewLSTMDetector(model, scaler, 0, 2, load, testLogger()).Name())
}

package zerohack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScalerFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scaler.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFeatureScaler(t *testing.T) {
	path := writeScalerFile(t, `{"columns":["dest_port","pkt_rate"],"min":[0,10],"max":[65535,110]}`)

	sc, err := loadFeatureScaler(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"dest_port", "pkt_rate"}, sc.Columns)
	assert.Equal(t, []float64{0, 10}, sc.Min)
	assert.Equal(t, []float64{65535, 110}, sc.Max)
}

func TestLoadFeatureScalerRejectsBrokenFiles(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{"invalid json", `{"columns":`, "parse scaler"},
		{"no columns", `{"columns":[],"min":[],"max":[]}`, "defines no columns"},
		{"length mismatch", `{"columns":["a","b"],"min":[0],"max":[1,2]}`, "min/max length"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadFeatureScaler(writeScalerFile(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadFeatureScalerMissingFile(t *testing.T) {
	_, err := loadFeatureScaler(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestScalerTransformScalesAndReorders(t *testing.T) {
	sc := &featureScaler{
		Columns: []string{"pkt_rate", "dest_port"},
		Min:     []float64{10, 0},
		Max:     []float64{110, 65535},
	}
	fv := &FeatureVector{
		Columns: []string{"dest_port", "pkt_rate"},
		Rows:    [][]float64{{443, 60}},
	}

	scaled, err := sc.Transform(fv)
	require.NoError(t, err)
	require.Len(t, scaled, 1)
	// Scaler column order wins: pkt_rate first, then dest_port.
	assert.InDelta(t, 0.5, scaled[0][0], 1e-6)
	assert.InDelta(t, 443.0/65535.0, scaled[0][1], 1e-6)
}

func TestScalerTransformZeroSpanMapsToZero(t *testing.T) {
	sc := &featureScaler{Columns: []string{"constant"}, Min: []float64{7}, Max: []float64{7}}
	fv := &FeatureVector{Columns: []string{"constant"}, Rows: [][]float64{{7}, {9}}}

	scaled, err := sc.Transform(fv)
	require.NoError(t, err)
	assert.Equal(t, float32(0), scaled[0][0])
	assert.Equal(t, float32(0), scaled[1][0])
}

func TestScalerTransformRequiresEveryColumn(t *testing.T) {
	sc := identityScaler("dest_port", "absent")
	fv := &FeatureVector{Columns: []string{"dest_port"}, Rows: [][]float64{{22}}}

	_, err := sc.Transform(fv)
	require.Error(t, err)
	assert.EqualError(t, err, `feature "absent" missing from input`)
}

package zerohack

import (
	"encoding/json"
	"fmt"
	"os"
)

// featureScaler holds the min-max parameters exported at training time.
// Columns fixes both the expected feature set and its order; scoring input
// must cover every listed column.
type featureScaler struct {
	Columns []string  `json:"columns"`
	Min     []float64 `json:"min"`
	Max     []float64 `json:"max"`
}

func loadFeatureScaler(path string) (*featureScaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc featureScaler
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scaler %s: %w", path, err)
	}
	if len(sc.Columns) == 0 {
		return nil, fmt.Errorf("scaler %s defines no columns", path)
	}
	if len(sc.Min) != len(sc.Columns) || len(sc.Max) != len(sc.Columns) {
		return nil, fmt.Errorf("scaler %s min/max length does not match columns", path)
	}
	return &sc, nil
}

// Transform selects the scaler's columns from the feature table, in scaler
// order, and min-max scales them into model input rows. Columns with zero
// training range map to 0.
func (sc *featureScaler) Transform(fv *FeatureVector) ([][]float32, error) {
	index := make(map[string]int, len(fv.Columns))
	for i, name := range fv.Columns {
		index[name] = i
	}
	positions := make([]int, len(sc.Columns))
	for i, name := range sc.Columns {
		pos, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("feature %q missing from input", name)
		}
		positions[i] = pos
	}

	out := make([][]float32, len(fv.Rows))
	for r, row := range fv.Rows {
		scaled := make([]float32, len(sc.Columns))
		for i, pos := range positions {
			span := sc.Max[i] - sc.Min[i]
			if span > 0 {
				scaled[i] = float32((row[pos] - sc.Min[i]) / span)
			}
		}
		out[r] = scaled
	}
	return out, nil
}

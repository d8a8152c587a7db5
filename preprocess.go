package zerohack

import (
	"math"
	"sort"
)

// FeatureVector is the numeric view of a session: one row per surviving
// event over a shared, ordered column set.
type FeatureVector struct {
	Columns []string
	Rows    [][]float64
}

// Empty reports whether no rows survived preprocessing.
func (fv *FeatureVector) Empty() bool { return fv == nil || len(fv.Rows) == 0 }

// FeaturePreprocessor derives model input from raw sessions. It is
// stateless; scaling belongs to each detector's artifact.
type FeaturePreprocessor struct{}

func NewFeaturePreprocessor() *FeaturePreprocessor { return &FeaturePreprocessor{} }

// Transform builds the feature table for a session. dest_port is carried as
// a regular numeric column, non-numeric fields are ignored, and a row missing
// one of the shared columns or holding NaN/Inf is dropped whole. Zero
// surviving rows is not an error; downstream channels report skipped.
func (p *FeaturePreprocessor) Transform(session Session) (*FeatureVector, error) {
	if len(session) == 0 {
		return nil, ErrEmptySession
	}

	nameSet := make(map[string]struct{})
	for _, ev := range session {
		for name := range ev.Features {
			nameSet[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)

	columns := make([]string, 0, len(names)+1)
	columns = append(columns, "dest_port")
	columns = append(columns, names...)

	rows := make([][]float64, 0, len(session))
	for _, ev := range session {
		row := make([]float64, 0, len(columns))
		row = append(row, float64(ev.DestPort))
		valid := true
		for _, name := range names {
			val, ok := ev.Features[name]
			if !ok || math.IsNaN(val) || math.IsInf(val, 0) {
				valid = false
				break
			}
			row = append(row, val)
		}
		if valid {
			rows = append(rows, row)
		}
	}

	return &FeatureVector{Columns: columns, Rows: rows}, nil
}

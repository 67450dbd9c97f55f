package export

import (
	"math"

	"omicscore/internal/join"
	"omicscore/internal/table"
)

// Sample is one training example: a numeric feature vector and its label.
type Sample struct {
	Features []float64
	Label    any
}

// SampleSequence is a finite, restartable iterator of samples over a joined
// dataset. Feature vectors are computed per Next call from the underlying
// columns, so iterating does not copy the dataset. A full pass visits every
// row once, in table order; Reset rewinds to the start.
type SampleSequence struct {
	features []table.Column
	label    table.Column
	rows     int
	pos      int
}

// ToSampleSequence prepares a sample iterator. Every feature column must be
// numeric; the label column may be any type. Null feature cells become NaN
// so row alignment with the source dataset is preserved.
func ToSampleSequence(ds *join.Dataset, featureColumns []string, labelColumn string) (*SampleSequence, error) {
	if ds == nil || ds.Table == nil {
		return nil, &table.SchemaError{Table: "", Reason: "nothing to export"}
	}
	t := ds.Table
	seq := &SampleSequence{rows: t.Len()}
	for _, name := range featureColumns {
		col, ok := t.Column(name)
		if !ok {
			return nil, &table.SchemaError{Table: t.Name(), Column: name, Reason: "feature column absent"}
		}
		if col.Type != table.TypeNumeric {
			return nil, &table.SchemaError{Table: t.Name(), Column: name, Reason: "feature column must be numeric"}
		}
		seq.features = append(seq.features, col)
	}
	col, ok := t.Column(labelColumn)
	if !ok {
		return nil, &table.SchemaError{Table: t.Name(), Column: labelColumn, Reason: "label column absent"}
	}
	seq.label = col
	return seq, nil
}

// Len returns the total number of samples in one full pass.
func (s *SampleSequence) Len() int { return s.rows }

// Next returns the next sample, or ok=false once the pass is exhausted.
func (s *SampleSequence) Next() (Sample, bool) {
	if s.pos >= s.rows {
		return Sample{}, false
	}
	r := s.pos
	s.pos++
	features := make([]float64, len(s.features))
	for i, col := range s.features {
		if v := col.Values[r]; v != nil {
			features[i] = v.(float64)
		} else {
			features[i] = math.NaN()
		}
	}
	return Sample{Features: features, Label: s.label.Values[r]}, true
}

// Reset rewinds the sequence so it can be iterated again from the start.
func (s *SampleSequence) Reset() { s.pos = 0 }

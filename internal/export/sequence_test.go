package export

import (
	"math"
	"testing"

	"omicscore/internal/join"
	"omicscore/internal/table"
)

func featureDataset(t *testing.T) *join.Dataset {
	t.Helper()
	tbl, err := table.New("training", []table.Column{
		{Name: "gene", Type: table.TypeString, Values: []any{"A", "B", "C"}},
		{Name: "tpm", Type: table.TypeNumeric, Values: []any{1.0, 2.0, nil}},
		{Name: "cnv", Type: table.TypeNumeric, Values: []any{0.1, 0.2, 0.3}},
		{Name: "label", Type: table.TypeCategorical, Values: []any{"tumor", "normal", "tumor"}},
	}, "gene")
	if err != nil {
		t.Fatalf("table.New: %v", err)
	}
	return &join.Dataset{Table: tbl, RowsAfter: tbl.Len()}
}

func TestSampleSequenceIsFiniteAndRestartable(t *testing.T) {
	seq, err := ToSampleSequence(featureDataset(t), []string{"tpm", "cnv"}, "label")
	if err != nil {
		t.Fatalf("ToSampleSequence: %v", err)
	}
	if seq.Len() != 3 {
		t.Fatalf("Len = %d", seq.Len())
	}

	collect := func() []Sample {
		var out []Sample
		for {
			s, ok := seq.Next()
			if !ok {
				break
			}
			out = append(out, s)
		}
		return out
	}

	first := collect()
	if len(first) != 3 {
		t.Fatalf("first pass = %d samples", len(first))
	}
	if first[0].Features[0] != 1.0 || first[0].Features[1] != 0.1 || first[0].Label != "tumor" {
		t.Fatalf("sample 0 = %+v", first[0])
	}
	if !math.IsNaN(first[2].Features[0]) {
		t.Fatalf("null feature = %v, want NaN", first[2].Features[0])
	}

	// exhausted until reset
	if _, ok := seq.Next(); ok {
		t.Fatalf("sequence yielded past the end")
	}
	seq.Reset()
	second := collect()
	if len(second) != 3 {
		t.Fatalf("second pass = %d samples", len(second))
	}
	if second[1].Label != first[1].Label || second[1].Features[0] != first[1].Features[0] {
		t.Fatalf("re-iteration differs: %+v vs %+v", second[1], first[1])
	}
}

func TestSampleSequenceValidatesColumns(t *testing.T) {
	ds := featureDataset(t)
	if _, err := ToSampleSequence(ds, []string{"gene"}, "label"); err == nil {
		t.Fatalf("non-numeric feature column accepted")
	}
	if _, err := ToSampleSequence(ds, []string{"tpm"}, "absent"); err == nil {
		t.Fatalf("unknown label column accepted")
	}
	if _, err := ToSampleSequence(ds, []string{"absent"}, "label"); err == nil {
		t.Fatalf("unknown feature column accepted")
	}
}

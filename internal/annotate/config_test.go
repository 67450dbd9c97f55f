package annotate

import (
	"strings"
	"testing"

	"omicscore/pkg/identifier"
)

func TestLoadAdapters(t *testing.T) {
	cfg := `[
	  {
	    "database": "string",
	    "relation": "protein-protein",
	    "columns": {"subject": "protein1", "object": "protein2", "score": "combined_score"},
	    "subject_namespace": "protein_uniprot",
	    "object_namespace": "protein_uniprot",
	    "target_namespace": "gene_ensembl",
	    "min_score": 700
	  }
	]`
	adapters, err := LoadAdapters(strings.NewReader(cfg))
	if err != nil {
		t.Fatalf("LoadAdapters: %v", err)
	}
	if len(adapters) != 1 {
		t.Fatalf("adapters = %d, want 1", len(adapters))
	}
	a := adapters[0]
	if a.Database != "string" || a.Relation != ProteinProtein {
		t.Fatalf("adapter = %+v", a)
	}
	if a.TargetNamespace != identifier.GeneEnsembl {
		t.Fatalf("target namespace = %s", a.TargetNamespace)
	}
	if a.MinScore == nil || *a.MinScore != 700 {
		t.Fatalf("min_score = %v", a.MinScore)
	}
}

func TestLoadAdaptersRejectsUnknownFields(t *testing.T) {
	cfg := `[{"database": "x", "relation": "gene-gene", "typo_field": true}]`
	if _, err := LoadAdapters(strings.NewReader(cfg)); err == nil {
		t.Fatalf("unknown field accepted")
	}
}

func TestLoadAdaptersValidates(t *testing.T) {
	cfg := `[{"database": "x", "relation": "gene-gene", "columns": {"subject": "a"}}]`
	if _, err := LoadAdapters(strings.NewReader(cfg)); err == nil {
		t.Fatalf("invalid adapter accepted")
	}
}

func TestRecordsTable(t *testing.T) {
	score := 0.8
	records := []Record{
		{Subject: "ENSG1", Object: "OMIM:1", Relation: GeneDisease, Database: "disgenet", Score: &score, Attrs: map[string]any{"source": "curated"}},
		{Subject: "ENSG1", Object: "OMIM:2", Relation: GeneDisease, Database: "disgenet"},
	}
	tbl, err := RecordsTable("disgenet", records)
	if err != nil {
		t.Fatalf("RecordsTable: %v", err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tbl.Len())
	}
	cols := tbl.Columns()
	want := []string{ColSubject, ColObject, ColRelation, ColDatabase, ColScore, "source"}
	if len(cols) != len(want) {
		t.Fatalf("columns = %v, want %v", cols, want)
	}
	for i := range cols {
		if cols[i] != want[i] {
			t.Fatalf("columns = %v, want %v", cols, want)
		}
	}
	if v, _ := tbl.Value(0, ColScore); v.(float64) != 0.8 {
		t.Fatalf("score = %v", v)
	}
	if v, _ := tbl.Value(1, ColScore); v != nil {
		t.Fatalf("nil score = %v, want null", v)
	}
	// both rows share the subject key, so they are multi-valued
	keys := tbl.IndexKeys()
	if len(keys) != 1 || !keys[0].MultiValued {
		t.Fatalf("IndexKeys = %+v", keys)
	}
}

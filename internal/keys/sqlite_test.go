package keys

import (
	"context"
	"path/filepath"
	"testing"

	"omicscore/pkg/identifier"
)

func newSQLiteSource(t *testing.T) *SQLiteSource {
	t.Helper()
	src, err := NewSQLiteSource(filepath.Join(t.TempDir(), "synonyms.db"))
	if err != nil {
		t.Fatalf("NewSQLiteSource: %v", err)
	}
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestSQLiteSourceLookup(t *testing.T) {
	src := newSQLiteSource(t)
	ctx := context.Background()
	id := identifier.New(identifier.GeneSymbol, "TP53")
	if err := src.Add(ctx, id, "ENSG00000141510"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// duplicate relation is ignored
	if err := src.Add(ctx, id, "ENSG00000141510", "ENSG00000999999"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	keys, err := src.Lookup(ctx, id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	want := []string{"ENSG00000141510", "ENSG00000999999"}
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Fatalf("Lookup = %v, want %v", keys, want)
	}

	folded, err := src.LookupFold(ctx, identifier.New(identifier.GeneSymbol, "tp53"))
	if err != nil {
		t.Fatalf("LookupFold: %v", err)
	}
	if len(folded) != 2 {
		t.Fatalf("LookupFold = %v", folded)
	}

	miss, err := src.Lookup(ctx, identifier.New(identifier.GeneSymbol, "NOPE"))
	if err != nil {
		t.Fatalf("Lookup miss: %v", err)
	}
	if len(miss) != 0 {
		t.Fatalf("miss = %v", miss)
	}
}

func TestSQLiteSourceImport(t *testing.T) {
	mem := NewMemorySource()
	mem.Add(identifier.New(identifier.GeneSymbol, "BRCA1"), "ENSG00000012048")
	mem.Add(identifier.New(identifier.GeneSymbol, "EGFR"), "ENSG00000146648")

	src := newSQLiteSource(t)
	ctx := context.Background()
	if err := src.Import(ctx, mem); err != nil {
		t.Fatalf("Import: %v", err)
	}

	r := NewResolver()
	if err := r.RegisterSource(identifier.GeneEnsembl, src); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}
	keys, _, err := r.Resolve(ctx, identifier.GeneEnsembl, identifier.New(identifier.GeneSymbol, "BRCA1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(keys) != 1 || keys[0] != "ENSG00000012048" {
		t.Fatalf("Resolve = %v", keys)
	}
}

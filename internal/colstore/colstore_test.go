package colstore

import (
	"context"
	"errors"
	"testing"

	"omicscore/internal/blob"
	"omicscore/internal/catalog"
	"omicscore/internal/join"
	"omicscore/internal/table"
)

func sampleDataset(t *testing.T, name string, keys []any, scores []any) *join.Dataset {
	t.Helper()
	tbl, err := table.New(name, []table.Column{
		{Name: "gene", Type: table.TypeString, Values: keys},
		{Name: "score", Type: table.TypeNumeric, Values: scores},
	}, "gene")
	if err != nil {
		t.Fatalf("table.New: %v", err)
	}
	return &join.Dataset{
		Table: tbl,
		Provenance: []join.Provenance{
			{Column: "gene", Source: name},
			{Column: "score", Source: name},
		},
		JoinType:   join.Inner,
		RowsBefore: map[string]int{name: tbl.Len()},
		RowsAfter:  tbl.Len(),
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New(blob.NewMemory())
	ds := sampleDataset(t, "omics", []any{"TP53", "BRCA1", "TP53"}, []any{1.5, nil, 3.0})

	if err := store.Write(ctx, "integrated", ds, "chr17"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	view, err := store.Read(ctx, "integrated", Partitions("chr17"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if view.Rows() != 3 {
		t.Fatalf("view rows = %d", view.Rows())
	}
	got, err := view.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got.Table.Len() != ds.Table.Len() {
		t.Fatalf("round trip rows = %d, want %d", got.Table.Len(), ds.Table.Len())
	}
	for r := 0; r < ds.Table.Len(); r++ {
		for _, col := range ds.Table.Columns() {
			want, _ := ds.Table.Value(r, col)
			have, _ := got.Table.Value(r, col)
			if want != have {
				t.Fatalf("row %d column %s = %v, want %v", r, col, have, want)
			}
		}
		if got.Table.Flags(r) != ds.Table.Flags(r) {
			t.Fatalf("row %d flags = %v, want %v", r, got.Table.Flags(r), ds.Table.Flags(r))
		}
	}
	if got.JoinType != join.Inner {
		t.Fatalf("join type = %s", got.JoinType)
	}
	if len(got.Provenance) != 2 {
		t.Fatalf("provenance = %v", got.Provenance)
	}
}

func TestSchemaConflictLeavesPartitionUnmodified(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	store := New(blobs)
	ds := sampleDataset(t, "omics", []any{"TP53"}, []any{1.0})
	if err := store.Write(ctx, "integrated", ds, "p1"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	before, err := blobs.List(ctx, "integrated/p1/manifest-")
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	// same column names, changed type
	changedTbl, err := table.New("omics", []table.Column{
		{Name: "gene", Type: table.TypeString, Values: []any{"TP53"}},
		{Name: "score", Type: table.TypeString, Values: []any{"high"}},
	}, "gene")
	if err != nil {
		t.Fatalf("table.New: %v", err)
	}
	changed := &join.Dataset{Table: changedTbl, RowsAfter: 1}

	err = store.Write(ctx, "integrated", changed, "p1")
	var conflict *SchemaConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected SchemaConflictError, got %v", err)
	}
	if conflict.Column != "score" {
		t.Fatalf("conflict names column %q", conflict.Column)
	}

	after, err := blobs.List(ctx, "integrated/p1/manifest-")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("failed write committed a manifest: %d -> %d", len(before), len(after))
	}
	view, err := store.Read(ctx, "integrated", nil)
	if err != nil {
		t.Fatalf("Read after conflict: %v", err)
	}
	got, err := view.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect after conflict: %v", err)
	}
	if got.Table.Len() != 1 {
		t.Fatalf("partition modified: %d rows", got.Table.Len())
	}
	if v, _ := got.Table.Value(0, "score"); v.(float64) != 1.0 {
		t.Fatalf("partition data changed: %v", v)
	}
}

func TestAppendSegmentsOnSchemaMatch(t *testing.T) {
	ctx := context.Background()
	store := New(blob.NewMemory())
	if err := store.Write(ctx, "d", sampleDataset(t, "omics", []any{"A"}, []any{1.0}), "p"); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if err := store.Write(ctx, "d", sampleDataset(t, "omics", []any{"B"}, []any{2.0}), "p"); err != nil {
		t.Fatalf("append Write: %v", err)
	}
	view, err := store.Read(ctx, "d", nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got, err := view.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got.Table.Len() != 2 {
		t.Fatalf("appended rows = %d, want 2", got.Table.Len())
	}
	genes := []string{}
	for r := 0; r < 2; r++ {
		v, _ := got.Table.Value(r, "gene")
		genes = append(genes, v.(string))
	}
	if genes[0] != "A" || genes[1] != "B" {
		t.Fatalf("segment order = %v", genes)
	}
}

func TestPartitionPruning(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemory()
	store := New(blob.NewMemory(), WithCatalog(cat))
	for _, p := range []string{"chr1", "chr2", "chr3"} {
		if err := store.Write(ctx, "d", sampleDataset(t, "omics", []any{"G_" + p}, []any{1.0}), p); err != nil {
			t.Fatalf("Write %s: %v", p, err)
		}
	}

	view, err := store.Read(ctx, "d", Partitions("chr2"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if parts := view.Partitions(); len(parts) != 1 || parts[0] != "chr2" {
		t.Fatalf("Partitions = %v", parts)
	}
	got, err := view.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if v, _ := got.Table.Value(0, "gene"); v != "G_chr2" {
		t.Fatalf("pruned read returned %v", v)
	}

	if _, err := store.Read(ctx, "d", Partitions("chr9")); !errors.Is(err, ErrNoPartitions) {
		t.Fatalf("empty selection error = %v", err)
	}

	entries, err := cat.Partitions(ctx, "d")
	if err != nil || len(entries) != 3 {
		t.Fatalf("catalog entries = %v, %v", entries, err)
	}
	if entries[0].Fingerprint == "" || entries[0].Fingerprint != entries[1].Fingerprint {
		t.Fatalf("fingerprints not recorded consistently: %+v", entries)
	}
}

func TestCatalogRejectsConflictBeforeBlobAccess(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemory()
	store := New(blob.NewMemory(), WithCatalog(cat))
	if err := store.Write(ctx, "d", sampleDataset(t, "omics", []any{"A"}, []any{1.0}), "p"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	changedTbl, err := table.New("omics", []table.Column{
		{Name: "gene", Type: table.TypeString, Values: []any{"A"}},
		{Name: "score", Type: table.TypeString, Values: []any{"high"}},
	}, "gene")
	if err != nil {
		t.Fatalf("table.New: %v", err)
	}
	err = store.Write(ctx, "d", &join.Dataset{Table: changedTbl, RowsAfter: 1}, "p")
	var conflict *SchemaConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected SchemaConflictError, got %v", err)
	}
	if conflict.Existing == "" || conflict.Existing == conflict.Incoming {
		t.Fatalf("fingerprints not reported: %+v", conflict)
	}
}

func TestCollectColumnSubset(t *testing.T) {
	ctx := context.Background()
	store := New(blob.NewMemory())
	if err := store.Write(ctx, "d", sampleDataset(t, "omics", []any{"A"}, []any{1.0}), "p"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	view, err := store.Read(ctx, "d", nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got, err := view.Collect(ctx, "score")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	cols := got.Table.Columns()
	if len(cols) != 2 || cols[0] != "gene" || cols[1] != "score" {
		t.Fatalf("columns = %v", cols)
	}

	if _, err := view.Collect(ctx, "absent"); err == nil {
		t.Fatalf("unknown column accepted")
	}
}

func TestWriteValidatesNames(t *testing.T) {
	ctx := context.Background()
	store := New(blob.NewMemory())
	ds := sampleDataset(t, "omics", []any{"A"}, []any{1.0})
	if err := store.Write(ctx, "bad/name", ds, "p"); err == nil {
		t.Fatalf("dataset name with slash accepted")
	}
	if err := store.Write(ctx, "d", ds, "../p"); err == nil {
		t.Fatalf("partition traversal accepted")
	}
	if err := store.Write(ctx, "d", nil, "p"); err == nil {
		t.Fatalf("nil dataset accepted")
	}
}

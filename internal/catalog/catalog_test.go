package catalog

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCatalog(t *testing.T) {
	ctx := context.Background()
	cat := NewMemory()

	if err := cat.RecordPartition(ctx, Entry{Dataset: "omics", Partition: "p2", Rows: 5, Fingerprint: "f1", UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("RecordPartition: %v", err)
	}
	if err := cat.RecordPartition(ctx, Entry{Dataset: "omics", Partition: "p1", Rows: 3, Fingerprint: "f1", UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("RecordPartition: %v", err)
	}

	entries, err := cat.Partitions(ctx, "omics")
	if err != nil {
		t.Fatalf("Partitions: %v", err)
	}
	if len(entries) != 2 || entries[0].Partition != "p1" || entries[1].Partition != "p2" {
		t.Fatalf("Partitions = %+v", entries)
	}

	e, ok, err := cat.Lookup(ctx, "omics", "p2")
	if err != nil || !ok {
		t.Fatalf("Lookup = %v, %v", ok, err)
	}
	if e.Rows != 5 {
		t.Fatalf("entry = %+v", e)
	}

	// upsert replaces the entry
	if err := cat.RecordPartition(ctx, Entry{Dataset: "omics", Partition: "p2", Rows: 9, Fingerprint: "f1"}); err != nil {
		t.Fatalf("RecordPartition: %v", err)
	}
	e, _, _ = cat.Lookup(ctx, "omics", "p2")
	if e.Rows != 9 {
		t.Fatalf("upsert kept rows = %d", e.Rows)
	}

	if _, ok, _ := cat.Lookup(ctx, "omics", "missing"); ok {
		t.Fatalf("missing partition reported present")
	}
	if entries, _ := cat.Partitions(ctx, "unknown"); len(entries) != 0 {
		t.Fatalf("unknown dataset has entries: %v", entries)
	}
}

// Package catalog tracks persisted datasets: which partitions exist, how
// many rows they hold, and the fingerprint of their schema. The columnar
// store consults it for pruning and conflict checks without touching
// artifact blobs.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry describes one persisted partition.
type Entry struct {
	Dataset     string    `json:"dataset"`
	Partition   string    `json:"partition"`
	Rows        int       `json:"rows"`
	Fingerprint string    `json:"fingerprint"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Catalog is the partition registry interface.
type Catalog interface {
	// RecordPartition upserts the entry for (dataset, partition).
	RecordPartition(ctx context.Context, e Entry) error
	// Partitions lists entries of a dataset, partition ascending.
	Partitions(ctx context.Context, dataset string) ([]Entry, error)
	// Lookup returns the entry for (dataset, partition) if recorded.
	Lookup(ctx context.Context, dataset, partition string) (Entry, bool, error)
}

// Memory is an in-process catalog for tests and single-run pipelines.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]map[string]Entry
}

// NewMemory returns an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]map[string]Entry)}
}

func (m *Memory) RecordPartition(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[e.Dataset] == nil {
		m.entries[e.Dataset] = make(map[string]Entry)
	}
	m.entries[e.Dataset][e.Partition] = e
	return nil
}

func (m *Memory) Partitions(_ context.Context, dataset string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []Entry
	for _, e := range m.entries[dataset] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Partition < entries[j].Partition })
	return entries, nil
}

func (m *Memory) Lookup(_ context.Context, dataset, partition string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[dataset][partition]
	return e, ok, nil
}

var _ Catalog = (*Memory)(nil)

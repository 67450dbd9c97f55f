// Package keys maps heterogeneous raw identifiers onto a shared canonical
// namespace. Resolution is exact-match first against a synonym source, then
// a fixed-priority chain of fallback strategies; the first strategy that
// yields a mapping wins. One raw identifier may map to several canonical
// keys, which expands table rows rather than failing.
package keys

import (
	"context"
	"sort"
	"strings"
	"sync"

	"omicscore/internal/table"
	"omicscore/pkg/identifier"
)

// SynonymSource answers exact lookups from a raw identifier to the canonical
// keys it is a synonym of. Implementations must be safe for concurrent reads.
type SynonymSource interface {
	Lookup(ctx context.Context, id identifier.Identifier) ([]string, error)
}

// FoldedLookup is an optional SynonymSource capability for case-insensitive
// matching. Sources that cannot fold are probed with case variants instead.
type FoldedLookup interface {
	LookupFold(ctx context.Context, id identifier.Identifier) ([]string, error)
}

// Entry is one raw-to-canonical synonym relation.
type Entry struct {
	ID        identifier.Identifier
	Canonical string
}

// MemorySource is an in-memory synonym table. Reads are lock-free after the
// table is built; Add may not race with lookups for the same namespace
// (single-writer discipline per namespace per run).
type MemorySource struct {
	mu     sync.RWMutex
	exact  map[identifier.Identifier][]string
	folded map[identifier.Identifier][]string
}

// NewMemorySource returns an empty in-memory synonym source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		exact:  make(map[identifier.Identifier][]string),
		folded: make(map[identifier.Identifier][]string),
	}
}

// Add registers canonical keys as targets of the raw identifier.
func (s *MemorySource) Add(id identifier.Identifier, canonical ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fold := identifier.New(id.Namespace, strings.ToLower(id.Value))
	for _, c := range canonical {
		if c == "" {
			continue
		}
		if !contains(s.exact[id], c) {
			s.exact[id] = append(s.exact[id], c)
		}
		if !contains(s.folded[fold], c) {
			s.folded[fold] = append(s.folded[fold], c)
		}
	}
	sort.Strings(s.exact[id])
	sort.Strings(s.folded[fold])
}

// Lookup returns the canonical keys the identifier maps to, sorted.
func (s *MemorySource) Lookup(_ context.Context, id identifier.Identifier) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.exact[id]...), nil
}

// LookupFold matches the identifier value case-insensitively.
func (s *MemorySource) LookupFold(_ context.Context, id identifier.Identifier) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fold := identifier.New(id.Namespace, strings.ToLower(id.Value))
	return append([]string(nil), s.folded[fold]...), nil
}

// Entries snapshots the synonym table, sorted by raw identifier then key.
func (s *MemorySource) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []Entry
	for id, canonicals := range s.exact {
		for _, c := range canonicals {
			entries = append(entries, Entry{ID: id, Canonical: c})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ID != entries[j].ID {
			if entries[i].ID.Namespace != entries[j].ID.Namespace {
				return entries[i].ID.Namespace < entries[j].ID.Namespace
			}
			return entries[i].ID.Value < entries[j].ID.Value
		}
		return entries[i].Canonical < entries[j].Canonical
	})
	return entries
}

// LoadSynonymsFromTable builds a synonym source from two columns of an
// annotation table, the shape external databases publish rename dictionaries
// in. Rows with a null on either side are skipped; repeated raw values
// accumulate as one-to-many mappings.
func LoadSynonymsFromTable(t *table.Table, rawColumn, canonicalColumn string, ns identifier.Namespace) (*MemorySource, error) {
	if _, ok := t.Column(rawColumn); !ok {
		return nil, &table.SchemaError{Table: t.Name(), Column: rawColumn, Reason: "synonym raw column absent"}
	}
	if _, ok := t.Column(canonicalColumn); !ok {
		return nil, &table.SchemaError{Table: t.Name(), Column: canonicalColumn, Reason: "synonym canonical column absent"}
	}
	src := NewMemorySource()
	for r := 0; r < t.Len(); r++ {
		raw, _ := t.Value(r, rawColumn)
		canonical, _ := t.Value(r, canonicalColumn)
		rs, ok := raw.(string)
		if !ok || rs == "" {
			continue
		}
		cs, ok := canonical.(string)
		if !ok || cs == "" {
			continue
		}
		src.Add(identifier.New(ns, rs), cs)
	}
	return src, nil
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

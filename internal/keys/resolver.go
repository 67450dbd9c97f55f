package keys

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"omicscore/internal/table"
	"omicscore/pkg/identifier"
)

// UnresolvedKeyError reports identifiers that failed strict-mode resolution.
type UnresolvedKeyError struct {
	Table     string
	Namespace identifier.Namespace
	Keys      []string
}

func (e *UnresolvedKeyError) Error() string {
	keys := e.Keys
	suffix := ""
	if len(keys) > 5 {
		keys = keys[:5]
		suffix = ", ..."
	}
	return fmt.Sprintf("table %s: %d identifiers unresolved in namespace %s: %s%s",
		e.Table, len(e.Keys), e.Namespace, strings.Join(keys, ", "), suffix)
}

// Mapping records how one table's raw identifiers mapped onto a canonical
// namespace: per-raw-value canonical keys, the strategy that produced each
// mapping ("" for exact), and the raw values left unresolved.
type Mapping struct {
	Source     identifier.Namespace
	Target     identifier.Namespace
	Resolved   map[string][]string
	Via        map[string]string
	Unresolved []string
}

type resolution struct {
	keys []string
	via  string
}

// Resolver normalizes raw identifiers into canonical namespaces. Synonym
// sources are registered per canonical namespace and resolutions are cached
// for the lifetime of the resolver (one integration run). The cache is
// read-mostly; RegisterSource is the single-writer path per namespace.
type Resolver struct {
	mu         sync.RWMutex
	sources    map[identifier.Namespace]SynonymSource
	cache      map[identifier.Namespace]map[identifier.Identifier]resolution
	strategies []Strategy
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStrategies replaces the default fallback chain. Order is significant:
// first match wins.
func WithStrategies(strategies ...Strategy) Option {
	return func(r *Resolver) {
		r.strategies = append([]Strategy(nil), strategies...)
	}
}

// NewResolver constructs a resolver with the default strategy chain.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		sources:    make(map[identifier.Namespace]SynonymSource),
		cache:      make(map[identifier.Namespace]map[identifier.Identifier]resolution),
		strategies: DefaultStrategies(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterSource binds the synonym source answering lookups for the target
// canonical namespace. Re-registering a namespace is an error so concurrent
// runs cannot silently swap each other's tables.
func (r *Resolver) RegisterSource(target identifier.Namespace, src SynonymSource) error {
	if target == "" {
		return fmt.Errorf("register synonym source: empty namespace")
	}
	if src == nil {
		return fmt.Errorf("register synonym source for %s: nil source", target)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.sources[target]; dup {
		return fmt.Errorf("synonym source for namespace %s already registered", target)
	}
	r.sources[target] = src
	r.cache[target] = make(map[identifier.Identifier]resolution)
	return nil
}

// Resolve maps one identifier into the target namespace. It returns the
// canonical keys (possibly several, possibly none) and the name of the
// strategy that matched ("" for an exact synonym hit).
func (r *Resolver) Resolve(ctx context.Context, target identifier.Namespace, id identifier.Identifier) ([]string, string, error) {
	r.mu.RLock()
	src, ok := r.sources[target]
	if !ok {
		r.mu.RUnlock()
		return nil, "", fmt.Errorf("no synonym source registered for namespace %s", target)
	}
	if res, hit := r.cache[target][id]; hit {
		r.mu.RUnlock()
		return append([]string(nil), res.keys...), res.via, nil
	}
	r.mu.RUnlock()

	keys, err := src.Lookup(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("resolve %s into %s: %w", id, target, err)
	}
	via := ""
	if len(keys) == 0 {
		for _, strategy := range r.strategies {
			keys, err = strategy.Resolve(ctx, src, id)
			if err != nil {
				return nil, "", fmt.Errorf("resolve %s into %s via %s: %w", id, target, strategy.Name(), err)
			}
			if len(keys) > 0 {
				via = strategy.Name()
				break
			}
		}
	}
	sort.Strings(keys)

	r.mu.Lock()
	r.cache[target][id] = resolution{keys: append([]string(nil), keys...), via: via}
	r.mu.Unlock()
	return keys, via, nil
}

// ResolveTable rewrites the given key column of t into the target canonical
// namespace. Identifiers mapping to several canonical keys expand into one
// row per key, each an exact attribute copy. Unresolved identifiers stay
// under their raw value flagged FlagUnresolved, unless strict is set, in
// which case the call fails with UnresolvedKeyError and no table is
// produced. Validation of the key column happens before any row is touched.
func (r *Resolver) ResolveTable(ctx context.Context, t *table.Table, column string, raw, target identifier.Namespace, strict bool) (*table.Table, *Mapping, error) {
	if _, ok := t.Column(column); !ok {
		return nil, nil, &table.SchemaError{Table: t.Name(), Column: column, Reason: "key column to resolve absent"}
	}

	mapping := &Mapping{
		Source:   raw,
		Target:   target,
		Resolved: make(map[string][]string),
		Via:      make(map[string]string),
	}
	builder := table.NewBuilder(t.Name(), t.Schema(), t.KeyColumns()...)
	columns := t.Columns()
	unresolvedSeen := make(map[string]bool)

	for row := 0; row < t.Len(); row++ {
		value, _ := t.Value(row, column)
		rawValue, isString := value.(string)
		flags := t.Flags(row) &^ table.FlagMultiValued
		if !isString || rawValue == "" {
			if strict {
				if !unresolvedSeen["<null>"] {
					unresolvedSeen["<null>"] = true
					mapping.Unresolved = append(mapping.Unresolved, "<null>")
				}
				continue
			}
			builder.Append(rowCells(t, columns, row), flags|table.FlagUnresolved)
			continue
		}
		keys, via, err := r.Resolve(ctx, target, identifier.New(raw, rawValue))
		if err != nil {
			return nil, nil, err
		}
		if len(keys) == 0 {
			if !unresolvedSeen[rawValue] {
				unresolvedSeen[rawValue] = true
				mapping.Unresolved = append(mapping.Unresolved, rawValue)
			}
			if strict {
				continue
			}
			builder.Append(rowCells(t, columns, row), flags|table.FlagUnresolved)
			continue
		}
		mapping.Resolved[rawValue] = keys
		if via != "" {
			mapping.Via[rawValue] = via
		}
		for _, key := range keys {
			cells := rowCells(t, columns, row)
			for i, name := range columns {
				if name == column {
					cells[i] = key
				}
			}
			builder.Append(cells, flags)
		}
	}

	if strict && len(unresolvedSeen) > 0 {
		sort.Strings(mapping.Unresolved)
		return nil, nil, &UnresolvedKeyError{Table: t.Name(), Namespace: raw, Keys: mapping.Unresolved}
	}
	sort.Strings(mapping.Unresolved)
	out, err := builder.Build()
	if err != nil {
		return nil, nil, err
	}
	return out, mapping, nil
}

func rowCells(t *table.Table, columns []string, row int) []any {
	cells := make([]any, len(columns))
	for i, name := range columns {
		cells[i], _ = t.Value(row, name)
	}
	return cells
}

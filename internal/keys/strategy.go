package keys

import (
	"context"
	"strings"

	"omicscore/pkg/identifier"
)

// Strategy is one fallback matching step tried when the exact lookup finds
// nothing. Strategies run in the order the resolver was configured with;
// the first one returning a non-empty mapping wins and no further strategy
// is attempted.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, src SynonymSource, id identifier.Identifier) ([]string, error)
}

// CaseInsensitive matches the identifier ignoring case, using the source's
// folded index when available and common case variants otherwise.
type CaseInsensitive struct{}

func (CaseInsensitive) Name() string { return "case_insensitive" }

func (CaseInsensitive) Resolve(ctx context.Context, src SynonymSource, id identifier.Identifier) ([]string, error) {
	if folded, ok := src.(FoldedLookup); ok {
		return folded.LookupFold(ctx, id)
	}
	for _, variant := range []string{strings.ToUpper(id.Value), strings.ToLower(id.Value)} {
		if variant == id.Value {
			continue
		}
		keys, err := src.Lookup(ctx, identifier.New(id.Namespace, variant))
		if err != nil || len(keys) > 0 {
			return keys, err
		}
	}
	return nil, nil
}

// PrefixStrip retries the lookup after removing decorations commonly carried
// by raw identifiers. With no explicit Prefixes it strips a CURIE-style
// prefix up to the first ':' (e.g. "HGNC:1100") and a trailing dot version
// (e.g. "ENSG00000141510.17").
type PrefixStrip struct {
	Prefixes []string
}

func (PrefixStrip) Name() string { return "prefix_strip" }

func (p PrefixStrip) Resolve(ctx context.Context, src SynonymSource, id identifier.Identifier) ([]string, error) {
	for _, candidate := range p.candidates(id.Value) {
		if candidate == id.Value || candidate == "" {
			continue
		}
		keys, err := src.Lookup(ctx, identifier.New(id.Namespace, candidate))
		if err != nil || len(keys) > 0 {
			return keys, err
		}
	}
	return nil, nil
}

func (p PrefixStrip) candidates(value string) []string {
	var out []string
	if len(p.Prefixes) > 0 {
		for _, prefix := range p.Prefixes {
			if strings.HasPrefix(value, prefix) {
				out = append(out, strings.TrimPrefix(value, prefix))
			}
		}
		return out
	}
	if i := strings.IndexByte(value, ':'); i >= 0 && i+1 < len(value) {
		out = append(out, value[i+1:])
	}
	if i := strings.LastIndexByte(value, '.'); i > 0 {
		if version := value[i+1:]; version != "" && isDigits(version) {
			out = append(out, value[:i])
		}
	}
	return out
}

// CrossReference translates the identifier through a cross-reference table
// into another namespace before retrying the exact lookup. The via source
// maps raw values to alternate raw values in Namespace.
type CrossReference struct {
	Via       SynonymSource
	Namespace identifier.Namespace
}

func (CrossReference) Name() string { return "cross_reference" }

func (x CrossReference) Resolve(ctx context.Context, src SynonymSource, id identifier.Identifier) ([]string, error) {
	if x.Via == nil {
		return nil, nil
	}
	alternates, err := x.Via.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, alt := range alternates {
		mapped, err := src.Lookup(ctx, identifier.New(x.Namespace, alt))
		if err != nil {
			return nil, err
		}
		for _, k := range mapped {
			if !contains(keys, k) {
				keys = append(keys, k)
			}
		}
	}
	return keys, nil
}

// DefaultStrategies is the documented default fallback order:
// case-insensitive match, then prefix/version stripping. Cross-reference
// lookup requires a configured table and is opt-in.
func DefaultStrategies() []Strategy {
	return []Strategy{CaseInsensitive{}, PrefixStrip{}}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

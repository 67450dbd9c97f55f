// Package annotate harmonizes external annotation and interaction databases
// into a single record schema before they enter the join engine. Each
// database contributes a declarative adapter mapping its column names onto
// the harmonized semantic columns; adding a database is configuration, not
// code.
package annotate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"omicscore/internal/keys"
	"omicscore/internal/table"
	"omicscore/pkg/identifier"
)

// RelationType is the closed set of semantic edge categories records may
// carry.
type RelationType string

const (
	GeneDisease    RelationType = "gene-disease"
	GeneGene       RelationType = "gene-gene"
	GeneGO         RelationType = "gene-go"
	GenePathway    RelationType = "gene-pathway"
	TranscriptGene RelationType = "transcript-gene"
	ProteinProtein RelationType = "protein-protein"
	GeneAttribute  RelationType = "gene-attribute" // attribute-only, no object key
)

// ParseRelationType validates a relation type name.
func ParseRelationType(s string) (RelationType, error) {
	switch t := RelationType(s); t {
	case GeneDisease, GeneGene, GeneGO, GenePathway, TranscriptGene, ProteinProtein, GeneAttribute:
		return t, nil
	}
	return "", fmt.Errorf("unknown relation type %q", s)
}

// attributeOnly reports whether the relation carries no object key.
func (t RelationType) attributeOnly() bool { return t == GeneAttribute }

// Record is one harmonized annotation edge or attribute. Object is empty for
// attribute-only relations. Score is optional (nil when the source carries
// none).
type Record struct {
	Subject  string
	Object   string
	Relation RelationType
	Database string
	Score    *float64
	Attrs    map[string]any
}

// AdapterMismatchError reports a required semantic column missing from an
// adapter mapping or from the source table it points at.
type AdapterMismatchError struct {
	Database string
	Semantic string
	Reason   string
}

func (e *AdapterMismatchError) Error() string {
	return fmt.Sprintf("adapter %s: semantic column %q: %s", e.Database, e.Semantic, e.Reason)
}

// Adapter declares how one database's schema maps onto the harmonized
// record schema. Columns maps semantic names ("subject", "object", "score",
// plus any attribute name) to source column names.
type Adapter struct {
	// Database identifies the source database ("disgenet", "string", ...).
	Database string `json:"database"`
	// Relation categorizes every record the adapter emits.
	Relation RelationType `json:"relation"`
	// Columns maps semantic column names to source column names. "subject"
	// is always required; "object" is required unless the relation is
	// attribute-only; "score" is optional.
	Columns map[string]string `json:"columns"`
	// SubjectNamespace and ObjectNamespace tag the raw identifier columns.
	SubjectNamespace identifier.Namespace `json:"subject_namespace"`
	ObjectNamespace  identifier.Namespace `json:"object_namespace,omitempty"`
	// TargetNamespace is the canonical namespace keys are resolved into.
	TargetNamespace identifier.Namespace `json:"target_namespace"`
	// ObjectTargetNamespace overrides TargetNamespace for the object side
	// (e.g. gene-disease edges keep disease identifiers in their own space).
	ObjectTargetNamespace identifier.Namespace `json:"object_target_namespace,omitempty"`
	// MinScore drops records scoring below the threshold, the way STRING
	// interaction dumps are conventionally filtered by combined score.
	MinScore *float64 `json:"min_score,omitempty"`
}

const (
	semanticSubject = "subject"
	semanticObject  = "object"
	semanticScore   = "score"
)

// validate checks the adapter declaration itself, before any source data.
func (a Adapter) validate() error {
	if a.Database == "" {
		return &AdapterMismatchError{Database: a.Database, Semantic: "", Reason: "database name required"}
	}
	if _, err := ParseRelationType(string(a.Relation)); err != nil {
		return &AdapterMismatchError{Database: a.Database, Semantic: "", Reason: err.Error()}
	}
	if a.Columns[semanticSubject] == "" {
		return &AdapterMismatchError{Database: a.Database, Semantic: semanticSubject, Reason: "missing from adapter mapping"}
	}
	if !a.Relation.attributeOnly() && a.Columns[semanticObject] == "" {
		return &AdapterMismatchError{Database: a.Database, Semantic: semanticObject, Reason: "missing from adapter mapping"}
	}
	if a.SubjectNamespace == "" {
		return &AdapterMismatchError{Database: a.Database, Semantic: semanticSubject, Reason: "subject namespace required"}
	}
	if a.TargetNamespace == "" {
		return &AdapterMismatchError{Database: a.Database, Semantic: semanticSubject, Reason: "target namespace required"}
	}
	if !a.Relation.attributeOnly() && a.ObjectNamespace == "" {
		return &AdapterMismatchError{Database: a.Database, Semantic: semanticObject, Reason: "object namespace required"}
	}
	return nil
}

// attributeSemantics returns the non-reserved semantic columns, sorted.
func (a Adapter) attributeSemantics() []string {
	var names []string
	for semantic := range a.Columns {
		switch semantic {
		case semanticSubject, semanticObject, semanticScore:
		default:
			names = append(names, semantic)
		}
	}
	sort.Strings(names)
	return names
}

// Harmonizer turns per-database source tables into harmonized records,
// normalizing subject/object keys through the resolver. Adapters register
// once and are shared read-mostly for the rest of the run.
type Harmonizer struct {
	resolver *keys.Resolver

	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewHarmonizer constructs a harmonizer bound to the run's resolver.
func NewHarmonizer(resolver *keys.Resolver) *Harmonizer {
	return &Harmonizer{resolver: resolver, adapters: make(map[string]Adapter)}
}

// Register validates and stores an adapter. Registering the same database
// twice is an error.
func (h *Harmonizer) Register(a Adapter) error {
	if err := a.validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.adapters[a.Database]; dup {
		return fmt.Errorf("adapter for database %s already registered", a.Database)
	}
	h.adapters[a.Database] = a
	return nil
}

// Adapter returns the registered adapter for a database.
func (h *Harmonizer) Adapter(database string) (Adapter, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.adapters[database]
	return a, ok
}

// Harmonize emits the harmonized records of one source table under the
// adapter registered for database. Source columns named by the adapter must
// exist (AdapterMismatchError otherwise). Subject and object identifiers are
// resolved into their target namespaces; a raw identifier mapping to several
// canonical keys emits one record per key pair, and unresolved identifiers
// keep their raw value unless strict is set.
func (h *Harmonizer) Harmonize(ctx context.Context, database string, src *table.Table, strict bool) ([]Record, error) {
	h.mu.RLock()
	adapter, ok := h.adapters[database]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter registered for database %s", database)
	}
	subjectCol := adapter.Columns[semanticSubject]
	if _, ok := src.Column(subjectCol); !ok {
		return nil, &AdapterMismatchError{Database: database, Semantic: semanticSubject, Reason: fmt.Sprintf("mapped column %q absent from source %s", subjectCol, src.Name())}
	}
	objectCol := adapter.Columns[semanticObject]
	if !adapter.Relation.attributeOnly() {
		if _, ok := src.Column(objectCol); !ok {
			return nil, &AdapterMismatchError{Database: database, Semantic: semanticObject, Reason: fmt.Sprintf("mapped column %q absent from source %s", objectCol, src.Name())}
		}
	}
	scoreCol := adapter.Columns[semanticScore]
	if scoreCol != "" {
		if _, ok := src.Column(scoreCol); !ok {
			return nil, &AdapterMismatchError{Database: database, Semantic: semanticScore, Reason: fmt.Sprintf("mapped column %q absent from source %s", scoreCol, src.Name())}
		}
	}
	attrSemantics := adapter.attributeSemantics()
	for _, semantic := range attrSemantics {
		if _, ok := src.Column(adapter.Columns[semantic]); !ok {
			return nil, &AdapterMismatchError{Database: database, Semantic: semantic, Reason: fmt.Sprintf("mapped column %q absent from source %s", adapter.Columns[semantic], src.Name())}
		}
	}

	objectTarget := adapter.ObjectTargetNamespace
	if objectTarget == "" {
		objectTarget = adapter.TargetNamespace
	}

	var records []Record
	var unresolved []string
	seenUnresolved := make(map[string]bool)
	for row := 0; row < src.Len(); row++ {
		score, skip := h.recordScore(src, scoreCol, adapter.MinScore, row)
		if skip {
			continue
		}
		subjects, err := h.sideKeys(ctx, src, subjectCol, row, adapter.SubjectNamespace, adapter.TargetNamespace, seenUnresolved, &unresolved)
		if err != nil {
			return nil, err
		}
		objects := []string{""}
		if !adapter.Relation.attributeOnly() {
			objects, err = h.sideKeys(ctx, src, objectCol, row, adapter.ObjectNamespace, objectTarget, seenUnresolved, &unresolved)
			if err != nil {
				return nil, err
			}
		}
		var attrs map[string]any
		if len(attrSemantics) > 0 {
			attrs = make(map[string]any, len(attrSemantics))
			for _, semantic := range attrSemantics {
				v, _ := src.Value(row, adapter.Columns[semantic])
				attrs[semantic] = v
			}
		}
		for _, subject := range subjects {
			if subject == "" {
				continue
			}
			for _, object := range objects {
				records = append(records, Record{
					Subject:  subject,
					Object:   object,
					Relation: adapter.Relation,
					Database: adapter.Database,
					Score:    score,
					Attrs:    attrs,
				})
			}
		}
	}
	if strict && len(unresolved) > 0 {
		sort.Strings(unresolved)
		return nil, &keys.UnresolvedKeyError{Table: src.Name(), Namespace: adapter.SubjectNamespace, Keys: unresolved}
	}
	return records, nil
}

// sideKeys resolves one side of a record. Unresolved raw values are kept
// as-is and recorded for the strict-mode check.
func (h *Harmonizer) sideKeys(ctx context.Context, src *table.Table, column string, row int, raw, target identifier.Namespace, seen map[string]bool, unresolved *[]string) ([]string, error) {
	v, _ := src.Value(row, column)
	rawValue, ok := v.(string)
	if !ok || rawValue == "" {
		return nil, nil
	}
	mapped, _, err := h.resolver.Resolve(ctx, target, identifier.New(raw, rawValue))
	if err != nil {
		return nil, err
	}
	if len(mapped) == 0 {
		if !seen[rawValue] {
			seen[rawValue] = true
			*unresolved = append(*unresolved, rawValue)
		}
		return []string{rawValue}, nil
	}
	return mapped, nil
}

// recordScore extracts the optional score and applies the MinScore filter.
func (h *Harmonizer) recordScore(src *table.Table, scoreCol string, minScore *float64, row int) (*float64, bool) {
	if scoreCol == "" {
		return nil, false
	}
	v, _ := src.Value(row, scoreCol)
	f, ok := v.(float64)
	if !ok {
		// null score never passes an explicit threshold
		return nil, minScore != nil
	}
	if minScore != nil && f < *minScore {
		return nil, true
	}
	score := f
	return &score, false
}

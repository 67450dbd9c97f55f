package annotate

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"omicscore/internal/table"
)

// LoadAdapters decodes a JSON array of adapter declarations. This is the
// sole extension point for new annotation databases: a deployment ships a
// config file, never harmonizer code.
func LoadAdapters(r io.Reader) ([]Adapter, error) {
	var adapters []Adapter
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&adapters); err != nil {
		return nil, fmt.Errorf("decode adapter config: %w", err)
	}
	for _, a := range adapters {
		if err := a.validate(); err != nil {
			return nil, err
		}
	}
	return adapters, nil
}

// LoadAdaptersFile opens path and delegates to LoadAdapters.
func LoadAdaptersFile(path string) ([]Adapter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open adapter config %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return LoadAdapters(f)
}

// Harmonized record tables expose these columns to the join engine.
const (
	ColSubject  = "subject"
	ColObject   = "object"
	ColRelation = "relation"
	ColDatabase = "database"
	ColScore    = "score"
)

// RecordsTable projects harmonized records as an entity table keyed by
// subject, the shape the join engine consumes. Attribute columns are the
// union of the records' attribute semantics, sorted for determinism.
func RecordsTable(name string, records []Record) (*table.Table, error) {
	attrSet := make(map[string]bool)
	for _, rec := range records {
		for semantic := range rec.Attrs {
			attrSet[semantic] = true
		}
	}
	attrs := make([]string, 0, len(attrSet))
	for semantic := range attrSet {
		attrs = append(attrs, semantic)
	}
	sort.Strings(attrs)

	fields := []table.Field{
		{Name: ColSubject, Type: table.TypeString},
		{Name: ColObject, Type: table.TypeString},
		{Name: ColRelation, Type: table.TypeCategorical},
		{Name: ColDatabase, Type: table.TypeCategorical},
		{Name: ColScore, Type: table.TypeNumeric},
	}
	for _, semantic := range attrs {
		fields = append(fields, table.Field{Name: semantic, Type: table.TypeString})
	}

	builder := table.NewBuilder(name, fields, ColSubject)
	for _, rec := range records {
		cells := make([]any, len(fields))
		cells[0] = rec.Subject
		if rec.Object != "" {
			cells[1] = rec.Object
		}
		cells[2] = string(rec.Relation)
		cells[3] = rec.Database
		if rec.Score != nil {
			cells[4] = *rec.Score
		}
		for i, semantic := range attrs {
			if v, ok := rec.Attrs[semantic]; ok && v != nil {
				cells[5+i] = fmt.Sprint(v)
			}
		}
		builder.Append(cells, 0)
	}
	return builder.Build()
}

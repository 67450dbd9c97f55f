package join

import (
	"omicscore/internal/table"
)

// Provenance records which source table an output column originated from.
type Provenance struct {
	Column string `json:"column"`
	Source string `json:"source"`
}

// Dataset is a materialized join result: the combined table plus the
// ordered per-column provenance, the join semantics used, and row counts
// before and after joining.
type Dataset struct {
	Table      *table.Table
	Provenance []Provenance
	JoinType   Type
	RowsBefore map[string]int
	RowsAfter  int
}

// datasetFromTable lifts a single table into a trivial dataset.
func datasetFromTable(t *table.Table) *Dataset {
	columns := t.Columns()
	prov := make([]Provenance, len(columns))
	for i, c := range columns {
		prov[i] = Provenance{Column: c, Source: t.Name()}
	}
	return &Dataset{
		Table:      t,
		Provenance: prov,
		RowsBefore: map[string]int{t.Name(): t.Len()},
		RowsAfter:  t.Len(),
	}
}

// source returns the provenance source of a column, falling back to the
// dataset's own table name.
func (d *Dataset) source(column string) string {
	for _, p := range d.Provenance {
		if p.Column == column {
			return p.Source
		}
	}
	return d.Table.Name()
}

// withTable returns a copy of d holding t and refreshed row count.
func (d *Dataset) withTable(t *table.Table) *Dataset {
	out := &Dataset{
		Table:      t,
		Provenance: append([]Provenance(nil), d.Provenance...),
		JoinType:   d.JoinType,
		RowsBefore: make(map[string]int, len(d.RowsBefore)),
		RowsAfter:  t.Len(),
	}
	for k, v := range d.RowsBefore {
		out.RowsBefore[k] = v
	}
	return out
}

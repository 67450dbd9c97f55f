// Package table implements the canonical indexed representation every raw
// omics source is normalized into before resolution and joining. A Table is
// column-major: attribute columns carry a declared semantic type, one or more
// declared key columns form the index, and duplicate index values are
// preserved but flagged as multi-valued rather than collapsed.
package table

import (
	"fmt"
	"strconv"
	"strings"
)

// SemanticType classifies a column for schema descriptors and coercion.
type SemanticType string

const (
	TypeNumeric     SemanticType = "numeric"     // stored as float64
	TypeCategorical SemanticType = "categorical" // stored as string, low cardinality
	TypeString      SemanticType = "string"      // stored as string
	TypeSequence    SemanticType = "sequence"    // stored as string, residue alphabet
)

// ParseSemanticType validates a semantic type name.
func ParseSemanticType(s string) (SemanticType, error) {
	switch t := SemanticType(s); t {
	case TypeNumeric, TypeCategorical, TypeString, TypeSequence:
		return t, nil
	}
	return "", fmt.Errorf("unknown semantic type %q", s)
}

// Field pairs a column name with its semantic type.
type Field struct {
	Name string       `json:"name"`
	Type SemanticType `json:"type"`
}

// Column holds a named, typed slice of cell values. A nil cell is a null.
type Column struct {
	Name   string
	Type   SemanticType
	Values []any
}

// RowFlag marks per-row conditions attached by the wrapper and the resolver.
type RowFlag uint8

const (
	// FlagMultiValued marks a row whose index value occurs in more than one
	// row of the same table (one entity mapping to many rows).
	FlagMultiValued RowFlag = 1 << iota
	// FlagUnresolved marks a row whose raw key could not be mapped to the
	// canonical namespace and is retained under its original key.
	FlagUnresolved
)

// SchemaError reports an absent declared key column or an uncoercible value.
type SchemaError struct {
	Table  string
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("table %s: column %s: %s", e.Table, e.Column, e.Reason)
}

// IndexKey is one distinct index value together with its multi-valued flag.
type IndexKey struct {
	Key         string
	MultiValued bool
}

// Table is an Entity Table: named, indexed, column-major.
type Table struct {
	name    string
	keyCols []string
	cols    []Column
	byName  map[string]int
	flags   []RowFlag
}

// New validates and wraps raw columns into a Table. Declared key columns must
// exist (SchemaError otherwise), every cell is coerced to its column's
// semantic type (SchemaError when a cell cannot be coerced), and rows sharing
// an index value are flagged multi-valued.
func New(name string, cols []Column, keyColumns ...string) (*Table, error) {
	if name == "" {
		return nil, &SchemaError{Table: name, Reason: "table name required"}
	}
	if len(keyColumns) == 0 {
		return nil, &SchemaError{Table: name, Reason: "at least one key column required"}
	}
	byName := make(map[string]int, len(cols))
	rows := -1
	for i, col := range cols {
		if col.Name == "" {
			return nil, &SchemaError{Table: name, Reason: fmt.Sprintf("column %d has no name", i)}
		}
		if _, dup := byName[col.Name]; dup {
			return nil, &SchemaError{Table: name, Column: col.Name, Reason: "duplicate column name"}
		}
		byName[col.Name] = i
		if rows == -1 {
			rows = len(col.Values)
		} else if len(col.Values) != rows {
			return nil, &SchemaError{Table: name, Column: col.Name, Reason: fmt.Sprintf("length %d does not match %d", len(col.Values), rows)}
		}
	}
	if rows == -1 {
		rows = 0
	}
	for _, key := range keyColumns {
		if _, ok := byName[key]; !ok {
			return nil, &SchemaError{Table: name, Column: key, Reason: "declared key column absent"}
		}
	}
	coerced := make([]Column, len(cols))
	for i, col := range cols {
		values := make([]any, len(col.Values))
		for r, v := range col.Values {
			cv, err := Coerce(v, col.Type)
			if err != nil {
				return nil, &SchemaError{Table: name, Column: col.Name, Reason: fmt.Sprintf("row %d: %v", r, err)}
			}
			values[r] = cv
		}
		coerced[i] = Column{Name: col.Name, Type: col.Type, Values: values}
	}
	t := &Table{
		name:    name,
		keyCols: append([]string(nil), keyColumns...),
		cols:    coerced,
		byName:  byName,
		flags:   make([]RowFlag, rows),
	}
	t.markMultiValued()
	return t, nil
}

// Coerce converts a raw cell to the representation of the semantic type.
// Nil stays nil (null).
func Coerce(v any, t SemanticType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeNumeric:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			if strings.TrimSpace(n) == "" {
				return nil, nil
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to numeric", n)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to numeric", v)
		}
	case TypeCategorical, TypeString, TypeSequence:
		switch s := v.(type) {
		case string:
			return s, nil
		case float64:
			return strconv.FormatFloat(s, 'g', -1, 64), nil
		case int:
			return strconv.Itoa(s), nil
		case bool:
			return strconv.FormatBool(s), nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to %s", v, t)
		}
	default:
		return nil, fmt.Errorf("unknown semantic type %q", t)
	}
}

func (t *Table) markMultiValued() {
	seen := make(map[string]int, t.Len())
	for r := 0; r < t.Len(); r++ {
		seen[t.indexKeyAt(r)]++
	}
	for r := 0; r < t.Len(); r++ {
		if seen[t.indexKeyAt(r)] > 1 {
			t.flags[r] |= FlagMultiValued
		} else {
			t.flags[r] &^= FlagMultiValued
		}
	}
}

// indexKeyAt renders the composite index value of row r. Key parts are
// separated by an unlikely rune so composite keys cannot alias each other.
func (t *Table) indexKeyAt(r int) string {
	parts := make([]string, len(t.keyCols))
	for i, key := range t.keyCols {
		v := t.cols[t.byName[key]].Values[r]
		if v == nil {
			parts[i] = ""
			continue
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "\x1f")
}

// Name returns the source name the table was wrapped under.
func (t *Table) Name() string { return t.name }

// Len returns the row count.
func (t *Table) Len() int {
	if len(t.cols) == 0 {
		return 0
	}
	return len(t.cols[0].Values)
}

// KeyColumns returns the declared index columns.
func (t *Table) KeyColumns() []string {
	return append([]string(nil), t.keyCols...)
}

// Columns returns the column names in declaration order.
func (t *Table) Columns() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Schema returns the ordered column name to semantic type mapping.
func (t *Table) Schema() []Field {
	fields := make([]Field, len(t.cols))
	for i, c := range t.cols {
		fields[i] = Field{Name: c.Name, Type: c.Type}
	}
	return fields
}

// Column returns the named column.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Column{}, false
	}
	return t.cols[i], true
}

// Value returns the cell at (row, column).
func (t *Table) Value(row int, column string) (any, bool) {
	i, ok := t.byName[column]
	if !ok || row < 0 || row >= t.Len() {
		return nil, false
	}
	return t.cols[i].Values[row], true
}

// Flags returns the flags of row r.
func (t *Table) Flags(r int) RowFlag {
	if r < 0 || r >= len(t.flags) {
		return 0
	}
	return t.flags[r]
}

// SetFlag ors flag into row r's flags.
func (t *Table) SetFlag(r int, flag RowFlag) {
	if r >= 0 && r < len(t.flags) {
		t.flags[r] |= flag
	}
}

// IndexKeys returns the distinct index values with their multi-valued flags,
// in first-appearance order.
func (t *Table) IndexKeys() []IndexKey {
	counts := make(map[string]int, t.Len())
	order := make([]string, 0, t.Len())
	for r := 0; r < t.Len(); r++ {
		k := t.indexKeyAt(r)
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}
	keys := make([]IndexKey, len(order))
	for i, k := range order {
		keys[i] = IndexKey{Key: k, MultiValued: counts[k] > 1}
	}
	return keys
}

// Select returns a new table restricted to the given attribute columns. Key
// columns are always retained so the result stays indexable. Selecting an
// unknown column is a SchemaError.
func (t *Table) Select(columns ...string) (*Table, error) {
	keep := make(map[string]bool, len(columns)+len(t.keyCols))
	for _, key := range t.keyCols {
		keep[key] = true
	}
	for _, name := range columns {
		if _, ok := t.byName[name]; !ok {
			return nil, &SchemaError{Table: t.name, Column: name, Reason: "selected column absent"}
		}
		keep[name] = true
	}
	cols := make([]Column, 0, len(keep))
	for _, c := range t.cols {
		if keep[c.Name] {
			cols = append(cols, Column{Name: c.Name, Type: c.Type, Values: append([]any(nil), c.Values...)})
		}
	}
	out, err := New(t.name, cols, t.keyCols...)
	if err != nil {
		return nil, err
	}
	copy(out.flags, t.flags)
	out.markMultiValued()
	return out, nil
}

// Row returns a copy of row r keyed by column name.
func (t *Table) Row(r int) map[string]any {
	row := make(map[string]any, len(t.cols))
	for _, c := range t.cols {
		row[c.Name] = c.Values[r]
	}
	return row
}

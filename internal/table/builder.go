package table

// Builder accumulates rows for a table whose schema is known up front. The
// resolver and the join executors build their outputs through it so that
// row flags travel with the rows they describe.
type Builder struct {
	name    string
	keyCols []string
	fields  []Field
	byName  map[string]int
	values  [][]any
	flags   []RowFlag
}

// NewBuilder prepares a builder for the given schema and key columns.
func NewBuilder(name string, fields []Field, keyColumns ...string) *Builder {
	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		byName[f.Name] = i
	}
	return &Builder{
		name:    name,
		keyCols: append([]string(nil), keyColumns...),
		fields:  append([]Field(nil), fields...),
		byName:  byName,
		values:  make([][]any, len(fields)),
	}
}

// Append adds one row. Cells must be ordered like the builder's fields.
func (b *Builder) Append(cells []any, flags RowFlag) {
	for i := range b.fields {
		var v any
		if i < len(cells) {
			v = cells[i]
		}
		b.values[i] = append(b.values[i], v)
	}
	b.flags = append(b.flags, flags)
}

// AppendRow adds one row from a column-name keyed map. Missing columns
// become nulls.
func (b *Builder) AppendRow(row map[string]any, flags RowFlag) {
	cells := make([]any, len(b.fields))
	for name, v := range row {
		if i, ok := b.byName[name]; ok {
			cells[i] = v
		}
	}
	b.Append(cells, flags)
}

// Len returns the number of rows appended so far.
func (b *Builder) Len() int { return len(b.flags) }

// Build validates and produces the table, carrying accumulated row flags.
// Multi-valued flags are recomputed from the final index.
func (b *Builder) Build() (*Table, error) {
	cols := make([]Column, len(b.fields))
	for i, f := range b.fields {
		cols[i] = Column{Name: f.Name, Type: f.Type, Values: b.values[i]}
	}
	t, err := New(b.name, cols, b.keyCols...)
	if err != nil {
		return nil, err
	}
	for r, f := range b.flags {
		t.flags[r] |= f &^ FlagMultiValued
	}
	t.markMultiValued()
	return t, nil
}

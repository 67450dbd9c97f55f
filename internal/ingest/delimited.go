// Package ingest reads delimited tabular files into entity tables. The
// pipeline never fetches data itself: callers hand it paths or readers
// produced by an external downloader/cache.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"omicscore/internal/table"
)

// Options declares how a delimited source maps onto an entity table.
type Options struct {
	// Name is the source table name; required.
	Name string
	// Comma is the field separator; defaults to ',' ('\t' for TSV).
	Comma rune
	// Schema declares the columns to ingest and their semantic types. Columns
	// in the file but not in the schema are ignored; declared columns missing
	// from the header fail with a SchemaError.
	Schema []table.Field
	// KeyColumns declares the index; required, must appear in Schema.
	KeyColumns []string
	// Comment, when non-zero, skips lines starting with the rune (annotation
	// dumps frequently carry '#' preambles).
	Comment rune
}

// ReadFile opens path and delegates to Read.
func ReadFile(path string, opts Options) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return Read(f, opts)
}

// Read parses a delimited stream with a header row into an entity table.
// Cells are coerced per the declared schema; empty cells become nulls.
func Read(r io.Reader, opts Options) (*table.Table, error) {
	if opts.Name == "" {
		return nil, &table.SchemaError{Reason: "ingest requires a table name"}
	}
	if len(opts.Schema) == 0 {
		return nil, &table.SchemaError{Table: opts.Name, Reason: "ingest requires a declared schema"}
	}
	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	if opts.Comment != 0 {
		cr.Comment = opts.Comment
	}
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", opts.Name, err)
	}
	position := make(map[string]int, len(header))
	for i, h := range header {
		position[h] = i
	}
	fieldPos := make([]int, len(opts.Schema))
	for i, f := range opts.Schema {
		p, ok := position[f.Name]
		if !ok {
			return nil, &table.SchemaError{Table: opts.Name, Column: f.Name, Reason: "declared column missing from header"}
		}
		fieldPos[i] = p
	}
	values := make([][]any, len(opts.Schema))
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s line %d: %w", opts.Name, line, err)
		}
		for i, p := range fieldPos {
			if p >= len(record) || record[p] == "" {
				values[i] = append(values[i], nil)
				continue
			}
			values[i] = append(values[i], record[p])
		}
	}
	cols := make([]table.Column, len(opts.Schema))
	for i, f := range opts.Schema {
		cols[i] = table.Column{Name: f.Name, Type: f.Type, Values: values[i]}
	}
	return table.New(opts.Name, cols, opts.KeyColumns...)
}

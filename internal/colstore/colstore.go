// Package colstore persists joined datasets as columnar artifacts in a blob
// store. Layout, per partition:
//
//	<dataset>/<partition>/schema.json              schema descriptor
//	<dataset>/<partition>/seg-<uuid>/<column>.json.gz  one blob per column
//	<dataset>/<partition>/manifest-000001.json     numbered commit manifests
//
// A write stages its segment blobs first and commits by creating the next
// numbered manifest; blob Put is create-only, so a manifest either appears
// whole or not at all and readers never observe a partial write. Appends to
// an existing partition must match its recorded schema exactly.
package colstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/exascience/pargo/parallel"
	"github.com/google/uuid"

	"omicscore/internal/blob"
	"omicscore/internal/catalog"
	"omicscore/internal/join"
	"omicscore/internal/table"
)

// SchemaConflictError reports a mismatch between a persisted partition's
// schema and the schema of data being written to or read with it.
type SchemaConflictError struct {
	Dataset   string
	Partition string
	Column    string
	Existing  string
	Incoming  string
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("dataset %s partition %s: column %q: persisted schema %q does not match incoming %q",
		e.Dataset, e.Partition, e.Column, e.Existing, e.Incoming)
}

// Descriptor is the schema recorded with every partition: column semantic
// types, the index, and the join provenance of the persisted dataset.
type Descriptor struct {
	Fields     []table.Field     `json:"fields"`
	KeyColumns []string          `json:"key_columns"`
	Provenance []join.Provenance `json:"provenance,omitempty"`
	JoinType   join.Type         `json:"join_type,omitempty"`
}

// Fingerprint hashes the structural schema (names and types, in order).
func (d Descriptor) Fingerprint() string {
	h := sha256.New()
	for _, f := range d.Fields {
		fmt.Fprintf(h, "%s\x00%s\x00", f.Name, f.Type)
	}
	fmt.Fprintf(h, "|%s", strings.Join(d.KeyColumns, "\x00"))
	return hex.EncodeToString(h.Sum(nil))
}

// conflict returns the first column where the descriptors disagree.
func (d Descriptor) conflict(other Descriptor) (column, existing, incoming string, ok bool) {
	n := len(d.Fields)
	if len(other.Fields) < n {
		n = len(other.Fields)
	}
	for i := 0; i < n; i++ {
		if d.Fields[i] != other.Fields[i] {
			return d.Fields[i].Name, string(d.Fields[i].Type), fmt.Sprintf("%s %s", other.Fields[i].Name, other.Fields[i].Type), true
		}
	}
	if len(d.Fields) != len(other.Fields) {
		return "", fmt.Sprintf("%d columns", len(d.Fields)), fmt.Sprintf("%d columns", len(other.Fields)), true
	}
	if strings.Join(d.KeyColumns, ",") != strings.Join(other.KeyColumns, ",") {
		return "", strings.Join(d.KeyColumns, ","), strings.Join(other.KeyColumns, ","), true
	}
	return "", "", "", false
}

type segment struct {
	ID   string `json:"id"`
	Rows int    `json:"rows"`
}

type manifest struct {
	Dataset   string     `json:"dataset"`
	Partition string     `json:"partition"`
	Schema    Descriptor `json:"schema"`
	Segments  []segment  `json:"segments"`
}

// Store reads and writes columnar partitions.
type Store struct {
	blobs blob.Store
	cat   catalog.Catalog // optional
}

// Option configures a Store.
type Option func(*Store)

// WithCatalog attaches a partition catalog consulted for pruning and
// recorded on every successful write.
func WithCatalog(c catalog.Catalog) Option {
	return func(s *Store) { s.cat = c }
}

// New constructs a columnar store over a blob backend.
func New(blobs blob.Store, opts ...Option) *Store {
	s := &Store{blobs: blobs}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func descriptorOf(ds *join.Dataset) Descriptor {
	return Descriptor{
		Fields:     ds.Table.Schema(),
		KeyColumns: ds.Table.KeyColumns(),
		Provenance: append([]join.Provenance(nil), ds.Provenance...),
		JoinType:   ds.JoinType,
	}
}

func partitionPrefix(dataset, partition string) string {
	return dataset + "/" + partition + "/"
}

func validateName(kind, name string) error {
	if name == "" || strings.ContainsAny(name, "/\x00") || strings.Contains(name, "..") {
		return fmt.Errorf("invalid %s name %q", kind, name)
	}
	return nil
}

// Write persists ds into <dataset>/<partition>. A second write to the same
// partition appends a segment and must carry the exact schema already
// recorded there, otherwise it fails with SchemaConflictError and the
// partition is left unmodified.
func (s *Store) Write(ctx context.Context, dataset string, ds *join.Dataset, partition string) error {
	if err := validateName("dataset", dataset); err != nil {
		return err
	}
	if err := validateName("partition", partition); err != nil {
		return err
	}
	if ds == nil || ds.Table == nil {
		return fmt.Errorf("dataset %s: nothing to write", dataset)
	}
	for _, c := range ds.Table.Columns() {
		if strings.ContainsAny(c, "/\x00") {
			return fmt.Errorf("dataset %s: column name %q not persistable", dataset, c)
		}
	}
	desc := descriptorOf(ds)
	prefix := partitionPrefix(dataset, partition)

	if s.cat != nil {
		entry, ok, err := s.cat.Lookup(ctx, dataset, partition)
		if err != nil {
			return fmt.Errorf("catalog lookup %s/%s: %w", dataset, partition, err)
		}
		if ok && entry.Fingerprint != desc.Fingerprint() {
			return &SchemaConflictError{Dataset: dataset, Partition: partition, Existing: entry.Fingerprint, Incoming: desc.Fingerprint()}
		}
	}

	prior, seq, err := s.latestManifest(ctx, prefix)
	if err != nil {
		return err
	}
	if prior != nil {
		if col, existing, incoming, bad := prior.Schema.conflict(desc); bad {
			return &SchemaConflictError{Dataset: dataset, Partition: partition, Column: col, Existing: existing, Incoming: incoming}
		}
	}

	// Stage the segment: one gzip-framed JSON blob per column, encoded in
	// parallel, plus the row flags.
	segID := uuid.NewString()
	columns := ds.Table.Columns()
	encoded := make([][]byte, len(columns)+1)
	encErrs := make([]error, len(columns)+1)
	parallel.Range(0, len(columns), 0, func(low, high int) {
		for i := low; i < high; i++ {
			col, _ := ds.Table.Column(columns[i])
			encoded[i], encErrs[i] = encodeColumn(col.Values)
		}
	})
	flags := make([]table.RowFlag, ds.Table.Len())
	for r := range flags {
		flags[r] = ds.Table.Flags(r)
	}
	encoded[len(columns)], encErrs[len(columns)] = encodeJSONGz(flags)
	for _, err := range encErrs {
		if err != nil {
			return fmt.Errorf("encode column of %s/%s: %w", dataset, partition, err)
		}
	}

	segPrefix := fmt.Sprintf("%sseg-%s/", prefix, segID)
	for i, c := range columns {
		key := segPrefix + c + ".json.gz"
		if _, err := s.blobs.Put(ctx, key, bytes.NewReader(encoded[i]), blob.PutOptions{ContentType: "application/gzip"}); err != nil {
			return fmt.Errorf("stage column %s: %w", key, err)
		}
	}
	if _, err := s.blobs.Put(ctx, segPrefix+"_flags.json.gz", bytes.NewReader(encoded[len(columns)]), blob.PutOptions{ContentType: "application/gzip"}); err != nil {
		return fmt.Errorf("stage flags of %s/%s: %w", dataset, partition, err)
	}

	// First write records the partition's schema descriptor.
	if prior == nil {
		db, err := json.MarshalIndent(desc, "", "  ")
		if err != nil {
			return fmt.Errorf("encode schema descriptor: %w", err)
		}
		if _, err := s.blobs.Put(ctx, prefix+"schema.json", bytes.NewReader(db), blob.PutOptions{ContentType: "application/json"}); err != nil {
			return fmt.Errorf("write schema descriptor: %w", err)
		}
	}

	// Commit: the manifest flip makes the segment visible. Create-only Put
	// rejects a concurrent writer racing for the same sequence number.
	m := manifest{Dataset: dataset, Partition: partition, Schema: desc}
	if prior != nil {
		m.Segments = append(m.Segments, prior.Segments...)
	}
	m.Segments = append(m.Segments, segment{ID: segID, Rows: ds.Table.Len()})
	mb, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	manifestKey := fmt.Sprintf("%smanifest-%06d.json", prefix, seq+1)
	if _, err := s.blobs.Put(ctx, manifestKey, bytes.NewReader(mb), blob.PutOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("commit %s: %w", manifestKey, err)
	}

	if s.cat != nil {
		rows := 0
		for _, seg := range m.Segments {
			rows += seg.Rows
		}
		if err := s.cat.RecordPartition(ctx, catalog.Entry{
			Dataset:     dataset,
			Partition:   partition,
			Rows:        rows,
			Fingerprint: desc.Fingerprint(),
		}); err != nil {
			return fmt.Errorf("record partition in catalog: %w", err)
		}
	}
	return nil
}

// latestManifest returns the highest-numbered committed manifest under
// prefix, or (nil, 0, nil) for a fresh partition.
func (s *Store) latestManifest(ctx context.Context, prefix string) (*manifest, int, error) {
	infos, err := s.blobs.List(ctx, prefix+"manifest-")
	if err != nil {
		return nil, 0, fmt.Errorf("list manifests under %s: %w", prefix, err)
	}
	best := 0
	bestKey := ""
	for _, info := range infos {
		var seq int
		name := strings.TrimPrefix(info.Key, prefix)
		if _, err := fmt.Sscanf(name, "manifest-%06d.json", &seq); err != nil {
			continue
		}
		if seq > best {
			best = seq
			bestKey = info.Key
		}
	}
	if bestKey == "" {
		return nil, 0, nil
	}
	var m manifest
	if err := s.getJSON(ctx, bestKey, &m); err != nil {
		return nil, 0, err
	}
	return &m, best, nil
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	_, rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func encodeColumn(values []any) ([]byte, error) {
	return encodeJSONGz(values)
}

func encodeJSONGz(v any) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(v); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeJSONGz(r io.Reader, v any) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer func() { _ = gz.Close() }()
	return json.NewDecoder(gz).Decode(v)
}

// ErrNoPartitions is returned by Read when the filter selects nothing.
var ErrNoPartitions = errors.New("no partitions selected")

// PartitionFilter selects partitions by key. Excluded partitions are never
// scanned.
type PartitionFilter func(partition string) bool

// AllPartitions selects every committed partition.
func AllPartitions(string) bool { return true }

// Partitions selects an explicit set of partition keys.
func Partitions(keys ...string) PartitionFilter {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return func(p string) bool { return set[p] }
}

// partitionView is one selected partition with its committed manifest.
type partitionView struct {
	name     string
	manifest manifest
}

// View is a lazy handle over the selected partitions. Construction loads
// only manifests and schema descriptors; column data is read on Collect,
// and only for requested columns.
type View struct {
	store     *Store
	dataset   string
	parts     []partitionView
	desc      Descriptor
	totalRows int
}

// Read opens a lazy view over the partitions of dataset selected by filter.
// Partition discovery goes through the catalog when one is attached and
// falls back to listing manifest keys; either way, excluded partitions are
// pruned before any of their data is touched. Every selected partition's
// schema descriptor is validated against its manifest before the view is
// returned.
func (s *Store) Read(ctx context.Context, dataset string, filter PartitionFilter) (*View, error) {
	if err := validateName("dataset", dataset); err != nil {
		return nil, err
	}
	if filter == nil {
		filter = AllPartitions
	}
	names, err := s.partitionNames(ctx, dataset)
	if err != nil {
		return nil, err
	}
	var selected []string
	for _, name := range names {
		if filter(name) {
			selected = append(selected, name)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("dataset %s: %w", dataset, ErrNoPartitions)
	}
	sort.Strings(selected)

	view := &View{store: s, dataset: dataset}
	for _, name := range selected {
		prefix := partitionPrefix(dataset, name)
		m, _, err := s.latestManifest(ctx, prefix)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, fmt.Errorf("dataset %s partition %s has no committed manifest", dataset, name)
		}
		var onDisk Descriptor
		if err := s.getJSON(ctx, prefix+"schema.json", &onDisk); err != nil {
			return nil, err
		}
		if col, existing, incoming, bad := onDisk.conflict(m.Schema); bad {
			return nil, &SchemaConflictError{Dataset: dataset, Partition: name, Column: col, Existing: existing, Incoming: incoming}
		}
		if len(view.parts) == 0 {
			view.desc = m.Schema
		} else if col, existing, incoming, bad := view.desc.conflict(m.Schema); bad {
			return nil, &SchemaConflictError{Dataset: dataset, Partition: name, Column: col, Existing: existing, Incoming: incoming}
		}
		for _, seg := range m.Segments {
			view.totalRows += seg.Rows
		}
		view.parts = append(view.parts, partitionView{name: name, manifest: *m})
	}
	return view, nil
}

// partitionNames discovers committed partitions of a dataset.
func (s *Store) partitionNames(ctx context.Context, dataset string) ([]string, error) {
	if s.cat != nil {
		entries, err := s.cat.Partitions(ctx, dataset)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			names := make([]string, len(entries))
			for i, e := range entries {
				names[i] = e.Partition
			}
			return names, nil
		}
	}
	infos, err := s.blobs.List(ctx, dataset+"/")
	if err != nil {
		return nil, fmt.Errorf("list dataset %s: %w", dataset, err)
	}
	seen := make(map[string]bool)
	var names []string
	for _, info := range infos {
		rest := strings.TrimPrefix(info.Key, dataset+"/")
		i := strings.IndexByte(rest, '/')
		if i < 0 || !strings.HasPrefix(rest[i+1:], "manifest-") {
			continue
		}
		if name := rest[:i]; !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

// Schema returns the view's schema descriptor fields.
func (v *View) Schema() []table.Field {
	return append([]table.Field(nil), v.desc.Fields...)
}

// Partitions returns the selected partition keys, ascending.
func (v *View) Partitions() []string {
	names := make([]string, len(v.parts))
	for i, p := range v.parts {
		names[i] = p.name
	}
	return names
}

// Rows returns the committed row count across selected partitions, known
// without reading column data.
func (v *View) Rows() int { return v.totalRows }

// Collect materializes the view into a dataset, reading only the requested
// columns (all columns when none are named). Key columns are always
// included. Segment and partition order is deterministic.
func (v *View) Collect(ctx context.Context, columns ...string) (*join.Dataset, error) {
	wanted := columns
	if len(wanted) == 0 {
		for _, f := range v.desc.Fields {
			wanted = append(wanted, f.Name)
		}
	} else {
		need := make(map[string]bool, len(wanted))
		for _, c := range wanted {
			need[c] = true
		}
		for _, k := range v.desc.KeyColumns {
			if !need[k] {
				wanted = append(wanted, k)
				need[k] = true
			}
		}
	}
	fieldByName := make(map[string]table.Field, len(v.desc.Fields))
	order := make(map[string]int, len(v.desc.Fields))
	for i, f := range v.desc.Fields {
		fieldByName[f.Name] = f
		order[f.Name] = i
	}
	for _, c := range wanted {
		if _, ok := fieldByName[c]; !ok {
			return nil, &table.SchemaError{Table: v.dataset, Column: c, Reason: "column absent from persisted schema"}
		}
	}
	sort.Slice(wanted, func(i, j int) bool { return order[wanted[i]] < order[wanted[j]] })

	values := make([][]any, len(wanted))
	var flags []table.RowFlag
	for _, part := range v.parts {
		prefix := partitionPrefix(v.dataset, part.name)
		for _, seg := range part.manifest.Segments {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			segPrefix := fmt.Sprintf("%sseg-%s/", prefix, seg.ID)
			for i, c := range wanted {
				var colValues []any
				_, rc, err := v.store.blobs.Get(ctx, segPrefix+c+".json.gz")
				if err != nil {
					return nil, fmt.Errorf("read column %s of %s/%s: %w", c, v.dataset, part.name, err)
				}
				err = decodeJSONGz(rc, &colValues)
				_ = rc.Close()
				if err != nil {
					return nil, fmt.Errorf("decode column %s of %s/%s: %w", c, v.dataset, part.name, err)
				}
				if len(colValues) != seg.Rows {
					return nil, fmt.Errorf("column %s of %s/%s: %d values, manifest says %d rows", c, v.dataset, part.name, len(colValues), seg.Rows)
				}
				values[i] = append(values[i], colValues...)
			}
			var segFlags []table.RowFlag
			_, rc, err := v.store.blobs.Get(ctx, segPrefix+"_flags.json.gz")
			if err != nil {
				return nil, fmt.Errorf("read flags of %s/%s: %w", v.dataset, part.name, err)
			}
			err = decodeJSONGz(rc, &segFlags)
			_ = rc.Close()
			if err != nil {
				return nil, fmt.Errorf("decode flags of %s/%s: %w", v.dataset, part.name, err)
			}
			flags = append(flags, segFlags...)
		}
	}

	fields := make([]table.Field, len(wanted))
	for i, c := range wanted {
		fields[i] = fieldByName[c]
	}
	builder := table.NewBuilder(v.dataset, fields, v.desc.KeyColumns...)
	rows := 0
	if len(values) > 0 {
		rows = len(values[0])
	}
	for r := 0; r < rows; r++ {
		cells := make([]any, len(wanted))
		for i := range wanted {
			cells[i] = values[i][r]
		}
		var f table.RowFlag
		if r < len(flags) {
			f = flags[r]
		}
		builder.Append(cells, f)
	}
	t, err := builder.Build()
	if err != nil {
		return nil, err
	}

	keep := make(map[string]bool, len(wanted))
	for _, c := range wanted {
		keep[c] = true
	}
	var prov []join.Provenance
	for _, p := range v.desc.Provenance {
		if keep[p.Column] {
			prov = append(prov, p)
		}
	}
	rowsBefore := make(map[string]int)
	return &join.Dataset{
		Table:      t,
		Provenance: prov,
		JoinType:   v.desc.JoinType,
		RowsBefore: rowsBefore,
		RowsAfter:  t.Len(),
	}, nil
}

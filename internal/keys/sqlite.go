package keys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"omicscore/pkg/identifier"
)

// SQLiteSource persists a synonym table so repeated integration runs skip
// rebuilding it from annotation dumps. Lookups hit an indexed table; the
// folded column backs case-insensitive matching.
type SQLiteSource struct {
	db *sql.DB
	mu sync.Mutex // serializes writers; reads go straight to the pool
}

// NewSQLiteSource opens (creating if needed) a synonym store at path.
func NewSQLiteSource(path string) (*SQLiteSource, error) {
	if path == "" {
		path = "synonyms.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS synonyms (
		namespace TEXT NOT NULL,
		raw       TEXT NOT NULL,
		folded    TEXT NOT NULL,
		canonical TEXT NOT NULL,
		UNIQUE(namespace, raw, canonical)
	)`); err != nil {
		return nil, fmt.Errorf("create synonyms table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS synonyms_folded ON synonyms(namespace, folded)`); err != nil {
		return nil, fmt.Errorf("create folded index: %w", err)
	}
	return &SQLiteSource{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteSource) Close() error { return s.db.Close() }

// Add registers canonical keys for the raw identifier. Duplicate relations
// are ignored.
func (s *SQLiteSource) Add(ctx context.Context, id identifier.Identifier, canonical ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin synonym insert: %w", err)
	}
	for _, c := range canonical {
		if c == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO synonyms(namespace, raw, folded, canonical) VALUES(?, ?, ?, ?)`,
			string(id.Namespace), id.Value, strings.ToLower(id.Value), c); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert synonym %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit synonym insert: %w", err)
	}
	return nil
}

// Import bulk-loads the entries of an in-memory source.
func (s *SQLiteSource) Import(ctx context.Context, src *MemorySource) error {
	for _, e := range src.Entries() {
		if err := s.Add(ctx, e.ID, e.Canonical); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the canonical keys the identifier maps to, sorted.
func (s *SQLiteSource) Lookup(ctx context.Context, id identifier.Identifier) ([]string, error) {
	return s.query(ctx,
		`SELECT DISTINCT canonical FROM synonyms WHERE namespace = ? AND raw = ? ORDER BY canonical`,
		string(id.Namespace), id.Value)
}

// LookupFold matches the identifier value case-insensitively.
func (s *SQLiteSource) LookupFold(ctx context.Context, id identifier.Identifier) ([]string, error) {
	return s.query(ctx,
		`SELECT DISTINCT canonical FROM synonyms WHERE namespace = ? AND folded = ? ORDER BY canonical`,
		string(id.Namespace), strings.ToLower(id.Value))
}

func (s *SQLiteSource) query(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("synonym lookup: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan synonym: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

var (
	_ SynonymSource = (*SQLiteSource)(nil)
	_ FoldedLookup  = (*SQLiteSource)(nil)
)

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	pgDriver   = "pgx"
	defaultDSN = "postgres://localhost/omicscore?sslmode=disable"
)

// Postgres is a shared catalog for deployments where several pipelines
// persist into the same object store.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a Postgres-backed catalog using the provided DSN
// (falls back to a local default) and ensures the partitions table exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open(pgDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS omics_partitions (
		dataset_name  TEXT NOT NULL,
		partition_key TEXT NOT NULL,
		row_count     INTEGER NOT NULL,
		fingerprint   TEXT NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (dataset_name, partition_key)
	)`); err != nil {
		return nil, fmt.Errorf("create partitions table: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (p *Postgres) DB() *sql.DB { return p.db }

func (p *Postgres) RecordPartition(ctx context.Context, e Entry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO omics_partitions (dataset_name, partition_key, row_count, fingerprint, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dataset_name, partition_key) DO UPDATE
		SET row_count = EXCLUDED.row_count, fingerprint = EXCLUDED.fingerprint, updated_at = EXCLUDED.updated_at`,
		e.Dataset, e.Partition, e.Rows, e.Fingerprint, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("record partition %s/%s: %w", e.Dataset, e.Partition, err)
	}
	return nil
}

func (p *Postgres) Partitions(ctx context.Context, dataset string) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT dataset_name, partition_key, row_count, fingerprint, updated_at
		FROM omics_partitions WHERE dataset_name = $1 ORDER BY partition_key`, dataset)
	if err != nil {
		return nil, fmt.Errorf("list partitions of %s: %w", dataset, err)
	}
	defer func() { _ = rows.Close() }()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Dataset, &e.Partition, &e.Rows, &e.Fingerprint, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *Postgres) Lookup(ctx context.Context, dataset, partition string) (Entry, bool, error) {
	var e Entry
	err := p.db.QueryRowContext(ctx, `SELECT dataset_name, partition_key, row_count, fingerprint, updated_at
		FROM omics_partitions WHERE dataset_name = $1 AND partition_key = $2`, dataset, partition).
		Scan(&e.Dataset, &e.Partition, &e.Rows, &e.Fingerprint, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup partition %s/%s: %w", dataset, partition, err)
	}
	return e, true, nil
}

var _ Catalog = (*Postgres)(nil)

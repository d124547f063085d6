package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	source_name TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	page_count INTEGER NOT NULL DEFAULT 0,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT,
	superseded_by TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_source_name ON documents(source_name);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	source_name TEXT NOT NULL,
	page_number INTEGER NOT NULL,
	pages JSONB NOT NULL DEFAULT '[]'::jsonb,
	chunk_index INTEGER NOT NULL,
	chunk_type TEXT NOT NULL,
	text TEXT NOT NULL,
	word_count INTEGER NOT NULL,
	char_count INTEGER NOT NULL,
	table_id TEXT NOT NULL DEFAULT '',
	part_index INTEGER NOT NULL DEFAULT 0,
	part_count INTEGER NOT NULL DEFAULT 0,
	table_context TEXT NOT NULL DEFAULT '',
	metadata JSONB,
	tombstoned BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, chunk_index);

CREATE TABLE IF NOT EXISTS chunk_search (
	chunk_id TEXT PRIMARY KEY REFERENCES chunks(id),
	document_id TEXT NOT NULL,
	source_name TEXT NOT NULL,
	tsv TSVECTOR NOT NULL,
	entity TEXT NOT NULL DEFAULT '',
	metric_category TEXT NOT NULL DEFAULT '',
	period_keys TEXT[] NOT NULL DEFAULT '{}',
	tombstoned BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_chunk_search_tsv ON chunk_search USING GIN(tsv);
CREATE INDEX IF NOT EXISTS idx_chunk_search_period ON chunk_search USING GIN(period_keys);
CREATE INDEX IF NOT EXISTS idx_chunk_search_metric ON chunk_search(metric_category);
CREATE INDEX IF NOT EXISTS idx_chunk_search_document ON chunk_search(document_id);
`

// EnsureSchema creates the documents, chunk store and lexical index tables.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// placeholders renders "$start, $start+1, ..." for n arguments.
func placeholders(start, n int) string {
	buf := make([]byte, 0, n*4)
	for i := 0; i < n; i++ {
		if i > 0 {
			buf = append(buf, ", "...)
		}
		buf = fmt.Appendf(buf, "$%d", start+i)
	}
	return string(buf)
}

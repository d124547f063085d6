// Package sqlitefts is an embedded lexical/structured index on SQLite FTS5.
package sqlitefts

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

const schema = `
CREATE VIRTUAL TABLE IF NOT EXISTS chunk_fts USING fts5(
	chunk_id UNINDEXED,
	body,
	tokenize = 'porter unicode61'
);

CREATE TABLE IF NOT EXISTS chunk_fields (
	chunk_id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	source_name TEXT NOT NULL,
	entity TEXT NOT NULL DEFAULT '',
	metric_category TEXT NOT NULL DEFAULT '',
	period_keys TEXT NOT NULL DEFAULT '',
	tombstoned INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_chunk_fields_document ON chunk_fields(document_id);
CREATE INDEX IF NOT EXISTS idx_chunk_fields_metric ON chunk_fields(metric_category);
`

// Index scores text matches with bm25; a row that also satisfies the full
// structured query gets +1, and structured-only matches score exactly 1.
type Index struct {
	db *sql.DB
}

// Open creates the database file and schema if needed.
func Open(path string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create lexical schema: %w", err)
	}
	return &Index{db: db}, nil
}

func (x *Index) Close() error {
	return x.db.Close()
}

func (x *Index) Index(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lexical tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, c := range chunks {
		var entity, metric string
		if c.Metadata != nil {
			entity, metric = c.Metadata.Entity, c.Metadata.MetricCategory
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_fts WHERE chunk_id = ?`, c.ID); err != nil {
			return fmt.Errorf("clear fts row %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO chunk_fts (chunk_id, body) VALUES (?, ?)`, c.ID, searchText(c)); err != nil {
			return fmt.Errorf("insert fts row %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO chunk_fields (chunk_id, document_id, source_name, entity, metric_category, period_keys, tombstoned)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (chunk_id) DO UPDATE SET
	entity = excluded.entity,
	metric_category = excluded.metric_category,
	period_keys = excluded.period_keys,
	tombstoned = excluded.tombstoned
`, c.ID, c.DocumentID, c.SourceName, entity, metric, periodKeyField(c.Period()), c.Tombstoned); err != nil {
			return fmt.Errorf("insert fields row %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit lexical tx: %w", err)
	}
	return nil
}

func (x *Index) Search(ctx context.Context, query domain.LexicalQuery, limit int) ([]domain.LegHit, error) {
	sqlText, args, ok := buildSearch(query, limit)
	if !ok {
		return nil, nil
	}

	rows, err := x.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	out := make([]domain.LegHit, 0, limit)
	for rows.Next() {
		var hit domain.LegHit
		if err := rows.Scan(&hit.ChunkID, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan lexical hit: %w", err)
		}
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lexical hits: %w", err)
	}
	return out, nil
}

func (x *Index) TombstoneDocument(ctx context.Context, documentID string) error {
	if _, err := x.db.ExecContext(ctx, `UPDATE chunk_fields SET tombstoned = 1 WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("tombstone lexical entries: %w", err)
	}
	return nil
}

type argList struct {
	args []any
}

func (a *argList) add(v any) string {
	a.args = append(a.args, v)
	return fmt.Sprintf("?%d", len(a.args))
}

func buildSearch(query domain.LexicalQuery, limit int) (string, []any, bool) {
	var a argList

	structured := structuredClauses(&a, query.Structured)
	structuredMatch := "0"
	if len(structured) > 0 {
		structuredMatch = "(" + strings.Join(structured, " AND ") + ")"
	}

	join := ""
	textMatch := "0"
	rank := "0"
	if len(query.Tokens) > 0 {
		join = `
LEFT JOIN (
	SELECT chunk_id, -bm25(chunk_fts) AS rank_score
	FROM chunk_fts
	WHERE chunk_fts MATCH ` + a.add(matchExpression(query.Tokens)) + `
) t ON t.chunk_id = f.chunk_id`
		textMatch = "t.chunk_id IS NOT NULL"
		rank = "COALESCE(t.rank_score, 0)"
	}
	if textMatch == "0" && structuredMatch == "0" {
		return "", nil, false
	}

	where := []string{
		"f.tombstoned = 0",
		"(" + textMatch + " OR " + structuredMatch + ")",
	}
	where = append(where, hardFilterClauses(&a, query.Filters)...)

	sqlText := `
SELECT f.chunk_id, ` + rank + ` + CASE WHEN ` + structuredMatch + ` THEN 1 ELSE 0 END AS score
FROM chunk_fields f` + join + `
WHERE ` + strings.Join(where, "\n\tAND ") + `
ORDER BY score DESC, f.chunk_id
LIMIT ` + a.add(limit)
	return sqlText, a.args, true
}

func structuredClauses(a *argList, f domain.SearchFilters) []string {
	var out []string
	if f.Entity != "" {
		out = append(out, "lower(f.entity) = lower("+a.add(f.Entity)+")")
	}
	if f.MetricCategory != "" {
		out = append(out, "f.metric_category = "+a.add(f.MetricCategory))
	}
	if f.Period != "" {
		out = append(out, "f.period_keys LIKE '% ' || "+a.add(f.Period)+" || ' %'")
	}
	return out
}

func hardFilterClauses(a *argList, f domain.SearchFilters) []string {
	out := structuredClauses(a, f)
	if f.DocumentID != "" {
		out = append(out, "f.document_id = "+a.add(f.DocumentID))
	}
	if f.SourceName != "" {
		out = append(out, "f.source_name = "+a.add(f.SourceName))
	}
	return out
}

// matchExpression quotes every token and ORs them together.
func matchExpression(tokens []string) string {
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// periodKeyField stores the key hierarchy space-delimited on both ends so a
// LIKE on " key " is an exact key match.
func periodKeyField(period string) string {
	keys := domain.PeriodKeys(period)
	if len(keys) == 0 {
		return ""
	}
	return " " + strings.Join(keys, " ") + " "
}

func searchText(c domain.Chunk) string {
	if c.TableContext == "" || strings.Contains(c.Text, c.TableContext) {
		return c.Text
	}
	return c.TableContext + "\n" + c.Text
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

// LexicalIndex is the Postgres full-text and structured-field index. Rows
// match on any query token or on the full structured query; matching both
// adds 1 to the text rank.
type LexicalIndex struct {
	db *sql.DB
}

func NewLexicalIndex(db *sql.DB) *LexicalIndex {
	return &LexicalIndex{db: db}
}

func (x *LexicalIndex) Index(ctx context.Context, chunks []domain.Chunk) error {
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

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunk_search (chunk_id, document_id, source_name, tsv, entity, metric_category, period_keys, tombstoned)
VALUES ($1, $2, $3, to_tsvector('english', $4), $5, $6, string_to_array($7, ' '), $8)
ON CONFLICT (chunk_id) DO UPDATE SET
	tsv = EXCLUDED.tsv,
	entity = EXCLUDED.entity,
	metric_category = EXCLUDED.metric_category,
	period_keys = EXCLUDED.period_keys,
	tombstoned = EXCLUDED.tombstoned
`)
	if err != nil {
		return fmt.Errorf("prepare lexical insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		var entity, metric string
		if c.Metadata != nil {
			entity, metric = c.Metadata.Entity, c.Metadata.MetricCategory
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.SourceName, searchText(c), entity, metric,
			strings.Join(domain.PeriodKeys(c.Period()), " "), c.Tombstoned,
		); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit lexical tx: %w", err)
	}
	return nil
}

func (x *LexicalIndex) Search(ctx context.Context, query domain.LexicalQuery, limit int) ([]domain.LegHit, error) {
	sqlText, args, ok := buildLexicalSearch(query, limit)
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

func (x *LexicalIndex) TombstoneDocument(ctx context.Context, documentID string) error {
	if _, err := x.db.ExecContext(ctx, `
UPDATE chunk_search
SET tombstoned = TRUE
WHERE document_id = $1
`, documentID); err != nil {
		return fmt.Errorf("tombstone lexical entries: %w", err)
	}
	return nil
}

type argList struct {
	args []any
}

func (a *argList) add(v any) string {
	a.args = append(a.args, v)
	return fmt.Sprintf("$%d", len(a.args))
}

// buildLexicalSearch returns ok=false when the query has neither tokens nor
// structured fields.
func buildLexicalSearch(query domain.LexicalQuery, limit int) (string, []any, bool) {
	var a argList

	structured := structuredClauses(&a, query.Structured)
	structuredMatch := "FALSE"
	if len(structured) > 0 {
		structuredMatch = "(" + strings.Join(structured, " AND ") + ")"
	}

	textMatch := "FALSE"
	rank := "0"
	if len(query.Tokens) > 0 {
		tsq := "to_tsquery('english', " + a.add(strings.Join(query.Tokens, " | ")) + ")"
		textMatch = "s.tsv @@ " + tsq
		rank = "ts_rank_cd(s.tsv, " + tsq + ")"
	}
	if textMatch == "FALSE" && structuredMatch == "FALSE" {
		return "", nil, false
	}

	where := []string{
		"NOT s.tombstoned",
		"(" + textMatch + " OR " + structuredMatch + ")",
	}
	where = append(where, hardFilterClauses(&a, query.Filters)...)

	sqlText := `
SELECT s.chunk_id, ` + rank + ` + CASE WHEN ` + structuredMatch + ` THEN 1 ELSE 0 END AS score
FROM chunk_search s
WHERE ` + strings.Join(where, "\n\tAND ") + `
ORDER BY score DESC, s.chunk_id
LIMIT ` + a.add(limit)
	return sqlText, a.args, true
}

func structuredClauses(a *argList, f domain.SearchFilters) []string {
	var out []string
	if f.Entity != "" {
		out = append(out, "lower(s.entity) = lower("+a.add(f.Entity)+")")
	}
	if f.MetricCategory != "" {
		out = append(out, "s.metric_category = "+a.add(f.MetricCategory))
	}
	if f.Period != "" {
		out = append(out, a.add(f.Period)+" = ANY(s.period_keys)")
	}
	return out
}

func hardFilterClauses(a *argList, f domain.SearchFilters) []string {
	out := structuredClauses(a, f)
	if f.DocumentID != "" {
		out = append(out, "s.document_id = "+a.add(f.DocumentID))
	}
	if f.SourceName != "" {
		out = append(out, "s.source_name = "+a.add(f.SourceName))
	}
	return out
}

// searchText indexes the table context alongside the chunk body so that a
// caption or heading is searchable from every table part.
func searchText(c domain.Chunk) string {
	if c.TableContext == "" || strings.Contains(c.Text, c.TableContext) {
		return c.Text
	}
	return c.TableContext + "\n" + c.Text
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

// ChunkStore is the canonical chunk store. Index hits are hydrated from it.
type ChunkStore struct {
	db *sql.DB
}

func NewChunkStore(db *sql.DB) *ChunkStore {
	return &ChunkStore{db: db}
}

const chunkColumns = `id, document_id, source_name, page_number, pages, chunk_index, chunk_type, text,
	word_count, char_count, table_id, part_index, part_count, table_context, metadata, tombstoned`

// SaveChunks upserts by chunk id so reprocessing a document is idempotent.
func (s *ChunkStore) SaveChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (`+chunkColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
	pages = EXCLUDED.pages,
	text = EXCLUDED.text,
	word_count = EXCLUDED.word_count,
	char_count = EXCLUDED.char_count,
	table_context = EXCLUDED.table_context,
	metadata = EXCLUDED.metadata,
	tombstoned = EXCLUDED.tombstoned
`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		pagesJSON, err := json.Marshal(c.Pages)
		if err != nil {
			return fmt.Errorf("marshal pages: %w", err)
		}
		var metaJSON []byte
		if c.Metadata != nil {
			if metaJSON, err = json.Marshal(c.Metadata); err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.SourceName, c.PageNumber, pagesJSON, c.ChunkIndex, string(c.Type), c.Text,
			c.WordCount, c.CharCount, c.TableID, c.PartIndex, c.PartCount, c.TableContext, metaJSON, c.Tombstoned,
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}
	return nil
}

// GetChunks returns the stored chunks keyed by id; unknown ids are absent.
func (s *ChunkStore) GetChunks(ctx context.Context, ids []string) (map[string]domain.Chunk, error) {
	out := make(map[string]domain.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT `+chunkColumns+`
FROM chunks
WHERE id IN (`+placeholders(1, len(ids))+`)
`, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

func (s *ChunkStore) ListByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+chunkColumns+`
FROM chunks
WHERE document_id = $1
ORDER BY chunk_index
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Chunk, 0)
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

func (s *ChunkStore) TombstoneDocument(ctx context.Context, documentID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
UPDATE chunks
SET tombstoned = TRUE
WHERE document_id = $1 AND NOT tombstoned
`, documentID)
	if err != nil {
		return 0, fmt.Errorf("tombstone chunks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("tombstone chunks rows affected: %w", err)
	}
	return int(n), nil
}

func scanChunk(row rowScanner) (domain.Chunk, error) {
	var c domain.Chunk
	var chunkType string
	var pagesRaw, metaRaw []byte
	err := row.Scan(
		&c.ID, &c.DocumentID, &c.SourceName, &c.PageNumber, &pagesRaw, &c.ChunkIndex, &chunkType, &c.Text,
		&c.WordCount, &c.CharCount, &c.TableID, &c.PartIndex, &c.PartCount, &c.TableContext, &metaRaw, &c.Tombstoned,
	)
	if err != nil {
		return domain.Chunk{}, fmt.Errorf("scan chunk: %w", err)
	}
	c.Type = domain.ChunkType(chunkType)
	if len(pagesRaw) > 0 {
		if err := json.Unmarshal(pagesRaw, &c.Pages); err != nil {
			return domain.Chunk{}, fmt.Errorf("unmarshal pages: %w", err)
		}
	}
	if len(metaRaw) > 0 {
		var meta domain.StructuredMetadata
		if err := json.Unmarshal(metaRaw, &meta); err != nil {
			return domain.Chunk{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
		c.Metadata = &meta
	}
	return c, nil
}

package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

var chunkColumnNames = []string{
	"id", "document_id", "source_name", "page_number", "pages", "chunk_index", "chunk_type", "text",
	"word_count", "char_count", "table_id", "part_index", "part_count", "table_context", "metadata", "tombstoned",
}

func TestChunkStoreSaveChunksInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	chunks := []domain.Chunk{
		{ID: "c1", DocumentID: "doc-1", SourceName: "q3.pdf", PageNumber: 1, Pages: []int{1}, Type: domain.ChunkText, Text: "a"},
		{ID: "c2", DocumentID: "doc-1", SourceName: "q3.pdf", PageNumber: 2, Pages: []int{2}, ChunkIndex: 1, Type: domain.ChunkTable, Text: "b",
			Metadata: &domain.StructuredMetadata{MetricCategory: "revenue", ExtractionMethod: domain.ExtractionExact}},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO chunks")
	prep.ExpectExec().WithArgs(
		"c1", "doc-1", "q3.pdf", 1, []byte("[1]"), 0, "TEXT", "a", 0, 0, "", 0, 0, "", sqlmock.AnyArg(), false,
	).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(
		"c2", "doc-1", "q3.pdf", 2, []byte("[2]"), 1, "TABLE", "b", 0, 0, "", 0, 0, "", sqlmock.AnyArg(), false,
	).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := NewChunkStore(db).SaveChunks(context.Background(), chunks); err != nil {
		t.Fatalf("SaveChunks() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestChunkStoreGetChunksHydratesMetadata(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	meta := []byte(`{"metric_category":"ebitda_margin","normalized_period":"2025-08","confidence":1,"extraction_method":"exact"}`)
	mock.ExpectQuery("WHERE id IN \\(\\$1, \\$2\\)").
		WithArgs("c1", "missing").
		WillReturnRows(sqlmock.NewRows(chunkColumnNames).
			AddRow("c1", "doc-1", "q3.pdf", 4, []byte("[4,5]"), 7, "TABLE", "| a |", 2, 5, "t1", 1, 2, "Key figures", meta, false))

	got, err := NewChunkStore(db).GetChunks(context.Background(), []string{"c1", "missing"})
	if err != nil {
		t.Fatalf("GetChunks() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(got))
	}
	c := got["c1"]
	if c.PageNumber != 4 || len(c.Pages) != 2 || c.PartCount != 2 || c.TableContext != "Key figures" {
		t.Fatalf("unexpected chunk %+v", c)
	}
	if c.Metadata == nil || c.Metadata.NormalizedPeriod != "2025-08" {
		t.Fatalf("expected metadata, got %+v", c.Metadata)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestChunkStoreGetChunksEmptyIDsSkipsQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	got, err := NewChunkStore(db).GetChunks(context.Background(), nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %v err=%v", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestChunkStoreTombstoneDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE chunks").
		WithArgs("doc-0").
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := NewChunkStore(db).TombstoneDocument(context.Background(), "doc-0")
	if err != nil {
		t.Fatalf("TombstoneDocument() error = %v", err)
	}
	if n != 12 {
		t.Fatalf("expected 12 tombstoned, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

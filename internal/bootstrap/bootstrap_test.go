package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kirillkom/fin-retrieval/internal/config"
	"github.com/kirillkom/fin-retrieval/internal/core/domain"
	"github.com/kirillkom/fin-retrieval/internal/core/lexicon"
	"github.com/kirillkom/fin-retrieval/internal/core/usecase"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/lexical/sqlitefts"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/repository/postgres"
)

func TestNewLexicalIndexSelectsBackend(t *testing.T) {
	sqliteIdx, err := newLexicalIndex(config.Config{
		LexicalBackend:    config.LexicalBackendSQLite,
		LexicalSQLitePath: filepath.Join(t.TempDir(), "lexical.db"),
	}, nil)
	if err != nil {
		t.Fatalf("newLexicalIndex(sqlite) error = %v", err)
	}
	idx, ok := sqliteIdx.(*sqlitefts.Index)
	if !ok {
		t.Fatalf("expected sqlite index, got %T", sqliteIdx)
	}
	t.Cleanup(func() { _ = idx.Close() })

	pgIdx, err := newLexicalIndex(config.Config{LexicalBackend: config.LexicalBackendPostgres}, nil)
	if err != nil {
		t.Fatalf("newLexicalIndex(postgres) error = %v", err)
	}
	if _, ok := pgIdx.(*postgres.LexicalIndex); !ok {
		t.Fatalf("expected postgres index, got %T", pgIdx)
	}

	if _, err := newLexicalIndex(config.Config{LexicalBackend: "elastic"}, nil); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestBuiltInVocabularyPassesRoutingCheck(t *testing.T) {
	lex := lexicon.Default()
	if err := checkRouting(usecase.NewQueryClassifier(lex), lex, 0.10); err != nil {
		t.Fatalf("checkRouting() error = %v", err)
	}
}

type denseIndexFake struct {
	err   error
	calls int
}

func (f *denseIndexFake) EnsureCollection(context.Context, int) error {
	f.calls++
	return f.err
}

func (f *denseIndexFake) Upsert(context.Context, []domain.Chunk, [][]float32) error { return nil }

func (f *denseIndexFake) Search(context.Context, []float32, int, domain.SearchFilters) ([]domain.LegHit, error) {
	return nil, nil
}

func (f *denseIndexFake) TombstoneDocument(context.Context, string) error { return nil }

func TestEnsureDenseDimension(t *testing.T) {
	mismatch := &denseIndexFake{err: domain.WrapError(domain.ErrDimensionMismatch, "dense index", errors.New("768 vs 1024"))}
	if err := ensureDenseDimension(context.Background(), mismatch, 1024); !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch at startup, got %v", err)
	}

	unreachable := &denseIndexFake{err: errors.New("connection refused")}
	if err := ensureDenseDimension(context.Background(), unreachable, 1024); err != nil {
		t.Fatalf("unreachable index must not block startup, got %v", err)
	}

	unset := &denseIndexFake{}
	if err := ensureDenseDimension(context.Background(), unset, 0); err != nil || unset.calls != 0 {
		t.Fatalf("expected no check without a configured dimension, err=%v calls=%d", err, unset.calls)
	}
}

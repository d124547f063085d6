package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
	"github.com/kirillkom/fin-retrieval/internal/core/ports"
)

// DocumentQueryUseCase serves document state and chunk provenance.
type DocumentQueryUseCase struct {
	repo   ports.DocumentRepository
	chunks ports.ChunkStore
}

func NewDocumentQueryUseCase(repo ports.DocumentRepository, chunks ports.ChunkStore) *DocumentQueryUseCase {
	return &DocumentQueryUseCase{repo: repo, chunks: chunks}
}

func (uc *DocumentQueryUseCase) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	return uc.repo.GetByID(ctx, id)
}

// ListChunks returns the document's chunks in chunk_index order, tombstoned
// ones included so superseded versions stay inspectable.
func (uc *DocumentQueryUseCase) ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	if _, err := uc.repo.GetByID(ctx, documentID); err != nil {
		return nil, err
	}
	chunks, err := uc.chunks.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return chunks, nil
}

package ports

import (
	"context"
	"io"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document state and provenance.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// Retriever answers retrieval requests with ranked, attributable chunks.
type Retriever interface {
	Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResponse, error)
}

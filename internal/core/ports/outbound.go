package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SetPageAndChunkCount(ctx context.Context, id string, pages, chunks int) error
	// ListActiveBySource returns ready documents with the given source name that
	// are not superseded.
	ListActiveBySource(ctx context.Context, sourceName string) ([]domain.Document, error)
	MarkSuperseded(ctx context.Context, id, supersededBy string) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// ElementExtractor turns a stored document into ordered parser elements.
type ElementExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) ([]domain.Element, error)
}

// Chunker turns parser elements into bounded, attributable chunks.
type Chunker interface {
	Chunk(doc *domain.Document, elements []domain.Element) []domain.Chunk
}

// MetadataExtractor attaches structured fields to a chunk. A nil result means
// nothing could be extracted.
type MetadataExtractor interface {
	Extract(ctx context.Context, chunk domain.Chunk) (*domain.StructuredMetadata, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore is the canonical chunk store used to hydrate index hits.
type ChunkStore interface {
	SaveChunks(ctx context.Context, chunks []domain.Chunk) error
	GetChunks(ctx context.Context, ids []string) (map[string]domain.Chunk, error)
	ListByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error)
	TombstoneDocument(ctx context.Context, documentID string) (int, error)
}

// DenseIndex performs nearest-neighbour lookup over chunk embeddings.
type DenseIndex interface {
	EnsureCollection(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, limit int, filters domain.SearchFilters) ([]domain.LegHit, error)
	TombstoneDocument(ctx context.Context, documentID string) error
}

// LexicalIndex performs keyword and structured-field lookup.
type LexicalIndex interface {
	Index(ctx context.Context, chunks []domain.Chunk) error
	Search(ctx context.Context, query domain.LexicalQuery, limit int) ([]domain.LegHit, error)
	TombstoneDocument(ctx context.Context, documentID string) error
}

// QueryClassifier selects a retrieval strategy for a query.
type QueryClassifier interface {
	Classify(query string) domain.QueryPlan
}

// RetrievalObserver receives per-request retrieval telemetry.
type RetrievalObserver interface {
	ObserveLeg(report domain.LegReport)
	ObserveRetrieval(resp *domain.RetrievalResponse, duration time.Duration)
}

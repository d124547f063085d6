package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
	"github.com/kirillkom/fin-retrieval/internal/core/ports"
)

const defaultEmbedBatchSize = 32

type ProcessOptions struct {
	// EmbeddingDimension, when set, is enforced on every chunk vector.
	EmbeddingDimension int
	EmbedBatchSize     int
}

type ProcessDocumentUseCase struct {
	repo      ports.DocumentRepository
	extractor ports.ElementExtractor
	chunker   ports.Chunker
	metadata  ports.MetadataExtractor
	embedder  ports.Embedder
	chunks    ports.ChunkStore
	dense     ports.DenseIndex
	lexical   ports.LexicalIndex
	opts      ProcessOptions
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	extractor ports.ElementExtractor,
	chunker ports.Chunker,
	metadata ports.MetadataExtractor,
	embedder ports.Embedder,
	chunks ports.ChunkStore,
	dense ports.DenseIndex,
	lexical ports.LexicalIndex,
	opts ProcessOptions,
) *ProcessDocumentUseCase {
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = defaultEmbedBatchSize
	}
	return &ProcessDocumentUseCase{
		repo:      repo,
		extractor: extractor,
		chunker:   chunker,
		metadata:  metadata,
		embedder:  embedder,
		chunks:    chunks,
		dense:     dense,
		lexical:   lexical,
		opts:      opts,
	}
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	ctx, span := tracer.Start(ctx, "ingest.process")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID))

	if err := uc.markStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	doc, err := uc.processPipeline(ctx, documentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "process document")
		if failErr := uc.markFailed(ctx, documentID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.markStatus(ctx, documentID, domain.StatusReady, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}

	if err := uc.supersedePrevious(ctx, doc); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (uc *ProcessDocumentUseCase) processPipeline(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := uc.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	elements, err := uc.extractElements(ctx, doc)
	if err != nil {
		return nil, err
	}

	chunks, err := uc.chunk(doc, elements)
	if err != nil {
		return nil, err
	}

	uc.enrich(ctx, chunks)

	vectors, err := uc.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}

	if err := uc.index(ctx, chunks, vectors); err != nil {
		return nil, err
	}

	if err := uc.repo.SetPageAndChunkCount(ctx, doc.ID, pageCount(elements), len(chunks)); err != nil {
		return nil, fmt.Errorf("save page and chunk count: %w", err)
	}
	return doc, nil
}

func (uc *ProcessDocumentUseCase) loadDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	return doc, nil
}

func (uc *ProcessDocumentUseCase) extractElements(ctx context.Context, doc *domain.Document) ([]domain.Element, error) {
	elements, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("extract elements: %w", err)
	}
	if len(elements) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract elements", errors.New("document has no elements"))
	}
	return elements, nil
}

func (uc *ProcessDocumentUseCase) chunk(doc *domain.Document, elements []domain.Element) ([]domain.Chunk, error) {
	chunks := uc.chunker.Chunk(doc, elements)
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("chunking produced zero chunks"))
	}
	return chunks, nil
}

// enrich attaches structured metadata. Extraction is best effort: a failure
// leaves the chunk without metadata.
func (uc *ProcessDocumentUseCase) enrich(ctx context.Context, chunks []domain.Chunk) {
	if uc.metadata == nil {
		return
	}
	for i := range chunks {
		meta, err := uc.metadata.Extract(ctx, chunks[i])
		if err != nil {
			slog.Warn("metadata_extraction_failed", "chunk_id", chunks[i].ID, "error", err)
			continue
		}
		chunks[i].Metadata = meta
	}
}

func (uc *ProcessDocumentUseCase) embed(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += uc.opts.EmbedBatchSize {
		end := min(start+uc.opts.EmbedBatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		batch, err := uc.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "embed chunks", err)
		}
		vectors = append(vectors, batch...)
	}

	if len(vectors) != len(chunks) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)),
		)
	}
	want := uc.opts.EmbeddingDimension
	if want <= 0 {
		want = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != want {
			return nil, domain.WrapError(
				domain.ErrDimensionMismatch,
				"embed chunks",
				fmt.Errorf("chunk %s: got %d, want %d", chunks[i].ID, len(v), want),
			)
		}
	}
	return vectors, nil
}

// index writes the canonical store first so every index entry can be
// hydrated.
func (uc *ProcessDocumentUseCase) index(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if err := uc.chunks.SaveChunks(ctx, chunks); err != nil {
		return fmt.Errorf("save chunks: %w", err)
	}
	if err := uc.dense.EnsureCollection(ctx, len(vectors[0])); err != nil {
		return fmt.Errorf("ensure dense collection: %w", err)
	}
	if err := uc.dense.Upsert(ctx, chunks, vectors); err != nil {
		return fmt.Errorf("index chunks in dense index: %w", err)
	}
	if err := uc.lexical.Index(ctx, chunks); err != nil {
		return fmt.Errorf("index chunks in lexical index: %w", err)
	}
	return nil
}

// supersedePrevious tombstones every other active version of the same source.
func (uc *ProcessDocumentUseCase) supersedePrevious(ctx context.Context, doc *domain.Document) error {
	active, err := uc.repo.ListActiveBySource(ctx, doc.SourceName)
	if err != nil {
		return fmt.Errorf("list previous versions: %w", err)
	}

	var errs []error
	for _, prev := range active {
		if prev.ID == doc.ID {
			continue
		}
		if err := uc.tombstone(ctx, prev.ID); err != nil {
			slog.Warn("document_supersede_failed", "document_id", prev.ID, "superseded_by", doc.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		if err := uc.repo.MarkSuperseded(ctx, prev.ID, doc.ID); err != nil {
			errs = append(errs, fmt.Errorf("mark %s superseded: %w", prev.ID, err))
			continue
		}
		slog.Info("document_superseded", "document_id", prev.ID, "superseded_by", doc.ID)
	}
	return errors.Join(errs...)
}

func (uc *ProcessDocumentUseCase) tombstone(ctx context.Context, documentID string) error {
	if _, err := uc.chunks.TombstoneDocument(ctx, documentID); err != nil {
		return fmt.Errorf("tombstone chunks: %w", err)
	}
	if err := uc.dense.TombstoneDocument(ctx, documentID); err != nil {
		return fmt.Errorf("tombstone dense entries: %w", err)
	}
	if err := uc.lexical.TombstoneDocument(ctx, documentID); err != nil {
		return fmt.Errorf("tombstone lexical entries: %w", err)
	}
	return nil
}

func (uc *ProcessDocumentUseCase) markStatus(ctx context.Context, documentID string, status domain.DocumentStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, documentID, status, errMessage)
}

func (uc *ProcessDocumentUseCase) markFailed(ctx context.Context, documentID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, documentID, domain.StatusFailed, processErr.Error())
}

func pageCount(elements []domain.Element) int {
	pages := 0
	for _, el := range elements {
		pages = max(pages, el.PageNumber)
	}
	return max(pages, 1)
}

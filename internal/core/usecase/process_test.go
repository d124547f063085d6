package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
	"github.com/kirillkom/fin-retrieval/internal/core/ports"
)

type statusCall struct {
	status domain.DocumentStatus
	errMsg string
}

type processRepoFake struct {
	doc           *domain.Document
	getErr        error
	statusErr     error
	failStatusErr error
	statusCalls   []statusCall
	pages         int
	chunkCount    int
	active        []domain.Document
	superseded    map[string]string
}

func (f *processRepoFake) Create(context.Context, *domain.Document) error { return nil }

func (f *processRepoFake) GetByID(context.Context, string) (*domain.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	copyDoc := *f.doc
	return &copyDoc, nil
}

func (f *processRepoFake) UpdateStatus(_ context.Context, _ string, status domain.DocumentStatus, errMessage string) error {
	f.statusCalls = append(f.statusCalls, statusCall{status: status, errMsg: errMessage})
	if status == domain.StatusFailed && f.failStatusErr != nil {
		return f.failStatusErr
	}
	if f.statusErr != nil {
		return f.statusErr
	}
	return nil
}

func (f *processRepoFake) SetPageAndChunkCount(_ context.Context, _ string, pages, chunks int) error {
	f.pages = pages
	f.chunkCount = chunks
	return nil
}

func (f *processRepoFake) ListActiveBySource(context.Context, string) ([]domain.Document, error) {
	return f.active, nil
}

func (f *processRepoFake) MarkSuperseded(_ context.Context, id, supersededBy string) error {
	if f.superseded == nil {
		f.superseded = map[string]string{}
	}
	f.superseded[id] = supersededBy
	return nil
}

type extractorFake struct {
	elements []domain.Element
	err      error
}

func (f *extractorFake) Extract(context.Context, *domain.Document) ([]domain.Element, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.elements, nil
}

type chunkerFake struct {
	texts []string
}

func (f *chunkerFake) Chunk(doc *domain.Document, _ []domain.Element) []domain.Chunk {
	out := make([]domain.Chunk, 0, len(f.texts))
	for i, text := range f.texts {
		out = append(out, domain.Chunk{
			ID:         doc.ID + "-" + text,
			DocumentID: doc.ID,
			SourceName: doc.SourceName,
			PageNumber: 1,
			ChunkIndex: i,
			Type:       domain.ChunkText,
			Text:       text,
		})
	}
	return out
}

type metadataFake struct {
	err error
}

func (f *metadataFake) Extract(_ context.Context, chunk domain.Chunk) (*domain.StructuredMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.StructuredMetadata{MetricCategory: "revenue", ExtractionMethod: domain.ExtractionExact, Confidence: 1}, nil
}

type embedderFake struct {
	vectors [][]float32
	err     error
	batches int
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.batches++
	if f.err != nil {
		return nil, f.err
	}
	if f.vectors != nil {
		return f.vectors, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(context.Context, string) ([]float32, error) { return nil, nil }

type processFixture struct {
	repo     *processRepoFake
	chunks   *chunkStoreFake
	embedder *embedderFake
}

func newProcessUseCase(fx *processFixture, extractor *extractorFake, metadata *metadataFake, opts ProcessOptions) *ProcessDocumentUseCase {
	if fx.chunks == nil {
		fx.chunks = storeOf()
	}
	if fx.embedder == nil {
		fx.embedder = &embedderFake{}
	}
	var meta ports.MetadataExtractor
	if metadata != nil {
		meta = metadata
	}
	return NewProcessDocumentUseCase(
		fx.repo,
		extractor,
		&chunkerFake{texts: []string{"a", "b", "c"}},
		meta,
		fx.embedder,
		fx.chunks,
		&denseFake{},
		&lexicalFake{},
		opts,
	)
}

func textElements(pages ...int) []domain.Element {
	out := make([]domain.Element, 0, len(pages))
	for i, p := range pages {
		out = append(out, domain.Element{Type: domain.ElementText, PageNumber: p, Position: i, Content: "x"})
	}
	return out
}

func TestProcessByIDSuccess(t *testing.T) {
	fx := &processFixture{repo: &processRepoFake{doc: &domain.Document{ID: "doc-1", SourceName: "q3.pdf"}}}
	uc := newProcessUseCase(fx, &extractorFake{elements: textElements(1, 4, 2)}, &metadataFake{}, ProcessOptions{EmbedBatchSize: 2})

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if len(fx.repo.statusCalls) != 2 {
		t.Fatalf("expected 2 status calls, got %d", len(fx.repo.statusCalls))
	}
	if fx.repo.statusCalls[0].status != domain.StatusProcessing || fx.repo.statusCalls[1].status != domain.StatusReady {
		t.Fatalf("unexpected status sequence: %+v", fx.repo.statusCalls)
	}
	if fx.repo.pages != 4 || fx.repo.chunkCount != 3 {
		t.Fatalf("expected pages=4 chunks=3, got pages=%d chunks=%d", fx.repo.pages, fx.repo.chunkCount)
	}
	if fx.embedder.batches != 2 {
		t.Fatalf("expected 2 embedding batches, got %d", fx.embedder.batches)
	}
	if len(fx.chunks.chunks) != 3 {
		t.Fatalf("expected 3 stored chunks, got %d", len(fx.chunks.chunks))
	}
	for _, c := range fx.chunks.chunks {
		if c.Metadata == nil || c.Metadata.MetricCategory != "revenue" {
			t.Fatalf("expected enriched metadata on %s, got %+v", c.ID, c.Metadata)
		}
	}
}

func TestProcessByIDKeepsChunksWhenMetadataFails(t *testing.T) {
	fx := &processFixture{repo: &processRepoFake{doc: &domain.Document{ID: "doc-1", SourceName: "q3.pdf"}}}
	uc := newProcessUseCase(fx, &extractorFake{elements: textElements(1)}, &metadataFake{err: errors.New("boom")}, ProcessOptions{})

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	for _, c := range fx.chunks.chunks {
		if c.Metadata != nil {
			t.Fatalf("expected no metadata on %s", c.ID)
		}
	}
}

func TestProcessByIDMarksFailedOnExtractError(t *testing.T) {
	fx := &processFixture{repo: &processRepoFake{doc: &domain.Document{ID: "doc-1"}}}
	uc := newProcessUseCase(fx, &extractorFake{err: errors.New("extract fail")}, nil, ProcessOptions{})

	err := uc.ProcessByID(context.Background(), "doc-1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(fx.repo.statusCalls) != 2 {
		t.Fatalf("expected processing + failed status updates, got %d", len(fx.repo.statusCalls))
	}
	if fx.repo.statusCalls[1].status != domain.StatusFailed {
		t.Fatalf("expected failed status, got %+v", fx.repo.statusCalls[1])
	}
}

func TestProcessByIDRejectsEmptyDocument(t *testing.T) {
	fx := &processFixture{repo: &processRepoFake{doc: &domain.Document{ID: "doc-1"}}}
	uc := newProcessUseCase(fx, &extractorFake{}, nil, ProcessOptions{})

	err := uc.ProcessByID(context.Background(), "doc-1")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestProcessByIDMarksFailedOnVectorMismatch(t *testing.T) {
	fx := &processFixture{
		repo:     &processRepoFake{doc: &domain.Document{ID: "doc-1"}},
		embedder: &embedderFake{vectors: [][]float32{{1}}},
	}
	uc := newProcessUseCase(fx, &extractorFake{elements: textElements(1)}, nil, ProcessOptions{})

	err := uc.ProcessByID(context.Background(), "doc-1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(fx.repo.statusCalls) != 2 || fx.repo.statusCalls[1].status != domain.StatusFailed {
		t.Fatalf("expected final failed status, got %+v", fx.repo.statusCalls)
	}
}

func TestProcessByIDRejectsDimensionMismatch(t *testing.T) {
	fx := &processFixture{repo: &processRepoFake{doc: &domain.Document{ID: "doc-1"}}}
	uc := newProcessUseCase(fx, &extractorFake{elements: textElements(1)}, nil, ProcessOptions{EmbeddingDimension: 768})

	err := uc.ProcessByID(context.Background(), "doc-1")
	if !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if len(fx.chunks.chunks) != 0 {
		t.Fatalf("no chunk may be stored on a dimension mismatch")
	}
}

func TestProcessByIDEmbeddingFailure(t *testing.T) {
	fx := &processFixture{
		repo:     &processRepoFake{doc: &domain.Document{ID: "doc-1"}},
		embedder: &embedderFake{err: errors.New("ollama down")},
	}
	uc := newProcessUseCase(fx, &extractorFake{elements: textElements(1)}, nil, ProcessOptions{})

	err := uc.ProcessByID(context.Background(), "doc-1")
	if !domain.IsKind(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected embedding unavailable, got %v", err)
	}
	if !strings.Contains(fx.repo.statusCalls[1].errMsg, "ollama down") {
		t.Fatalf("expected failure reason stored, got %q", fx.repo.statusCalls[1].errMsg)
	}
}

func TestProcessByIDSupersedesPreviousVersion(t *testing.T) {
	old := domain.Chunk{ID: "old-1", DocumentID: "doc-0", SourceName: "q3.pdf", PageNumber: 1}
	fx := &processFixture{
		repo: &processRepoFake{
			doc:    &domain.Document{ID: "doc-1", SourceName: "q3.pdf"},
			active: []domain.Document{{ID: "doc-0", SourceName: "q3.pdf"}, {ID: "doc-1", SourceName: "q3.pdf"}},
		},
		chunks: storeOf(old),
	}
	uc := newProcessUseCase(fx, &extractorFake{elements: textElements(1)}, nil, ProcessOptions{})

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if fx.repo.superseded["doc-0"] != "doc-1" {
		t.Fatalf("expected doc-0 superseded by doc-1, got %+v", fx.repo.superseded)
	}
	if _, self := fx.repo.superseded["doc-1"]; self {
		t.Fatalf("new document must not supersede itself")
	}
	if !fx.chunks.chunks["old-1"].Tombstoned {
		t.Fatalf("expected old chunk tombstoned")
	}
	if fx.chunks.chunks["doc-1-a"].Tombstoned {
		t.Fatalf("new chunks must stay live")
	}
}

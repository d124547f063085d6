package httpadapter

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/fin-retrieval/internal/config"
	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

type ingestSuccessFake struct {
	calls *[]uploadCall
}

type uploadCall struct {
	filename string
	mimeType string
	body     string
}

func (f ingestSuccessFake) Upload(_ context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", io.EOF)
	}
	if f.calls != nil {
		*f.calls = append(*f.calls, uploadCall{filename: filename, mimeType: mimeType, body: string(raw)})
	}

	now := time.Now().UTC()
	return &domain.Document{
		ID:          "doc-1",
		SourceName:  filename,
		MimeType:    domain.BaseMimeType(mimeType),
		StoragePath: "doc-1_file.txt",
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

type ingestErrFake struct {
	err error
}

func (f ingestErrFake) Upload(context.Context, string, string, io.Reader) (*domain.Document, error) {
	return nil, f.err
}

type docsFake struct {
	err    error
	chunks []domain.Chunk
}

func (f docsFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: id, SourceName: "q3.pdf", MimeType: domain.MimePDF, StoragePath: "a", Status: domain.StatusReady}, nil
}

func (f docsFake) ListChunks(context.Context, string) ([]domain.Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

type retrieverFake struct {
	resp *domain.RetrievalResponse
	err  error
	got  *domain.RetrievalRequest
}

func (f retrieverFake) Retrieve(_ context.Context, req domain.RetrievalRequest) (*domain.RetrievalResponse, error) {
	if f.got != nil {
		*f.got = req
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &domain.RetrievalResponse{Query: req.Query, Strategy: domain.StrategyVectorOnly, Results: []domain.SearchResult{}}, nil
}

func newTestHandler(cfg config.Config) http.Handler {
	return NewRouter(cfg, ingestSuccessFake{}, docsFake{}, retrieverFake{}).Handler()
}

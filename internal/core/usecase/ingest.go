package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
	"github.com/kirillkom/fin-retrieval/internal/core/ports"
)

type IngestDocumentUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
	}
}

func (uc *IngestDocumentUseCase) Upload(
	ctx context.Context,
	filename, mimeType string,
	body io.Reader,
) (*domain.Document, error) {
	sourceName := strings.TrimSpace(filename)
	if sourceName == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", errors.New("file name is required"))
	}
	if !domain.SupportedMimeType(mimeType) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", fmt.Errorf("unsupported mime type %q", mimeType))
	}

	ctx, span := tracer.Start(ctx, "ingest.upload")
	defer span.End()

	id := uuid.NewString()
	span.SetAttributes(attribute.String("document.id", id), attribute.String("document.source", sourceName))
	storageKey := id + "_" + storageSuffix(sourceName)

	counted := &countingReader{r: body}
	if err := uc.storage.Save(ctx, storageKey, counted); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}
	if counted.n == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", errors.New("file is empty"))
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:          id,
		SourceName:  sourceName,
		MimeType:    domain.BaseMimeType(mimeType),
		StoragePath: storageKey,
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	if err := uc.queue.PublishDocumentIngested(ctx, doc.ID); err != nil {
		// Nothing will pick the document up; make that visible on GET.
		if markErr := uc.repo.UpdateStatus(ctx, doc.ID, domain.StatusFailed, "ingestion event not published"); markErr != nil {
			slog.WarnContext(ctx, "document_mark_failed_failed", "document_id", doc.ID, "error", markErr)
		}
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}

	slog.InfoContext(ctx, "document_uploaded",
		"document_id", doc.ID,
		"source", sourceName,
		"mime_type", doc.MimeType,
		"bytes", counted.n,
	)
	return doc, nil
}

const maxStorageSuffix = 96

// storageSuffix keeps a readable, filesystem-safe tail of the source name.
func storageSuffix(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range filepath.Base(name) {
		ok := r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-')
		if !ok {
			if !lastUnderscore {
				b.WriteByte('_')
			}
			lastUnderscore = true
			continue
		}
		b.WriteRune(r)
		lastUnderscore = false
	}
	out := strings.Trim(b.String(), "_.")
	if len(out) > maxStorageSuffix {
		out = out[len(out)-maxStorageSuffix:]
	}
	if out == "" {
		return "document.bin"
	}
	return out
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

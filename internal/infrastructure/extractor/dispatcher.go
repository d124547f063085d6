// Package extractor turns stored source files into ordered parser elements.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
	"github.com/kirillkom/fin-retrieval/internal/core/ports"
)

const defaultMaxBytes = 64 << 20

// Parser converts one file format into elements.
type Parser interface {
	Parse(ctx context.Context, raw []byte) ([]domain.Element, error)
}

// Dispatcher selects a Parser by the document's mime type.
type Dispatcher struct {
	storage  ports.ObjectStorage
	parsers  map[string]Parser
	maxBytes int64
}

func NewDispatcher(storage ports.ObjectStorage, parsers map[string]Parser, maxBytes int64) *Dispatcher {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Dispatcher{storage: storage, parsers: parsers, maxBytes: maxBytes}
}

func (d *Dispatcher) Extract(ctx context.Context, doc *domain.Document) ([]domain.Element, error) {
	parser, ok := d.parsers[domain.BaseMimeType(doc.MimeType)]
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract elements", fmt.Errorf("no parser for %q", doc.MimeType))
	}

	reader, err := d.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, d.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	if int64(len(raw)) > d.maxBytes {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract elements", fmt.Errorf("%s exceeds %d bytes", doc.SourceName, d.maxBytes))
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract elements", errors.New("empty source document"))
	}

	elements, err := parser.Parse(ctx, raw)
	if err != nil {
		return nil, domain.WrapError(domain.ErrIngestion, "parse "+doc.SourceName, err)
	}
	return elements, nil
}

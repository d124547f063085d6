package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTemporary        = errors.New("temporary failure")

	// ErrIngestion marks a malformed element that the chunker recovered from.
	ErrIngestion = errors.New("ingestion error")
	// ErrDimensionMismatch is a configuration error: the embedder and the dense
	// index disagree on vector size.
	ErrDimensionMismatch    = errors.New("embedding dimension mismatch")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrProvenanceMissing    = errors.New("provenance missing")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

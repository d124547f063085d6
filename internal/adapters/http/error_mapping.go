package httpadapter

import (
	"net/http"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrDimensionMismatch):
		return http.StatusInternalServerError
	case domain.IsKind(err, domain.ErrRetrievalUnavailable),
		domain.IsKind(err, domain.ErrEmbeddingUnavailable),
		domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicErrorMessage hides internal details of 5xx failures.
func publicErrorMessage(status int, err error) string {
	switch {
	case status == http.StatusServiceUnavailable && domain.IsKind(err, domain.ErrEmbeddingUnavailable):
		return "embedding service unavailable"
	case status == http.StatusServiceUnavailable:
		return "retrieval temporarily unavailable"
	case status >= 500:
		return "internal error"
	default:
		return err.Error()
	}
}

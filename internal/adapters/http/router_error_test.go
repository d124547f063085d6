package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/fin-retrieval/internal/config"
	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

func postRetrieve(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestRetrieveMapsDomainInvalidInputTo400(t *testing.T) {
	handler := NewRouter(
		config.Config{},
		nil,
		docsFake{},
		retrieverFake{err: domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("bad query"))},
	).Handler()

	res := postRetrieve(t, handler, `{"query":"test"}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestRetrieveMapsUnavailableTo503WithoutInternals(t *testing.T) {
	handler := NewRouter(
		config.Config{},
		nil,
		docsFake{},
		retrieverFake{err: domain.WrapError(domain.ErrRetrievalUnavailable, "retrieve", errors.New("qdrant: connection refused"))},
	).Handler()

	res := postRetrieve(t, handler, `{"query":"revenue"}`)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "connection refused") {
		t.Fatalf("internal error leaked: %s", res.Body.String())
	}
}

func TestRetrieveMapsDimensionMismatchTo500(t *testing.T) {
	handler := NewRouter(
		config.Config{},
		nil,
		docsFake{},
		retrieverFake{err: domain.WrapError(domain.ErrDimensionMismatch, "retrieve", errors.New("768 vs 384"))},
	).Handler()

	res := postRetrieve(t, handler, `{"query":"revenue"}`)
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	var body errorResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.RequestID == "" {
		t.Fatalf("expected request id in error body")
	}
}

func TestGetDocumentByIDReturns404ForNotFound(t *testing.T) {
	handler := NewRouter(
		config.Config{},
		nil,
		docsFake{err: domain.WrapError(domain.ErrDocumentNotFound, "get", errors.New("id=missing"))},
		retrieverFake{},
	).Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestUploadMapsUnsupportedTypeTo400(t *testing.T) {
	handler := NewRouter(
		config.Config{},
		ingestErrFake{err: domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("unsupported mime"))},
		docsFake{},
		retrieverFake{},
	).Handler()

	payload := `{"source_name":"q3.pdf","elements":[{"type":"TEXT","page_number":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kirillkom/fin-retrieval/internal/config"
	"github.com/kirillkom/fin-retrieval/internal/core/domain"
	"github.com/kirillkom/fin-retrieval/internal/core/ports"
	"github.com/kirillkom/fin-retrieval/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	ingest    ports.DocumentIngestor
	docs      ports.DocumentReader
	retriever ports.Retriever
	metrics   *metrics.HTTPServerMetrics

	authToken        string
	maxUploadBytes   int64
	rateLimitRPS     float64
	rateLimitBurst   int
	maxInFlight      int
	backpressureWait time.Duration
}

func NewRouter(
	cfg config.Config,
	ingest ports.DocumentIngestor,
	docs ports.DocumentReader,
	retriever ports.Retriever,
) *Router {
	return &Router{
		ingest:           ingest,
		docs:             docs,
		retriever:        retriever,
		authToken:        cfg.APIAuthToken,
		maxUploadBytes:   cfg.MaxUploadBytes,
		rateLimitRPS:     cfg.APIRateLimitRPS,
		rateLimitBurst:   cfg.APIRateLimitBurst,
		maxInFlight:      cfg.APIMaxInFlight,
		backpressureWait: cfg.APIBackpressureWait,
	}
}

// WithMetrics exposes /metrics and records request metrics.
func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("POST /v1/documents", rt.uploadDocument)
	mux.HandleFunc("GET /v1/documents/{document_id}", rt.getDocument)
	mux.HandleFunc("GET /v1/documents/{document_id}/chunks", rt.listChunks)
	mux.HandleFunc("POST /v1/retrieve", rt.retrieve)

	var h http.Handler = mux
	h = mustRequestValidator().middleware(h)
	h = bodyLimitMiddleware(h, rt.maxUploadBytes)
	h = authMiddleware(h, rt.authToken)
	h = backpressureGate(h, rt.maxInFlight, rt.backpressureWait, rt.recordRejection)
	h = rateLimitMiddleware(h, rt.rateLimitRPS, rt.rateLimitBurst, rt.recordRejection)
	h = accessLogMiddleware(h)
	h = requestIDMiddleware(h)
	if rt.metrics != nil {
		h = rt.metrics.Middleware(serviceName, h)
	}
	return otelhttp.NewHandler(h, "http.server")
}

func (rt *Router) recordRejection(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejection(serviceName, reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		rt.uploadFile(w, r)
	case "application/json":
		rt.uploadElements(w, r)
	default:
		writeError(w, r, http.StatusUnsupportedMediaType, "use multipart/form-data or application/json")
	}
}

func (rt *Router) uploadFile(w http.ResponseWriter, r *http.Request) {
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	doc, err := rt.ingest.Upload(
		r.Context(),
		fileHeader.Filename,
		uploadMimeType(fileHeader.Filename, fileHeader.Header.Get("Content-Type")),
		file,
	)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

// uploadElements accepts parser output directly; the body is stored as-is and
// parsed by the worker.
func (rt *Router) uploadElements(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "read request body")
		return
	}

	var req struct {
		SourceName string `json:"source_name"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	doc, err := rt.ingest.Upload(r.Context(), req.SourceName, domain.MimeElementsJSON, bytes.NewReader(raw))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.docs.GetByID(r.Context(), r.PathValue("document_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) listChunks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("document_id")
	chunks, err := rt.docs.ListChunks(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if chunks == nil {
		chunks = []domain.Chunk{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": id,
		"chunks":      chunks,
	})
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	var req domain.RetrievalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, "query is required")
		return
	}

	resp, err := rt.retriever.Retrieve(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// uploadMimeType trusts the part header unless it is generic, then falls back
// to the file extension.
func uploadMimeType(filename, declared string) string {
	base := domain.BaseMimeType(declared)
	if base != "" && base != "application/octet-stream" {
		return declared
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return domain.MimePDF
	case ".xlsx":
		return domain.MimeXLSX
	case ".json":
		return domain.MimeElementsJSON
	case ".txt", ".md":
		return domain.MimePlainText
	default:
		return declared
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, RequestID: requestIDFromContext(r.Context())})
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeError(w, r, status, publicErrorMessage(status, err))
}

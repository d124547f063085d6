package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

// WorkerMetrics covers the ingestion worker: processed documents by outcome,
// processing time and how long a document waited between upload and pickup.
type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry

	documents *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
	queueLag  prometheus.Histogram
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	m := &WorkerMetrics{
		service:  service,
		registry: prometheus.NewRegistry(),
		documents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "documents_total",
				Help:      "Processed documents by outcome: ready, invalid, retryable or failed.",
			},
			[]string{"service", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "document_duration_seconds",
				Help:      "Extraction through indexing time per document.",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"service", "outcome"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "ingest",
				Name:        "documents_in_flight",
				Help:        "Documents currently being processed.",
				ConstLabels: prometheus.Labels{"service": service},
			},
		),
		queueLag: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "ingest",
				Name:        "queue_lag_seconds",
				Help:        "Delay between document upload and processing start.",
				Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
				ConstLabels: prometheus.Labels{"service": service},
			},
		),
	}
	m.registry.MustRegister(m.documents, m.duration, m.inFlight, m.queueLag)
	return m
}

// Registerer lets breaker and retrieval collectors share the worker endpoint.
func (m *WorkerMetrics) Registerer() prometheus.Registerer {
	return m.registry
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.inFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument(duration time.Duration, err error) {
	m.inFlight.Dec()
	outcome := ingestOutcome(err)
	m.documents.WithLabelValues(m.service, outcome).Inc()
	m.duration.WithLabelValues(m.service, outcome).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.Observe(lag.Seconds())
}

func ingestOutcome(err error) string {
	switch {
	case err == nil:
		return "ready"
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrDimensionMismatch):
		return "invalid"
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrEmbeddingUnavailable):
		return "retryable"
	default:
		return "failed"
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

// RetrievalMetrics records per-request retrieval telemetry: strategy mix,
// fallback rate, degraded responses and per-leg health.
type RetrievalMetrics struct {
	service string

	requestsTotal *prometheus.CounterVec
	fallbackTotal *prometheus.CounterVec
	results       *prometheus.HistogramVec
	duration      *prometheus.HistogramVec
	legTotal      *prometheus.CounterVec
	legDuration   *prometheus.HistogramVec
}

func NewRetrievalMetrics(service string, registerer prometheus.Registerer) *RetrievalMetrics {
	m := &RetrievalMetrics{
		service: service,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "requests_total",
				Help:      "Completed retrieval requests by strategy and outcome.",
			},
			[]string{"service", "strategy", "outcome"},
		),
		fallbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "fallback_total",
				Help:      "Retrieval requests that fell back to the dense leg.",
			},
			[]string{"service", "strategy"},
		),
		results: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "results",
				Help:      "Distribution of returned results per request.",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 50},
			},
			[]string{"service", "strategy"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "duration_seconds",
				Help:      "Retrieval request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "strategy"},
		),
		legTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "leg_total",
				Help:      "Search leg executions by status.",
			},
			[]string{"service", "leg", "status"},
		),
		legDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "leg_duration_seconds",
				Help:      "Search leg duration in seconds.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"service", "leg"},
		),
	}
	registerer.MustRegister(m.requestsTotal, m.fallbackTotal, m.results, m.duration, m.legTotal, m.legDuration)
	return m
}

func (m *RetrievalMetrics) ObserveLeg(report domain.LegReport) {
	m.legTotal.WithLabelValues(m.service, string(report.Leg), string(report.Status)).Inc()
	m.legDuration.WithLabelValues(m.service, string(report.Leg)).Observe(report.DurationMS / 1000)
}

func (m *RetrievalMetrics) ObserveRetrieval(resp *domain.RetrievalResponse, duration time.Duration) {
	if resp == nil {
		return
	}
	strategy := string(resp.Strategy)
	if strategy == "" {
		strategy = "unknown"
	}
	m.requestsTotal.WithLabelValues(m.service, strategy, retrievalOutcome(resp)).Inc()
	if resp.UsedFallback {
		m.fallbackTotal.WithLabelValues(m.service, strategy).Inc()
	}
	m.results.WithLabelValues(m.service, strategy).Observe(float64(len(resp.Results)))
	m.duration.WithLabelValues(m.service, strategy).Observe(duration.Seconds())
}

func retrievalOutcome(resp *domain.RetrievalResponse) string {
	switch {
	case resp.Degraded:
		return "degraded"
	case len(resp.Results) == 0:
		return "empty"
	default:
		return "ok"
	}
}

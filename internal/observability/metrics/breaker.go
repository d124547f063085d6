package metrics

import "github.com/prometheus/client_golang/prometheus"

// BreakerMetrics tracks circuit breaker state per guarded operation
// (qdrant.search, ollama.embed, nats.publish, ...).
type BreakerMetrics struct {
	service string

	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

func NewBreakerMetrics(service string, registerer prometheus.Registerer) *BreakerMetrics {
	m := &BreakerMetrics{
		service: service,
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "resilience",
				Name:      "breaker_state",
				Help:      "Circuit breaker state per operation: 0 closed, 1 half-open, 2 open.",
			},
			[]string{"service", "operation"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resilience",
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker transitions by target state.",
			},
			[]string{"service", "operation", "to"},
		),
	}
	registerer.MustRegister(m.state, m.transitions)
	return m
}

// ObserveStateChange matches resilience.Config.OnStateChange.
func (m *BreakerMetrics) ObserveStateChange(operation, _, to string) {
	m.transitions.WithLabelValues(m.service, operation, to).Inc()
	m.state.WithLabelValues(m.service, operation).Set(breakerStateValue(to))
}

func breakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// BreakerMetrics holds Prometheus metrics for circuit breakers, by component.
type BreakerMetrics struct {
	State        *prometheus.GaugeVec
	StateChanges *prometheus.CounterVec
}

// NewBreakerMetrics creates and registers circuit breaker metrics on the given registry.
func NewBreakerMetrics(reg prometheus.Registerer) *BreakerMetrics {
	m := &BreakerMetrics{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"component"}),
		StateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state_changes_total",
			Help:      "Total number of circuit breaker state transitions.",
		}, []string{"component", "to_state"}),
	}

	reg.MustRegister(m.State, m.StateChanges)
	return m
}

// For returns an observer bound to one component.
func (m *BreakerMetrics) For(component string) *ComponentBreaker {
	m.State.WithLabelValues(component).Set(0)
	return &ComponentBreaker{m: m, component: component}
}

// ComponentBreaker reports transitions of a single breaker.
type ComponentBreaker struct {
	m         *BreakerMetrics
	component string
}

// BreakerStateChanged accepts failsafe-go state names.
func (b *ComponentBreaker) BreakerStateChanged(state string) {
	b.m.StateChanges.WithLabelValues(b.component, state).Inc()
	b.m.State.WithLabelValues(b.component).Set(breakerStateValue(state))
}

func breakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}

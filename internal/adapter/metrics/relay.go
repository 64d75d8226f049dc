package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tajhlande/listen-to-wiki-changes/internal/relay"
)

var relayStates = []relay.State{relay.StateIdle, relay.StateConnecting, relay.StateStreaming, relay.StateGraceWait}

// RelayMetrics records hub and controller activity. It implements relay.Recorder.
type RelayMetrics struct {
	State         *prometheus.GaugeVec
	Subscribers   prometheus.Gauge
	EventsRelayed prometheus.Counter
	FanOut        prometheus.Histogram
	EventsDropped *prometheus.CounterVec
	EventsEvicted prometheus.Counter
	Delivered     prometheus.Counter
	KeepAlives    prometheus.Counter
	SessionsEnded *prometheus.CounterVec
}

var _ relay.Recorder = (*RelayMetrics)(nil)

// NewRelayMetrics creates and registers relay metrics on the given registry.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "state",
			Help:      "Upstream controller state; 1 for the current state, 0 otherwise.",
		}, []string{"state"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "subscribers",
			Help:      "Number of registered subscriber queues.",
		}),
		EventsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "events_relayed_total",
			Help:      "Total number of refined upstream events fanned out.",
		}),
		FanOut: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "fanout_subscribers",
			Help:      "Number of queues each relayed event was offered to.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "events_dropped_total",
			Help:      "Total number of upstream events dropped before fan-out, by reason.",
		}, []string{"reason"}),
		EventsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "events_evicted_total",
			Help:      "Total number of queued events discarded because a queue was full.",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_delivered_total",
			Help:      "Total number of events written to client streams.",
		}),
		KeepAlives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "keepalives_total",
			Help:      "Total number of keep-alives written to client streams.",
		}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "sessions_ended_total",
			Help:      "Total number of upstream sessions ended, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.State, m.Subscribers, m.EventsRelayed, m.FanOut, m.EventsDropped,
		m.EventsEvicted, m.Delivered, m.KeepAlives, m.SessionsEnded,
	)
	m.StateChanged(relay.StateIdle)
	return m
}

func (m *RelayMetrics) StateChanged(state relay.State) {
	for _, s := range relayStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.State.WithLabelValues(string(s)).Set(v)
	}
}

func (m *RelayMetrics) SubscribersChanged(count int) {
	m.Subscribers.Set(float64(count))
}

func (m *RelayMetrics) EventRelayed(subscribers int) {
	m.EventsRelayed.Inc()
	m.FanOut.Observe(float64(subscribers))
}

func (m *RelayMetrics) EventDropped(reason string) {
	m.EventsDropped.WithLabelValues(reason).Inc()
}

func (m *RelayMetrics) EventEvicted()   { m.EventsEvicted.Inc() }
func (m *RelayMetrics) EventDelivered() { m.Delivered.Inc() }
func (m *RelayMetrics) KeepAliveSent()  { m.KeepAlives.Inc() }

func (m *RelayMetrics) SessionEnded(reason string) {
	m.SessionsEnded.WithLabelValues(reason).Inc()
}

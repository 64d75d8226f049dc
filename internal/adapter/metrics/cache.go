package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics holds Prometheus metrics for the wiki listing snapshot cache.
type CacheMetrics struct {
	Hits   prometheus.Counter
	Misses prometheus.Counter
	Errors *prometheus.CounterVec
}

// NewCacheMetrics creates and registers cache metrics on the given registry.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog_cache",
			Name:      "hits_total",
			Help:      "Total number of wiki listing snapshot cache hits.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog_cache",
			Name:      "misses_total",
			Help:      "Total number of wiki listing snapshot cache misses.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog_cache",
			Name:      "errors_total",
			Help:      "Total number of wiki listing snapshot cache errors, by operation.",
		}, []string{"operation"}),
	}

	reg.MustRegister(m.Hits, m.Misses, m.Errors)
	return m
}

func (m *CacheMetrics) Hit()  { m.Hits.Inc() }
func (m *CacheMetrics) Miss() { m.Misses.Inc() }

func (m *CacheMetrics) Failed(operation string) {
	m.Errors.WithLabelValues(operation).Inc()
}

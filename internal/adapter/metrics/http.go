package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics tracks request/response traffic. Long-lived event streams are
// kept out of the request histogram and the in-flight gauge: they are
// counted in RequestsTotal and timed in StreamDuration, while
// StreamMetrics.Active tracks the open ones.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	InFlightGauge   prometheus.Gauge
	StreamDuration  *prometheus.HistogramVec

	streamRoutes map[string]bool
}

// NewHTTPMetrics registers HTTP metrics on reg. streamRoutes are the route
// patterns (as returned by echo.Context.Path) that serve event streams.
func NewHTTPMetrics(reg prometheus.Registerer, streamRoutes ...string) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of non-streaming HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status_code"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests, streams included.",
		}, []string{"method", "route", "status_code"}),
		InFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of non-streaming HTTP requests currently being processed.",
		}),
		StreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of event stream connections in seconds.",
			// 1s up to roughly 18h.
			Buckets: prometheus.ExponentialBuckets(1, 4, 9),
		}, []string{"route", "status_code"}),
		streamRoutes: make(map[string]bool, len(streamRoutes)),
	}
	for _, r := range streamRoutes {
		m.streamRoutes[r] = true
	}

	reg.MustRegister(m.RequestDuration, m.RequestsTotal, m.InFlightGauge, m.StreamDuration)
	return m
}

// Middleware returns an Echo middleware that records HTTP metrics.
// It skips /metrics and /health/* endpoints.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Path()
			if path == "/metrics" || strings.HasPrefix(path, "/health/") {
				return next(c)
			}

			if m.streamRoutes[path] {
				start := time.Now()
				err := next(c)
				status := strconv.Itoa(c.Response().Status)
				m.StreamDuration.WithLabelValues(path, status).Observe(time.Since(start).Seconds())
				m.RequestsTotal.WithLabelValues(c.Request().Method, path, status).Inc()
				return err
			}

			m.InFlightGauge.Inc()
			defer m.InFlightGauge.Dec()

			timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
				status := strconv.Itoa(c.Response().Status)
				m.RequestDuration.WithLabelValues(c.Request().Method, path, status).Observe(v)
				m.RequestsTotal.WithLabelValues(c.Request().Method, path, status).Inc()
			}))

			err := next(c)
			timer.ObserveDuration()
			return err
		}
	}
}

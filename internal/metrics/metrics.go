package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes map engine metrics that are safe to scrape via Prometheus.
// All methods are no-ops on a nil receiver.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	styleTransitions    *prometheus.CounterVec
	transitionDuration  prometheus.Histogram
	routingRequests     *prometheus.CounterVec
	routingDuration     prometheus.Histogram
	measurementRecords  prometheus.Gauge
	tooltipRenders      prometheus.Counter
}

// New creates a fresh Metrics registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "platmap",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "platmap",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	styleTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "platmap",
		Name:      "style_transitions_total",
		Help:      "Style transitions by path (full, light, reverted, failed)",
	}, []string{"path"})

	transitionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "platmap",
		Name:      "style_transition_duration_seconds",
		Help:      "Time from style request to completed replay",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	routingRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "platmap",
		Name:      "routing_requests_total",
		Help:      "Routing lookups by result (ok, error, cache_hit)",
	}, []string{"result"})

	routingDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "platmap",
		Name:      "routing_request_duration_seconds",
		Help:      "Duration of routing service requests",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	measurementRecords := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "platmap",
		Name:      "measurement_records",
		Help:      "Measurement overlays currently on the map",
	})

	tooltipRenders := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "platmap",
		Name:      "tooltip_renders_total",
		Help:      "Tooltip content renders after a hovered feature changed",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		styleTransitions,
		transitionDuration,
		routingRequests,
		routingDuration,
		measurementRecords,
		tooltipRenders,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		styleTransitions:    styleTransitions,
		transitionDuration:  transitionDuration,
		routingRequests:     routingRequests,
		routingDuration:     routingDuration,
		measurementRecords:  measurementRecords,
		tooltipRenders:      tooltipRenders,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveTransition counts a style transition and, for full reloads, its duration.
func (m *Metrics) ObserveTransition(path string, duration time.Duration) {
	if m == nil {
		return
	}
	m.styleTransitions.WithLabelValues(path).Inc()
	if duration > 0 {
		m.transitionDuration.Observe(duration.Seconds())
	}
}

// ObserveRouting counts a routing lookup.
func (m *Metrics) ObserveRouting(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.routingRequests.WithLabelValues(result).Inc()
	if duration > 0 {
		m.routingDuration.Observe(duration.Seconds())
	}
}

// SetMeasurementRecords sets the current overlay count.
func (m *Metrics) SetMeasurementRecords(n int) {
	if m == nil {
		return
	}
	m.measurementRecords.Set(float64(n))
}

// IncTooltipRender counts a tooltip content render.
func (m *Metrics) IncTooltipRender() {
	if m == nil {
		return
	}
	m.tooltipRenders.Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

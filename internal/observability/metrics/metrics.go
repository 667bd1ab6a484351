package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerMetrics holds the engine's Prometheus instruments on a private
// registry. It backs both the HTTP middleware and the router's
// EngineMetrics hook.
type ServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	queriesTotal      *prometheus.CounterVec
	routeDuration     *prometheus.HistogramVec
	routeSources      *prometheus.HistogramVec
	retrieverDuration *prometheus.HistogramVec
	retrieverResults  *prometheus.HistogramVec
	cacheStoresTotal  *prometheus.CounterVec
}

func NewServerMetrics(service string) *ServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lqe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lqe",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lqe",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lqe",
			Subsystem: "router",
			Name:      "queries_total",
			Help:      "Total routed queries by classified type and cache outcome.",
		},
		[]string{"service", "query_type", "cache"},
	)
	routeDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lqe",
			Subsystem: "router",
			Name:      "route_duration_seconds",
			Help:      "End-to-end routing duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "query_type"},
	)
	routeSources := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lqe",
			Subsystem: "router",
			Name:      "route_sources",
			Help:      "Distribution of cited sources per routed query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "query_type"},
	)
	retrieverDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lqe",
			Subsystem: "retriever",
			Name:      "duration_seconds",
			Help:      "Single retriever branch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "source"},
	)
	retrieverResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lqe",
			Subsystem: "retriever",
			Name:      "results",
			Help:      "Distribution of results returned per retriever branch.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "source"},
	)
	cacheStoresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lqe",
			Subsystem: "cache",
			Name:      "stores_total",
			Help:      "Total responses persisted to the query cache.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		queriesTotal,
		routeDuration,
		routeSources,
		retrieverDuration,
		retrieverResults,
		cacheStoresTotal,
	)

	return &ServerMetrics{
		registry:          registry,
		service:           service,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		queriesTotal:      queriesTotal,
		routeDuration:     routeDuration,
		routeSources:      routeSources,
		retrieverDuration: retrieverDuration,
		retrieverResults:  retrieverResults,
		cacheStoresTotal:  cacheStoresTotal,
	}
}

func (m *ServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

func (m *ServerMetrics) ObserveRetriever(source string, resultCount int, duration time.Duration) {
	if source == "" {
		source = "unknown"
	}
	m.retrieverDuration.WithLabelValues(m.service, source).Observe(duration.Seconds())
	m.retrieverResults.WithLabelValues(m.service, source).Observe(float64(resultCount))
}

func (m *ServerMetrics) ObserveRoute(queryType string, fromCache bool, sourceCount int, duration time.Duration) {
	if queryType == "" {
		queryType = "unknown"
	}
	cache := "miss"
	if fromCache {
		cache = "hit"
	}
	m.queriesTotal.WithLabelValues(m.service, queryType, cache).Inc()
	m.routeDuration.WithLabelValues(m.service, queryType).Observe(duration.Seconds())
	m.routeSources.WithLabelValues(m.service, queryType).Observe(float64(sourceCount))
}

func (m *ServerMetrics) IncCacheStore() {
	m.cacheStoresTotal.WithLabelValues(m.service).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

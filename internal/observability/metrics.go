package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	bodySizeBuckets     = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Work session metrics
	SessionStartsTotal    *prometheus.CounterVec
	SessionFinalizedTotal *prometheus.CounterVec
	SessionsActive        prometheus.Gauge

	// Event metrics
	EventsInjectedTotal prometheus.Counter
	EventsResolvedTotal prometheus.Counter

	// Recovery metrics
	RecoveriesTotal *prometheus.CounterVec

	// Catalog metrics
	CatalogActivitiesLoaded prometheus.Gauge
	CatalogEventsLoaded     prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vomm_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vomm_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vomm_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vomm_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Work sessions
		SessionStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vomm_work_session_starts_total",
			Help: "Total number of work sessions started.",
		}, []string{"mode"}),
		SessionFinalizedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vomm_work_session_finalized_total",
			Help: "Total number of work sessions reaching a terminal state.",
		}, []string{"outcome"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vomm_work_sessions_active",
			Help: "Number of live (non-terminal) work sessions.",
		}),

		// Events
		EventsInjectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vomm_work_events_injected_total",
			Help: "Total number of narrative events injected at completion boundaries.",
		}),
		EventsResolvedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vomm_work_events_resolved_total",
			Help: "Total number of narrative events resolved by players.",
		}),

		// Recovery
		RecoveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vomm_work_recoveries_total",
			Help: "Total number of stuck sessions repaired by the recovery sweep.",
		}, []string{"pattern"}),

		// Catalog
		CatalogActivitiesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vomm_catalog_activities_loaded",
			Help: "Number of loaded activity definitions.",
		}),
		CatalogEventsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vomm_catalog_events_loaded",
			Help: "Number of loaded work event definitions.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Work sessions
		m.SessionStartsTotal,
		m.SessionFinalizedTotal,
		m.SessionsActive,
		// Events
		m.EventsInjectedTotal,
		m.EventsResolvedTotal,
		// Recovery
		m.RecoveriesTotal,
		// Catalog
		m.CatalogActivitiesLoaded,
		m.CatalogEventsLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// SessionStarted records a work session start.
func (m *Metrics) SessionStarted(accelerated bool) {
	mode := "normal"
	if accelerated {
		mode = "accelerated"
	}
	m.SessionStartsTotal.WithLabelValues(mode).Inc()
	m.SessionsActive.Inc()
}

// SessionFinalized records a session reaching a terminal state.
func (m *Metrics) SessionFinalized(outcome string) {
	m.SessionFinalizedTotal.WithLabelValues(outcome).Inc()
	m.SessionsActive.Dec()
}

// EventInjected records a narrative event injection.
func (m *Metrics) EventInjected() {
	m.EventsInjectedTotal.Inc()
}

// EventResolved records a narrative event resolution.
func (m *Metrics) EventResolved() {
	m.EventsResolvedTotal.Inc()
}

// RecoveryApplied records a recovery repair.
func (m *Metrics) RecoveryApplied(pattern string) {
	m.RecoveriesTotal.WithLabelValues(pattern).Inc()
}

// SetCatalogLoaded sets the loaded definition gauges.
func (m *Metrics) SetCatalogLoaded(activities, events int) {
	m.CatalogActivitiesLoaded.Set(float64(activities))
	m.CatalogEventsLoaded.Set(float64(events))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

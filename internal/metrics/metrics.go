// Package metrics is a Prometheus metric registry, trimmed and relabeled
// from the teacher's internal/metrics/metrics.go and
// internal/metrics/middleware.go to the series this broker actually emits.
// It is its own package, separate from internal/health, because
// internal/session needs to record against it while internal/health
// imports internal/session for status reporting; folding this into
// internal/health would create an import cycle.
package metrics

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds every Prometheus collector the broker exports.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	SessionOperationsTotal *prometheus.CounterVec
	SessionsActiveGauge    *prometheus.GaugeVec

	ExecutionsTotal     *prometheus.CounterVec
	ExecutionDuration   *prometheus.HistogramVec
	ExecutionsInFlight  prometheus.Gauge
	AdmissionRejections *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec

	ContainerOperationsTotal *prometheus.CounterVec
	DatabaseOperationsTotal  *prometheus.CounterVec

	ProcessMemoryBytes prometheus.Gauge
	GoroutineCount     prometheus.Gauge
}

// Get returns the process-wide metrics singleton.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionbroker",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by endpoint, method, and status code.",
		},
		[]string{"endpoint", "method", "status"},
	)
	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sessionbroker",
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request duration in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"endpoint", "method"},
	)
	m.HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sessionbroker",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "HTTP requests currently being served.",
	})

	m.SessionOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionbroker",
			Subsystem: "session",
			Name:      "operations_total",
			Help:      "Session Manager operations by kind and result.",
		},
		[]string{"operation", "result"},
	)
	m.SessionsActiveGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sessionbroker",
			Subsystem: "session",
			Name:      "active",
			Help:      "Active sessions by type and status.",
		},
		[]string{"type", "status"},
	)

	m.ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionbroker",
			Subsystem: "execution",
			Name:      "total",
			Help:      "Code executions by language and outcome.",
		},
		[]string{"language", "outcome"},
	)
	m.ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sessionbroker",
			Subsystem: "execution",
			Name:      "duration_ms",
			Help:      "Execution wall-clock time in milliseconds.",
			Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000},
		},
		[]string{"language"},
	)
	m.ExecutionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sessionbroker",
		Subsystem: "execution",
		Name:      "in_flight",
		Help:      "Executions currently running.",
	})
	m.AdmissionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionbroker",
			Subsystem: "admission",
			Name:      "rejections_total",
			Help:      "Requests rejected by the Admission Controller by reason.",
		},
		[]string{"reason"},
	)
	m.CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sessionbroker",
			Subsystem: "admission",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state by name (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)

	m.ContainerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionbroker",
			Subsystem: "container",
			Name:      "operations_total",
			Help:      "Docker-backed execution operations by kind and result.",
		},
		[]string{"operation", "result"},
	)
	m.DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionbroker",
			Subsystem: "database",
			Name:      "operations_total",
			Help:      "Metadata store durable-tier operations by kind and result.",
		},
		[]string{"operation", "result"},
	)

	m.ProcessMemoryBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sessionbroker",
		Subsystem: "process",
		Name:      "memory_bytes",
		Help:      "Resident process memory in bytes.",
	})
	m.GoroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sessionbroker",
		Subsystem: "process",
		Name:      "goroutines",
		Help:      "Number of live goroutines.",
	})

	return m
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

// RecordCircuitBreakerState publishes a breaker's current state as a gauge.
func (m *Metrics) RecordCircuitBreakerState(name, state string) {
	m.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(state))
}

// RecordSessionOperation records a Session Manager lifecycle call (create,
// destroy, touch, cleanup, ...) and whether it succeeded.
func (m *Metrics) RecordSessionOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SessionOperationsTotal.WithLabelValues(operation, result).Inc()
}

// SetSessionsActive publishes the current count of stored sessions for one
// (type, status) pair. Called from health.Reporter.Status with a freshly
// counted snapshot rather than incremented at each transition, since the
// Reporter already recounts the sessions on every health check.
func (m *Metrics) SetSessionsActive(typ, status string, count int) {
	m.SessionsActiveGauge.WithLabelValues(typ, status).Set(float64(count))
}

// RecordExecution records one execute_code run: outcome is "ok", "error", or
// "timeout", matching the Execution Engine's own result classification.
func (m *Metrics) RecordExecution(language, outcome string, duration time.Duration) {
	m.ExecutionsTotal.WithLabelValues(language, outcome).Inc()
	m.ExecutionDuration.WithLabelValues(language).Observe(float64(duration.Milliseconds()))
}

// RecordAdmissionRejection records a request turned away by the Admission
// Controller, e.g. "rate_limited" or "circuit_open".
func (m *Metrics) RecordAdmissionRejection(reason string) {
	m.AdmissionRejections.WithLabelValues(reason).Inc()
}

// RecordContainerOperation records a Docker-backed execution operation, e.g.
// "create", "start", "wait", "remove".
func (m *Metrics) RecordContainerOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ContainerOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordDatabaseOperation records a metadata store durable-tier call, e.g.
// "get", "put", "delete".
func (m *Metrics) RecordDatabaseOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DatabaseOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordHTTPRequest records one request against whichever HTTP surface the
// embedder mounts InstrumentHandler on.
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration) {
	status := statusCodeClass(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(float64(duration.Milliseconds()))
}

func statusCodeClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// InstrumentHandler wraps an HTTP handler with request-count, duration, and
// in-flight tracking. The core never stands up an HTTP listener itself
// (spec.md §1), but an embedder that mounts the tool surface behind HTTP can
// wrap its mux with this to populate the http_* series.
func (m *Metrics) InstrumentHandler(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		start := time.Now()
		rw := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		m.RecordHTTPRequest(endpoint, r.Method, rw.status, time.Since(start))
	})
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Handler returns the textual Prometheus exposition endpoint, for an embedder
// to mount at GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Collector periodically samples process-wide gauges (memory, goroutines)
// that Prometheus itself has no way to pull on its own.
type Collector struct {
	metrics  *Metrics
	interval time.Duration
	stop     chan struct{}
}

// NewCollector constructs a Collector sampling at the given interval.
func NewCollector(m *Metrics, interval time.Duration) *Collector {
	return &Collector{metrics: m, interval: interval, stop: make(chan struct{})}
}

// Start begins periodic sampling in a background goroutine.
func (c *Collector) Start() {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		c.sample()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.sample()
			}
		}
	}()
}

// Stop ends periodic sampling. Safe to call at most once.
func (c *Collector) Stop() {
	close(c.stop)
}

func (c *Collector) sample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	c.metrics.ProcessMemoryBytes.Set(float64(ms.Sys))
	c.metrics.GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

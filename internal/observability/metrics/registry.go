package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lifecycle metrics track component phase transitions
var (
	// LifecyclePhaseDuration measures how long each lifecycle phase took per component
	LifecyclePhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "director_lifecycle_phase_duration_seconds",
			Help:    "Duration of component lifecycle phases in seconds",
			Buckets: []float64{.001, .01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"component", "phase"},
	)

	// LifecyclePhaseFailures counts failed lifecycle phases per component
	LifecyclePhaseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "director_lifecycle_phase_failures_total",
			Help: "Total number of failed component lifecycle phases",
		},
		[]string{"component", "phase"},
	)

	// ComponentState exposes the current state of each component as a numeric code
	// (0=unprepared, 1=prepared, 2=running, 3=stopped, 4=failed)
	ComponentState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "director_component_state",
			Help: "Current lifecycle state of a component",
		},
		[]string{"component"},
	)
)

// Drain metrics
var (
	// DrainActiveOperations tracks in-flight operations registered with a drain tracker
	DrainActiveOperations = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "director_drain_active_operations",
			Help: "Number of in-flight operations per component",
		},
		[]string{"component"},
	)
)

// HTTP metrics track inbound request patterns and performance
var (
	// HTTPRequestsTotal counts total HTTP requests by method, route, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestSize measures HTTP request body size in bytes
	HTTPRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_size_bytes",
			Help:    "HTTP request size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize measures HTTP response body size in bytes
	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// HTTPClientRequestsTotal counts outbound HTTP calls by host and outcome
	HTTPClientRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_client_requests_total",
			Help: "Total number of outbound HTTP requests",
		},
		[]string{"host", "status"},
	)

	// HTTPClientRequestDuration measures outbound HTTP call latency
	HTTPClientRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_client_request_duration_seconds",
			Help:    "Outbound HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)
)

// Chat and job metrics
var (
	// ChatUpdatesTotal counts dispatched chat updates by kind and result
	ChatUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_updates_total",
			Help: "Total number of chat updates dispatched to handlers",
		},
		[]string{"kind", "result"},
	)

	// JobRunsTotal counts scheduled job runs by job and result
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Total number of scheduled job runs",
		},
		[]string{"job", "result"},
	)

	// JobDuration measures scheduled job run duration
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_job_duration_seconds",
			Help:    "Scheduled job run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"job"},
	)
)

// Database metrics track database performance
var (
	// DBQueryDuration measures database query duration
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"operation"},
	)

	// DBConnectAttempts counts database connection attempts by result
	DBConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_connect_attempts_total",
			Help: "Total number of database connection attempts",
		},
		[]string{"result"},
	)
)

// Configuration metrics
var (
	// ConfigFallbacksTotal counts configuration values rejected in favour of a default
	ConfigFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "config_fallbacks_total",
			Help: "Total number of configuration values replaced by their default",
		},
		[]string{"key"},
	)
)

// Circuit breaker metrics
var (
	// CircuitState exposes each breaker's state (0 closed, 1 half-open, 2 open)
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "director_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"circuit"},
	)

	// CircuitTransitionsTotal counts breaker state changes by target state
	CircuitTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "director_circuit_transitions_total",
			Help: "Total number of circuit breaker state changes",
		},
		[]string{"circuit", "to"},
	)
)

// RecordCircuitTransition records a breaker moving to state to.
func RecordCircuitTransition(circuit, to string, code int) {
	CircuitState.WithLabelValues(circuit).Set(float64(code))
	CircuitTransitionsTotal.WithLabelValues(circuit, to).Inc()
}

// RecordConfigFallback counts a rejected configuration value.
func RecordConfigFallback(key string) {
	ConfigFallbacksTotal.WithLabelValues(key).Inc()
}

// RecordPhase records the duration of a lifecycle phase and counts it as a
// failure when err is non-nil.
func RecordPhase(component, phase string, duration time.Duration, err error) {
	LifecyclePhaseDuration.WithLabelValues(component, phase).Observe(duration.Seconds())
	if err != nil {
		LifecyclePhaseFailures.WithLabelValues(component, phase).Inc()
	}
}

// SetComponentState publishes the numeric state code of a component.
func SetComponentState(component string, code int) {
	ComponentState.WithLabelValues(component).Set(float64(code))
}

// RecordHTTPRequest records an HTTP request with its metadata
func RecordHTTPRequest(method, path, status string, duration time.Duration, requestSize, responseSize int) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())

	if requestSize > 0 {
		HTTPRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	}
	if responseSize > 0 {
		HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
	}
}

// RecordClientRequest records an outbound HTTP call.
func RecordClientRequest(host, status string, duration time.Duration) {
	HTTPClientRequestsTotal.WithLabelValues(host, status).Inc()
	HTTPClientRequestDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// RecordChatUpdate records a dispatched chat update.
func RecordChatUpdate(kind string, err error) {
	ChatUpdatesTotal.WithLabelValues(kind, result(err)).Inc()
}

// RecordJobRun records a scheduled job run.
func RecordJobRun(job string, duration time.Duration, err error) {
	JobRunsTotal.WithLabelValues(job, result(err)).Inc()
	JobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordOperationDuration records the duration of a named database operation
func RecordOperationDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordConnectAttempt records a database connection attempt.
func RecordConnectAttempt(err error) {
	DBConnectAttempts.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

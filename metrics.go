package nettools

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the call lifecycle and
// the pipeline stages. It is safe for concurrent use, and every record
// method is a no-op on a nil collector.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal  *prometheus.CounterVec
	timeoutsTotal *prometheus.CounterVec

	validationFailures *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	deduplicationHits *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	return &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nettools_requests_total",
				Help: "Total number of calls completed, by final status code",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nettools_request_duration_seconds",
				Help:    "Duration of calls in seconds, retries and backoff included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nettools_requests_in_flight",
				Help: "Number of calls currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nettools_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		timeoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nettools_timeouts_total",
				Help: "Total number of attempts cut short by a timeout policy",
			},
			[]string{"method", "endpoint"},
		),
		validationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nettools_validation_failures_total",
				Help: "Total number of calls rejected before any I/O",
			},
			[]string{"type", "reason"},
		),
		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nettools_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"endpoint"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nettools_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"method", "endpoint"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nettools_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"method", "endpoint"},
		),
		deduplicationHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nettools_deduplication_hits_total",
				Help: "Total number of calls that shared one exchange with an identical call",
			},
			[]string{"method", "endpoint"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nettools_errors_total",
				Help: "Total number of failed calls by error kind",
			},
			[]string{"type", "method", "endpoint"},
		),
	}
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRetry increments retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordTimeout increments the timeout counter.
func (mc *MetricsCollector) RecordTimeout(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.timeoutsTotal.WithLabelValues(method, endpoint).Inc()
}

// RecordValidationFailure counts a parameter object rejected before dispatch.
func (mc *MetricsCollector) RecordValidationFailure(paramType, reason string) {
	if mc == nil {
		return
	}

	mc.validationFailures.WithLabelValues(paramType, reason).Inc()
}

// RecordCircuitBreakerState sets gauge to breaker state.
func (mc *MetricsCollector) RecordCircuitBreakerState(endpoint string, state CircuitState) {
	if mc == nil {
		return
	}

	var stateValue float64
	switch state {
	case StateClosed:
		stateValue = 0
	case StateOpen:
		stateValue = 1
	case StateHalfOpen:
		stateValue = 2
	}

	mc.circuitBreakerState.WithLabelValues(endpoint).Set(stateValue)
}

// RecordCacheHit increments cache hits.
func (mc *MetricsCollector) RecordCacheHit(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(method, endpoint).Inc()
}

// RecordCacheMiss increments cache misses.
func (mc *MetricsCollector) RecordCacheMiss(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheMisses.WithLabelValues(method, endpoint).Inc()
}

// RecordDeduplicationHit increments coalesced call count.
func (mc *MetricsCollector) RecordDeduplicationHit(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.deduplicationHits.WithLabelValues(method, endpoint).Inc()
}

// RecordError increments the error counter.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}

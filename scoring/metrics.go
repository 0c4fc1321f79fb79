package scoring

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
)

var (
	// Request metrics
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_score_requests_total",
			Help: "Total number of scoring requests by outcome",
		},
		[]string{"status"},
	)

	requestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_score_request_duration_seconds",
			Help:    "Duration of scoring requests in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
	)

	failedBeforeDispatch = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_score_modification_failures_total",
			Help: "Total number of payloads that failed request modification",
		},
	)

	// Batch metrics
	miniBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_score_mini_batch_size",
			Help:    "Number of payloads per mini-batch",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 500, 1000},
		},
	)

	batchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "batch_score_batches_in_flight",
			Help: "Number of enqueued mini-batches not yet finished",
		},
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_score_errors_total",
			Help: "Total number of dispatch errors by type",
		},
		[]string{"error_type"},
	)

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "batch_score_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	circuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_score_circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"name"},
	)

	// Retry metrics
	retryAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_score_retry_attempts",
			Help:    "Number of attempts per request",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	retryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_score_retry_total",
			Help: "Total number of retries by reason",
		},
		[]string{"reason"},
	)

	// Worker pool metrics
	concurrentRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "batch_score_concurrent_requests",
			Help: "Number of requests being dispatched",
		},
	)

	queuedRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "batch_score_queued_requests",
			Help: "Number of enqueued requests waiting for a worker",
		},
	)
)

// MetricsRecorder provides methods to record metrics
type MetricsRecorder struct {
	enabled bool
}

// NewMetricsRecorder creates a new metrics recorder
func NewMetricsRecorder(enabled bool) *MetricsRecorder {
	return &MetricsRecorder{enabled: enabled}
}

// RecordResult records the outcome of one scoring request
func (m *MetricsRecorder) RecordResult(status ResultStatus, seconds float64) {
	if !m.enabled {
		return
	}
	requestsTotal.WithLabelValues(string(status)).Inc()
	requestDuration.Observe(seconds)
}

// RecordModificationFailures records payloads that never reached dispatch
func (m *MetricsRecorder) RecordModificationFailures(count int) {
	if !m.enabled || count == 0 {
		return
	}
	failedBeforeDispatch.Add(float64(count))
}

// RecordMiniBatchSize records the size of a mini-batch
func (m *MetricsRecorder) RecordMiniBatchSize(size int) {
	if !m.enabled {
		return
	}
	miniBatchSize.Observe(float64(size))
}

// RecordBatchesInFlight sets the number of unfinished mini-batches
func (m *MetricsRecorder) RecordBatchesInFlight(count int) {
	if !m.enabled {
		return
	}
	batchesInFlight.Set(float64(count))
}

// RecordError records an error
func (m *MetricsRecorder) RecordError(errorType string) {
	if !m.enabled {
		return
	}
	errorsTotal.WithLabelValues(errorType).Inc()
}

// RecordCircuitBreakerState records circuit breaker state
func (m *MetricsRecorder) RecordCircuitBreakerState(name string, state int) {
	if !m.enabled {
		return
	}
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *MetricsRecorder) RecordCircuitBreakerTrip(name string) {
	if !m.enabled {
		return
	}
	circuitBreakerTrips.WithLabelValues(name).Inc()
}

// RecordRetryAttempt records attempts made for one request
func (m *MetricsRecorder) RecordRetryAttempt(attempts int) {
	if !m.enabled {
		return
	}
	retryAttempts.Observe(float64(attempts))
}

// RecordRetry records a retry
func (m *MetricsRecorder) RecordRetry(reason string) {
	if !m.enabled {
		return
	}
	retryTotal.WithLabelValues(reason).Inc()
}

// RecordConcurrentRequests updates concurrent request count
func (m *MetricsRecorder) RecordConcurrentRequests(delta float64) {
	if !m.enabled {
		return
	}
	concurrentRequests.Add(delta)
}

// RecordQueuedRequests updates queued request count
func (m *MetricsRecorder) RecordQueuedRequests(delta float64) {
	if !m.enabled {
		return
	}
	queuedRequests.Add(delta)
}

// GetMetricsHandler returns an HTTP handler for Prometheus metrics
func GetMetricsHandler() http.Handler {
	return promhttp.Handler()
}

// classifyError returns error type for metrics
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	if errors.Is(err, ErrInvalidPayload) {
		return "invalid_payload"
	}

	status := 0
	if epErr, ok := asEndpointError(err); ok {
		status = epErr.StatusCode
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatusCode
	}
	if status != 0 {
		switch {
		case status == http.StatusTooManyRequests:
			return "rate_limit"
		case status >= 500:
			return "server_error"
		case status >= 400:
			return "client_error"
		default:
			return "api_error"
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}

	if errors.Is(err, gobreaker.ErrOpenState) {
		return "circuit_open"
	}

	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "circuit_half_open"
	}

	return "unknown"
}

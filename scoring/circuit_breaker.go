package scoring

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
)

// DefaultCircuitBreakerConfig returns the breaker settings used when none are configured
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: defaultReadyToTrip,
	}
}

// Trip if 5 consecutive failures OR failure rate > 60%
func defaultReadyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests == 0 {
		return false
	}
	failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
	return counts.ConsecutiveFailures >= 5 ||
		(counts.Requests >= 10 && failureRatio > 0.6)
}

// CircuitBreakerWrapper wraps a scoring client with circuit breaker functionality
type CircuitBreakerWrapper struct {
	client ScoringClient
	cb     *gobreaker.CircuitBreaker[*ScoringResponse]
	logger *slog.Logger
}

// NewCircuitBreakerWrapper creates a new circuit breaker wrapper around a scoring client
func NewCircuitBreakerWrapper(client ScoringClient, config *CircuitBreakerConfig, metrics *MetricsRecorder, logger *slog.Logger) *CircuitBreakerWrapper {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	if metrics == nil {
		metrics = NewMetricsRecorder(false)
	}
	if logger == nil {
		logger = slog.Default()
	}

	readyToTrip := config.ReadyToTrip
	if readyToTrip == nil {
		readyToTrip = defaultReadyToTrip
	}

	settings := gobreaker.Settings{
		Name:        "scoring-endpoint",
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: readyToTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())

			metrics.RecordCircuitBreakerState(name, stateToInt(to))
			if to == gobreaker.StateOpen {
				metrics.RecordCircuitBreakerTrip(name)
			}

			if config.OnStateChange != nil {
				config.OnStateChange(name, from, to)
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}

			// Rate limits and timeouts are temporary and don't count as failures
			return !ShouldTripCircuit(err)
		},
	}

	return &CircuitBreakerWrapper{
		client: client,
		cb:     gobreaker.NewCircuitBreaker[*ScoringResponse](settings),
		logger: logger,
	}
}

// Score executes the scoring call through the circuit breaker
func (w *CircuitBreakerWrapper) Score(ctx context.Context, req *ScoringRequest) (*ScoringResponse, error) {
	resp, err := w.cb.Execute(func() (*ScoringResponse, error) {
		return w.client.Score(ctx, req)
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			w.logger.Debug("Circuit breaker is open, request rejected",
				"request_id", req.InternalID,
				"error", err)
		} else if errors.Is(err, gobreaker.ErrTooManyRequests) {
			w.logger.Debug("Circuit breaker in half-open state, too many requests",
				"request_id", req.InternalID,
				"error", err)
		} else {
			w.logger.Debug("Request failed through circuit breaker",
				"request_id", req.InternalID,
				"error", err,
				"should_trip", ShouldTripCircuit(err))
		}
	}

	return resp, err
}

// State returns the current state of the circuit breaker
func (w *CircuitBreakerWrapper) State() gobreaker.State {
	return w.cb.State()
}

// Counts returns the current counts of the circuit breaker
func (w *CircuitBreakerWrapper) Counts() gobreaker.Counts {
	return w.cb.Counts()
}

// GetHealth returns the health status of the circuit breaker
func (w *CircuitBreakerWrapper) GetHealth() HealthStatus {
	state := w.cb.State()
	counts := w.cb.Counts()

	var healthy bool
	var status string

	switch state {
	case gobreaker.StateClosed:
		healthy = true
		status = "closed"
	case gobreaker.StateHalfOpen:
		healthy = true // Degraded but operational
		status = "half-open"
	case gobreaker.StateOpen:
		healthy = false
		status = "open"
	default:
		status = "unknown"
	}

	return HealthStatus{
		Healthy: healthy,
		Status:  status,
		Details: map[string]interface{}{
			"state":                 state.String(),
			"requests":              counts.Requests,
			"total_successes":       counts.TotalSuccesses,
			"total_failures":        counts.TotalFailures,
			"consecutive_failures":  counts.ConsecutiveFailures,
			"consecutive_successes": counts.ConsecutiveSuccesses,
		},
	}
}

// ShouldTripCircuit determines if an error should count against the circuit
func ShouldTripCircuit(err error) bool {
	if err == nil {
		return false
	}

	// A malformed payload says nothing about the endpoint
	if errors.Is(err, ErrInvalidPayload) {
		return false
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
		case status == http.StatusTooManyRequests: // Rate limit - expected
			return false
		case status >= 400:
			return true
		default:
			return false
		}
	}

	// Don't trip on timeouts or cancellation
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	// Unknown errors should trip the circuit
	return true
}

// stateToInt converts circuit breaker state to int for metrics
func stateToInt(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

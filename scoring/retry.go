package scoring

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"
)

// DefaultRetryConfig returns the retry settings used when none are configured
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		Strategy:     RetryStrategyExponential,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// RetryWrapper wraps a scoring client with retry logic
type RetryWrapper struct {
	client  ScoringClient
	config  *RetryConfig
	metrics *MetricsRecorder
	logger  *slog.Logger
}

// NewRetryWrapper creates a new retry wrapper around a scoring client
func NewRetryWrapper(client ScoringClient, config *RetryConfig, metrics *MetricsRecorder, logger *slog.Logger) *RetryWrapper {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if metrics == nil {
		metrics = NewMetricsRecorder(false)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RetryWrapper{
		client:  client,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

// Score executes the scoring call with retry logic. Every retry is recorded
// on the request's progress annotations.
func (w *RetryWrapper) Score(ctx context.Context, req *ScoringRequest) (*ScoringResponse, error) {
	var lastErr error
	var attempts int

	backoff := w.backoff()

	for {
		attempts++

		resp, err := w.client.Score(ctx, req)
		if err == nil {
			if attempts > 1 {
				w.logger.Info("Request succeeded after retry",
					"request_id", req.InternalID,
					"attempts", attempts)
			}
			w.metrics.RecordRetryAttempt(attempts)
			return resp, nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			w.logger.Debug("Non-retryable error, giving up",
				"request_id", req.InternalID,
				"error", err,
				"attempts", attempts)
			w.metrics.RecordRetryAttempt(attempts)
			return nil, err
		}

		if attempts >= w.config.MaxAttempts {
			w.logger.Warn("Max retry attempts reached",
				"request_id", req.InternalID,
				"attempts", attempts,
				"error", lastErr)
			w.metrics.RecordRetryAttempt(attempts)
			return nil, lastErr
		}

		delay, stop := backoff.Next()
		if stop {
			w.logger.Warn("Backoff strategy stopped",
				"request_id", req.InternalID,
				"attempts", attempts,
				"error", lastErr)
			w.metrics.RecordRetryAttempt(attempts)
			return nil, lastErr
		}

		// Honour Retry-After from the endpoint, within MaxDelay
		if epErr, ok := asEndpointError(err); ok && epErr.RetryAfter > delay {
			delay = min(epErr.RetryAfter, w.config.MaxDelay)
		}

		w.logger.Debug("Retrying request after delay",
			"request_id", req.InternalID,
			"attempt", attempts,
			"delay", delay,
			"error", err)
		w.metrics.RecordRetry(classifyError(err))
		req.recordAttempt(delay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// backoff returns the configured backoff strategy
func (w *RetryWrapper) backoff() retry.Backoff {
	jitter := w.config.InitialDelay / 10
	if jitter <= 0 {
		jitter = time.Nanosecond
	}
	maxRetries := uint64(w.config.MaxAttempts)

	switch w.config.Strategy {
	case RetryStrategyConstant:
		return retry.WithMaxRetries(
			maxRetries,
			retry.WithJitter(jitter, retry.NewConstant(w.config.InitialDelay)),
		)

	case RetryStrategyFibonacci:
		return retry.WithMaxRetries(
			maxRetries,
			retry.WithCappedDuration(
				w.config.MaxDelay,
				retry.WithJitter(jitter, retry.NewFibonacci(w.config.InitialDelay)),
			),
		)

	case RetryStrategyExponential:
		fallthrough
	default:
		return retry.WithMaxRetries(
			maxRetries,
			retry.WithCappedDuration(
				w.config.MaxDelay,
				retry.WithJitter(jitter, retry.NewExponential(w.config.InitialDelay)),
			),
		)
	}
}

// IsRetryableError determines if an error should trigger a retry
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrInvalidPayload) {
		return false
	}

	if epErr, ok := asEndpointError(err); ok {
		return isRetryableStatus(epErr.StatusCode)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return isRetryableStatus(apiErr.HTTPStatusCode)
	}

	// Timeout errors are retryable
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Cancelled context is not retryable
	if errors.Is(err, context.Canceled) {
		return false
	}

	// Network errors and other unknown failures are retried
	return true
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return false
	default:
		return code >= 500
	}
}

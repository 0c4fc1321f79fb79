package scoring

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ScoringClient sends a single scoring request to a remote endpoint
type ScoringClient interface {
	Score(ctx context.Context, req *ScoringRequest) (*ScoringResponse, error)
}

// ScoringResponse is the raw reply of a scoring endpoint
type ScoringResponse struct {
	StatusCode int         // HTTP status code returned by the endpoint
	Headers    http.Header // Response headers
	Body       []byte      // Raw response body
}

// HealthStatus represents the health state of the conductor
type HealthStatus struct {
	Healthy bool                   // Overall health status
	Status  string                 // Human-readable status message
	Details map[string]interface{} // Additional health details
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	MaxRequests   uint32                                      `yaml:"max_requests"` // Max requests in half-open state
	Interval      time.Duration                               `yaml:"interval"`     // Interval for closed state
	Timeout       time.Duration                               `yaml:"timeout"`      // Timeout for open state
	ReadyToTrip   func(counts gobreaker.Counts) bool          `yaml:"-"`            // Custom trip condition
	OnStateChange func(name string, from, to gobreaker.State) `yaml:"-"`            // State change callback
}

// RetryConfig holds retry settings
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`  // Maximum number of attempts
	Strategy     RetryStrategy `yaml:"strategy"`      // Backoff strategy to use
	InitialDelay time.Duration `yaml:"initial_delay"` // Initial delay between retries
	MaxDelay     time.Duration `yaml:"max_delay"`     // Maximum delay between retries
}

// RetryStrategy defines the backoff strategy for retries
type RetryStrategy string

const (
	RetryStrategyExponential RetryStrategy = "exponential"
	RetryStrategyConstant    RetryStrategy = "constant"
	RetryStrategyFibonacci   RetryStrategy = "fibonacci"
)

// APIType selects the scoring client implementation
type APIType string

const (
	APITypeEndpoint    APIType = "endpoint"
	APITypeOpenAI      APIType = "openai"
	APITypeAzureOpenAI APIType = "azure_openai"
)

// Output schema versions
const (
	SchemaVersionV1 = 1
	SchemaVersionV2 = 2
)

const (
	// Content length limits
	DefaultMaxContentLength = 10000 // Default maximum content length in characters
	MinContentLength        = 1     // Minimum content length to be valid
)

// Error definitions
var (
	ErrMissingScoringURL = errors.New("scoring URL is required")
	ErrMissingAPIKey     = errors.New("API key is required")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrConductorClosed   = errors.New("conductor has been shut down")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrContentTooLong    = errors.New("content exceeds maximum length")
	ErrContentTooShort   = errors.New("content is too short")
	ErrContentWhitespace = errors.New("content contains only whitespace")
)

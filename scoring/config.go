package scoring

import (
	"errors"
	"fmt"
	"time"
)

// Configuration holds process-wide settings. It is resolved once at startup
// and treated as read-only afterwards.
type Configuration struct {
	InputSchemaVersion  int  `yaml:"input_schema_version"`   // 1 selects the legacy output schema
	BatchSizePerRequest int  `yaml:"batch_size_per_request"` // Inputs carried by one request
	AsyncMode           bool `yaml:"async_mode"`             // Enqueue/poll instead of blocking runs

	APIType    APIType           `yaml:"api_type"`    // Scoring client implementation
	ScoringURL string            `yaml:"scoring_url"` // Endpoint URL, or OpenAI base URL
	APIKey     string            `yaml:"api_key"`     // Bearer token / OpenAI key
	Model      string            `yaml:"model"`       // Default model for OpenAI payloads
	Headers    map[string]string `yaml:"headers"`     // Extra headers sent with every request

	MaxConcurrent int           `yaml:"max_concurrent"` // Worker pool size
	QueueSize     int           `yaml:"queue_size"`     // Bounded work queue capacity (0 = 2x workers)
	Timeout       time.Duration `yaml:"timeout"`        // Per-request HTTP timeout

	EnableRetry          bool                  `yaml:"enable_retry"`
	RetryConfig          *RetryConfig          `yaml:"retry"`
	EnableCircuitBreaker bool                  `yaml:"enable_circuit_breaker"`
	CircuitBreakerConfig *CircuitBreakerConfig `yaml:"circuit_breaker"`
	EnableMetrics        bool                  `yaml:"enable_metrics"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`   // Optional rotating log file; empty logs to stderr
}

// NewDefaultConfiguration creates a configuration with sensible defaults
func NewDefaultConfiguration(scoringURL string) Configuration {
	return Configuration{
		InputSchemaVersion:  SchemaVersionV2,
		BatchSizePerRequest: 1,
		APIType:             APITypeEndpoint,
		ScoringURL:          scoringURL,
		MaxConcurrent:       1,
		Timeout:             30 * time.Second,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// NewProductionConfiguration creates a configuration with all resilience features
func NewProductionConfiguration(scoringURL string) Configuration {
	cfg := NewDefaultConfiguration(scoringURL)
	cfg.MaxConcurrent = 8
	cfg.Timeout = 60 * time.Second
	cfg.EnableMetrics = true
	return cfg.WithCircuitBreaker().WithRetry()
}

// WithCircuitBreaker enables circuit breaker with default settings
func (c Configuration) WithCircuitBreaker() Configuration {
	c.EnableCircuitBreaker = true
	c.CircuitBreakerConfig = DefaultCircuitBreakerConfig()
	return c
}

// WithCircuitBreakerConfig enables circuit breaker with custom settings
func (c Configuration) WithCircuitBreakerConfig(config *CircuitBreakerConfig) Configuration {
	c.EnableCircuitBreaker = true
	c.CircuitBreakerConfig = config
	return c
}

// WithRetry enables retry with default exponential backoff
func (c Configuration) WithRetry() Configuration {
	c.EnableRetry = true
	c.RetryConfig = DefaultRetryConfig()
	return c
}

// WithRetryStrategy enables retry with specified strategy
func (c Configuration) WithRetryStrategy(strategy RetryStrategy, maxAttempts int) Configuration {
	c.EnableRetry = true
	c.RetryConfig = &RetryConfig{
		MaxAttempts:  maxAttempts,
		Strategy:     strategy,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
	return c
}

// WithRetryConfig enables retry with custom settings
func (c Configuration) WithRetryConfig(config *RetryConfig) Configuration {
	c.EnableRetry = true
	c.RetryConfig = config
	return c
}

// WithSchemaVersion sets the output schema version
func (c Configuration) WithSchemaVersion(version int) Configuration {
	c.InputSchemaVersion = version
	return c
}

// WithBatchSizePerRequest sets how many inputs one request carries
func (c Configuration) WithBatchSizePerRequest(size int) Configuration {
	c.BatchSizePerRequest = size
	return c
}

// WithAsyncMode switches between blocking runs and enqueue/poll
func (c Configuration) WithAsyncMode(async bool) Configuration {
	c.AsyncMode = async
	return c
}

// WithTimeout sets the request timeout
func (c Configuration) WithTimeout(timeout time.Duration) Configuration {
	c.Timeout = timeout
	return c
}

// WithMaxConcurrent sets the worker pool size
func (c Configuration) WithMaxConcurrent(max int) Configuration {
	c.MaxConcurrent = max
	return c
}

// WithOpenAI switches the scoring client to OpenAI or Azure OpenAI
func (c Configuration) WithOpenAI(apiType APIType, apiKey, model string) Configuration {
	c.APIType = apiType
	c.APIKey = apiKey
	c.Model = model
	return c
}

// Validate checks if the configuration is valid
func (c Configuration) Validate() error {
	if c.InputSchemaVersion < 0 {
		return fmt.Errorf("%w: input schema version must be non-negative", ErrInvalidConfig)
	}

	if c.BatchSizePerRequest < 0 {
		return fmt.Errorf("%w: batch size per request must be non-negative", ErrInvalidConfig)
	}

	switch c.APIType {
	case "", APITypeEndpoint:
		if c.ScoringURL == "" {
			return ErrMissingScoringURL
		}
	case APITypeOpenAI:
		if c.APIKey == "" {
			return ErrMissingAPIKey
		}
	case APITypeAzureOpenAI:
		if c.ScoringURL == "" {
			return ErrMissingScoringURL
		}
		if c.APIKey == "" {
			return ErrMissingAPIKey
		}
	default:
		return fmt.Errorf("%w: unsupported api type %q", ErrInvalidConfig, c.APIType)
	}

	if c.Timeout < 0 {
		return errors.New("timeout must be positive")
	}

	if c.MaxConcurrent < 0 {
		return errors.New("MaxConcurrent must be non-negative")
	}

	if c.QueueSize < 0 {
		return errors.New("QueueSize must be non-negative")
	}

	if c.EnableCircuitBreaker && c.CircuitBreakerConfig == nil {
		return errors.New("circuit breaker enabled but config is nil")
	}

	if c.EnableRetry {
		if c.RetryConfig == nil {
			return errors.New("retry enabled but config is nil")
		}

		if !isValidRetryStrategy(c.RetryConfig.Strategy) {
			return fmt.Errorf("invalid retry strategy: %s", c.RetryConfig.Strategy)
		}

		if c.RetryConfig.MaxAttempts <= 0 {
			return errors.New("retry MaxAttempts must be positive")
		}

		if c.RetryConfig.InitialDelay <= 0 {
			return errors.New("retry InitialDelay must be positive")
		}

		if c.RetryConfig.MaxDelay <= 0 {
			return errors.New("retry MaxDelay must be positive")
		}
	}

	return nil
}

// isValidRetryStrategy checks if the retry strategy is valid
func isValidRetryStrategy(strategy RetryStrategy) bool {
	switch strategy {
	case RetryStrategyExponential, RetryStrategyConstant, RetryStrategyFibonacci:
		return true
	default:
		return false
	}
}

package scoring

import (
	"context"
	"io"
	"log/slog"
)

// ClientStack is a scoring client with its resilience layers applied
type ClientStack struct {
	Client  ScoringClient
	Breaker *CircuitBreakerWrapper // nil when the circuit breaker is disabled
	closer  io.Closer
}

// Score implements ScoringClient
func (s *ClientStack) Score(ctx context.Context, req *ScoringRequest) (*ScoringResponse, error) {
	return s.Client.Score(ctx, req)
}

// Close releases the base client's resources
func (s *ClientStack) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// BuildClient creates the base client for cfg.APIType and applies the
// configured resilience patterns: retry innermost, circuit breaker outside it
func BuildClient(cfg Configuration, metrics *MetricsRecorder, logger *slog.Logger) *ClientStack {
	var base ScoringClient
	switch cfg.APIType {
	case APITypeOpenAI, APITypeAzureOpenAI:
		base = NewOpenAIScoringClient(newOpenAIClient(cfg), cfg.Model)
	default:
		base = NewEndpointClient(cfg.ScoringURL, cfg.APIKey, cfg.Headers, cfg.Timeout)
	}
	return wrapClient(base, cfg, metrics, logger)
}

func wrapClient(base ScoringClient, cfg Configuration, metrics *MetricsRecorder, logger *slog.Logger) *ClientStack {
	stack := &ClientStack{Client: base}
	if closer, ok := base.(io.Closer); ok {
		stack.closer = closer
	}

	if cfg.EnableRetry && cfg.RetryConfig == nil {
		cfg.RetryConfig = DefaultRetryConfig()
	}
	if cfg.EnableCircuitBreaker && cfg.CircuitBreakerConfig == nil {
		cfg.CircuitBreakerConfig = DefaultCircuitBreakerConfig()
	}

	// Layer 1: retry (innermost)
	if cfg.EnableRetry {
		logger.Info("Enabling retry logic",
			"max_attempts", cfg.RetryConfig.MaxAttempts,
			"strategy", cfg.RetryConfig.Strategy)
		stack.Client = NewRetryWrapper(stack.Client, cfg.RetryConfig, metrics, logger)
	}

	// Layer 2: circuit breaker (wraps retry)
	if cfg.EnableCircuitBreaker {
		logger.Info("Enabling circuit breaker",
			"max_requests", cfg.CircuitBreakerConfig.MaxRequests,
			"timeout", cfg.CircuitBreakerConfig.Timeout)
		stack.Breaker = NewCircuitBreakerWrapper(stack.Client, cfg.CircuitBreakerConfig, metrics, logger)
		stack.Client = stack.Breaker
	}

	return stack
}

// NewConductorFromConfig validates cfg and creates a conductor backed by the
// configured client stack
func NewConductorFromConfig(cfg Configuration, opts ...ConductorOption) (*Conductor, error) {
	return newConductor(cfg, nil, opts...)
}

// NewConductorWithClient creates a conductor around a caller-supplied base
// client, still applying the configured resilience patterns
func NewConductorWithClient(cfg Configuration, client ScoringClient, opts ...ConductorOption) (*Conductor, error) {
	return newConductor(cfg, client, opts...)
}

func newConductor(cfg Configuration, base ScoringClient, opts ...ConductorOption) (*Conductor, error) {
	if base == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	all := append([]ConductorOption{WithConductorMetrics(NewMetricsRecorder(cfg.EnableMetrics))}, opts...)
	conductor := NewConductor(nil, cfg.MaxConcurrent, cfg.QueueSize, all...)

	var stack *ClientStack
	if base == nil {
		stack = BuildClient(cfg, conductor.metrics, conductor.logger)
	} else {
		stack = wrapClient(base, cfg, conductor.metrics, conductor.logger)
	}

	conductor.client = stack
	if conductor.breaker == nil {
		conductor.breaker = stack.Breaker
	}

	conductor.logger.Info("Conductor created",
		"api_type", cfg.APIType,
		"max_concurrent", conductor.maxConcurrent,
		"queue_size", conductor.queueSize,
		"circuit_breaker", cfg.EnableCircuitBreaker,
		"retry", cfg.EnableRetry,
		"metrics", cfg.EnableMetrics)

	return conductor, nil
}

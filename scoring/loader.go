package scoring

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix is the prefix of environment variable overrides
const DefaultEnvPrefix = "BATCH_SCORE_"

// Loader resolves a Configuration from defaults, a YAML file and the
// environment, in that order of precedence
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath sets the path to the YAML configuration file
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the prefix for environment variables
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithLookupEnv replaces the environment lookup, mainly for tests
func (l *Loader) WithLookupEnv(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

// Load builds and validates the configuration
func (l *Loader) Load() (Configuration, error) {
	cfg := NewDefaultConfiguration("")

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return Configuration{}, fmt.Errorf("failed to read config file %s: %w", l.configPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Configuration{}, fmt.Errorf("failed to parse config file %s: %w", l.configPath, err)
		}
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return Configuration{}, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	// Enabled features without explicit settings get defaults, and partial
	// blocks keep the defaults for the fields they leave out
	if cfg.EnableRetry && cfg.RetryConfig == nil {
		cfg.RetryConfig = DefaultRetryConfig()
	}
	if cfg.RetryConfig != nil {
		mergeRetryDefaults(cfg.RetryConfig)
	}
	if cfg.EnableCircuitBreaker && cfg.CircuitBreakerConfig == nil {
		cfg.CircuitBreakerConfig = DefaultCircuitBreakerConfig()
	}
	if cfg.CircuitBreakerConfig != nil {
		mergeCircuitBreakerDefaults(cfg.CircuitBreakerConfig)
	}

	if err := cfg.Validate(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

func mergeRetryDefaults(rc *RetryConfig) {
	def := DefaultRetryConfig()
	if rc.MaxAttempts == 0 {
		rc.MaxAttempts = def.MaxAttempts
	}
	if rc.Strategy == "" {
		rc.Strategy = def.Strategy
	}
	if rc.InitialDelay == 0 {
		rc.InitialDelay = def.InitialDelay
	}
	if rc.MaxDelay == 0 {
		rc.MaxDelay = def.MaxDelay
	}
}

func mergeCircuitBreakerDefaults(cb *CircuitBreakerConfig) {
	def := DefaultCircuitBreakerConfig()
	if cb.MaxRequests == 0 {
		cb.MaxRequests = def.MaxRequests
	}
	if cb.Interval == 0 {
		cb.Interval = def.Interval
	}
	if cb.Timeout == 0 {
		cb.Timeout = def.Timeout
	}
	if cb.ReadyToTrip == nil {
		cb.ReadyToTrip = def.ReadyToTrip
	}
}

func (l *Loader) applyEnvOverrides(cfg *Configuration) error {
	overrides := []struct {
		name  string
		apply func(string) error
	}{
		{"INPUT_SCHEMA_VERSION", intSetter(&cfg.InputSchemaVersion)},
		{"BATCH_SIZE_PER_REQUEST", intSetter(&cfg.BatchSizePerRequest)},
		{"ASYNC_MODE", boolSetter(&cfg.AsyncMode)},
		{"API_TYPE", func(v string) error { cfg.APIType = APIType(v); return nil }},
		{"SCORING_URL", stringSetter(&cfg.ScoringURL)},
		{"API_KEY", stringSetter(&cfg.APIKey)},
		{"MODEL", stringSetter(&cfg.Model)},
		{"MAX_CONCURRENT", intSetter(&cfg.MaxConcurrent)},
		{"QUEUE_SIZE", intSetter(&cfg.QueueSize)},
		{"TIMEOUT", durationSetter(&cfg.Timeout)},
		{"ENABLE_RETRY", boolSetter(&cfg.EnableRetry)},
		{"ENABLE_CIRCUIT_BREAKER", boolSetter(&cfg.EnableCircuitBreaker)},
		{"ENABLE_METRICS", boolSetter(&cfg.EnableMetrics)},
		{"LOG_LEVEL", stringSetter(&cfg.Logging.Level)},
		{"LOG_FORMAT", stringSetter(&cfg.Logging.Format)},
		{"LOG_FILE", stringSetter(&cfg.Logging.File)},
	}

	for _, o := range overrides {
		key := l.envPrefix + o.name
		value, ok := l.lookupEnv(key)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if err := o.apply(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	return nil
}

func stringSetter(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func intSetter(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func boolSetter(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func durationSetter(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

// Package config loads client configuration from a YAML file and command
// line flags and turns it into nettools options.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"

	"github.com/nwithan8/nettools"
)

// DefaultFile is read when no --config flag is given and it exists.
const DefaultFile = "nettools.yaml"

// Config is the file and flag form of a client configuration.
type Config struct {
	BaseURL        string               `koanf:"base-url"`
	Timeout        time.Duration        `koanf:"timeout"`
	Headers        map[string]string    `koanf:"headers"`
	Auth           AuthConfig           `koanf:"auth"`
	Retry          RetryConfig          `koanf:"retry"`
	AttemptTimeout AttemptTimeoutConfig `koanf:"attempt-timeout"`
	RateLimit      RateLimitConfig      `koanf:"rate-limit"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit-breaker"`
	Cache          CacheConfig          `koanf:"cache"`
	Deduplicate    bool                 `koanf:"deduplicate"`
	Debug          bool                 `koanf:"debug"`
}

// AuthConfig selects one Authenticator.
type AuthConfig struct {
	// Type is one of bearer, basic, header, query.
	Type     string `koanf:"type"`
	Token    string `koanf:"token"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
	Value    string `koanf:"value"`
}

// RetryConfig builds a RetryPolicy. MaxRetries of zero disables retries.
type RetryConfig struct {
	MaxRetries int `koanf:"max-retries"`
	// Backoff is one of constant, exponential, decorrelated.
	Backoff           string        `koanf:"backoff"`
	Initial           time.Duration `koanf:"initial"`
	Max               time.Duration `koanf:"max"`
	Multiplier        float64       `koanf:"multiplier"`
	Jitter            float64       `koanf:"jitter"`
	Statuses          []int         `koanf:"statuses"`
	OnTimeout         bool          `koanf:"on-timeout"`
	RespectRetryAfter bool          `koanf:"respect-retry-after"`
}

// AttemptTimeoutConfig builds a per-attempt TimeoutPolicy when Duration is positive.
type AttemptTimeoutConfig struct {
	Duration time.Duration `koanf:"duration"`
	// Strategy is cooperative or forced.
	Strategy string `koanf:"strategy"`
}

// RateLimitConfig enables the token bucket when MaxTokens is positive.
type RateLimitConfig struct {
	MaxTokens int           `koanf:"max-tokens"`
	Refill    time.Duration `koanf:"refill"`
}

// CircuitBreakerConfig mirrors nettools.CircuitBreakerConfig.
type CircuitBreakerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	FailureThreshold int           `koanf:"failure-threshold"`
	RecoveryTimeout  time.Duration `koanf:"recovery-timeout"`
	SuccessThreshold int           `koanf:"success-threshold"`
}

// CacheConfig configures the in-memory response cache.
type CacheConfig struct {
	// TTL enables the GET response cache when positive.
	TTL time.Duration `koanf:"ttl"`
}

// BindFlags binds the connection flags to cmd.
func BindFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.StringP("config", "c", "", "Config file path (default: nettools.yaml)")
	flags.StringP("base-url", "u", "", "Base URL of the API")
	flags.Duration("timeout", 0, "Transport timeout")
	flags.String("token", "", "Bearer token")
	flags.Int("max-retries", 0, "Retry budget per call")
	flags.Duration("attempt-timeout", 0, "Timeout of each attempt")
	flags.Bool("debug", false, "Log call lifecycle to stderr")
}

// Load reads the config file named by --config (or DefaultFile) and
// overlays the flags that were set on cmd.
func Load(cmd *cobra.Command) (*Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	if configFile == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			configFile = DefaultFile
		}
	}
	return LoadFile(configFile, buildFlagsMap(cmd))
}

// LoadFile reads path, when not empty, then applies overrides keyed by
// dotted config paths.
func LoadFile(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() map[string]any {
	return map[string]any{
		"timeout":                  "30s",
		"retry.backoff":            "exponential",
		"retry.initial":            "100ms",
		"retry.max":                "10s",
		"retry.multiplier":         2.0,
		"retry.jitter":             0.1,
		"attempt-timeout.strategy": "cooperative",
	}
}

func buildFlagsMap(cmd *cobra.Command) map[string]any {
	m := make(map[string]any)

	flagChanged := func(name string) bool {
		return cmd.Flags().Changed(name)
	}

	if v, err := cmd.Flags().GetString("base-url"); err == nil && v != "" {
		m["base-url"] = v
	}
	if flagChanged("timeout") {
		v, _ := cmd.Flags().GetDuration("timeout")
		m["timeout"] = v.String()
	}
	if v, err := cmd.Flags().GetString("token"); err == nil && v != "" {
		m["auth.type"] = "bearer"
		m["auth.token"] = v
	}
	if flagChanged("max-retries") {
		v, _ := cmd.Flags().GetInt("max-retries")
		m["retry.max-retries"] = v
	}
	if flagChanged("attempt-timeout") {
		v, _ := cmd.Flags().GetDuration("attempt-timeout")
		m["attempt-timeout.duration"] = v.String()
	}
	if flagChanged("debug") {
		v, _ := cmd.Flags().GetBool("debug")
		m["debug"] = v
	}

	return m
}

// Validate reports the first invalid value it finds.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	validAuth := map[string]bool{"": true, "bearer": true, "basic": true, "header": true, "query": true}
	if !validAuth[c.Auth.Type] {
		return fmt.Errorf("invalid auth type: %s (valid: bearer, basic, header, query)", c.Auth.Type)
	}
	if (c.Auth.Type == "header" || c.Auth.Type == "query") && c.Auth.Name == "" {
		return fmt.Errorf("auth name is required for %s auth", c.Auth.Type)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative")
	}
	validBackoffs := map[string]bool{"constant": true, "exponential": true, "decorrelated": true}
	if !validBackoffs[c.Retry.Backoff] {
		return fmt.Errorf("invalid backoff: %s (valid: constant, exponential, decorrelated)", c.Retry.Backoff)
	}

	validStrategies := map[string]bool{"cooperative": true, "forced": true}
	if !validStrategies[c.AttemptTimeout.Strategy] {
		return fmt.Errorf("invalid timeout strategy: %s (valid: cooperative, forced)", c.AttemptTimeout.Strategy)
	}
	if c.AttemptTimeout.Duration < 0 {
		return fmt.Errorf("attempt timeout must be non-negative")
	}

	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl must be non-negative")
	}

	if c.RateLimit.MaxTokens < 0 {
		return fmt.Errorf("rate limit max tokens must be non-negative")
	}
	if c.RateLimit.MaxTokens > 0 && c.RateLimit.Refill <= 0 {
		return fmt.Errorf("rate limit refill must be positive")
	}

	return nil
}

// Options translates c into client options. Debug output goes to w.
func (c *Config) Options(w io.Writer) []nettools.Option {
	opts := []nettools.Option{nettools.WithTimeout(c.Timeout)}

	for k, v := range c.Headers {
		opts = append(opts, nettools.WithHeader(k, v))
	}

	if auth := c.authenticator(); auth != nil {
		opts = append(opts, nettools.WithAuth(auth))
	}

	if c.Cache.TTL > 0 {
		opts = append(opts, nettools.WithCache(c.Cache.TTL))
	}
	if c.Deduplicate {
		opts = append(opts, nettools.WithDeduplication())
	}

	if c.Retry.MaxRetries > 0 {
		policy := nettools.NewRetryPolicy(c.retryCondition(), c.Retry.MaxRetries, c.backoff())
		if c.Retry.RespectRetryAfter {
			policy = policy.RespectRetryAfter()
		}
		opts = append(opts, nettools.WithRetryPolicy(policy))
	}

	if c.AttemptTimeout.Duration > 0 {
		strategy := nettools.Cooperative
		if c.AttemptTimeout.Strategy == "forced" {
			strategy = nettools.Forced
		}
		opts = append(opts, nettools.WithTimeoutPolicy(nettools.NewTimeoutPolicy(c.AttemptTimeout.Duration, strategy)))
	}

	if c.RateLimit.MaxTokens > 0 {
		opts = append(opts, nettools.WithRateLimiter(c.RateLimit.MaxTokens, c.RateLimit.Refill))
	}

	if c.CircuitBreaker.Enabled {
		opts = append(opts, nettools.WithCircuitBreaker(nettools.CircuitBreakerConfig{
			FailureThreshold: c.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  c.CircuitBreaker.RecoveryTimeout,
			SuccessThreshold: c.CircuitBreaker.SuccessThreshold,
		}))
	}

	if c.Debug {
		logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
		opts = append(opts, nettools.WithDebug(), nettools.WithLogger(nettools.NewSlogLogger(logger)))
	}

	return opts
}

func (c *Config) authenticator() nettools.Authenticator {
	switch c.Auth.Type {
	case "bearer":
		return nettools.BearerAuth(c.Auth.Token)
	case "basic":
		return nettools.BasicAuth(c.Auth.Username, c.Auth.Password)
	case "header":
		return nettools.HeaderAuth(c.Auth.Name, c.Auth.Value)
	case "query":
		return nettools.QueryAuth(c.Auth.Name, c.Auth.Value)
	default:
		return nil
	}
}

func (c *Config) retryCondition() nettools.RetryCondition {
	var cond nettools.RetryCondition = nettools.DefaultRetryCondition
	if len(c.Retry.Statuses) > 0 {
		cond = nettools.AnyOf(nettools.RetryOnTransportError(), nettools.RetryOnStatus(c.Retry.Statuses...))
	}
	if c.Retry.OnTimeout {
		cond = nettools.AnyOf(cond, nettools.RetryOnTimeout())
	}
	return cond
}

func (c *Config) backoff() nettools.Backoff {
	switch c.Retry.Backoff {
	case "constant":
		return nettools.ConstantBackoff(c.Retry.Initial)
	case "decorrelated":
		return nettools.DecorrelatedBackoff(c.Retry.Initial, c.Retry.Max)
	default:
		return nettools.ExponentialBackoff(c.Retry.Initial, c.Retry.Max, c.Retry.Multiplier, c.Retry.Jitter)
	}
}

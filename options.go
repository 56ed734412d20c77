package nettools

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Configuration is the client configuration assembled from options. It is
// finalized by setup inside New and never changes afterwards.
type Configuration struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	doer       Doer
	auth       Authenticator
	header     http.Header
	codec      Codec

	cache          *ResponseCache
	dedup          *Deduplicator
	retryPolicy    *RetryPolicy
	timeoutPolicy  *TimeoutPolicy
	circuitBreaker *CircuitBreaker
	rateLimiter    *RateLimiter
	middleware     []Middleware
	pipeline       []Stage
	customPipeline bool

	errorHandler func(*Response) error
	hooks        *Hooks

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger

	// Set by setup.
	prepared Doer
	composed Pipeline
}

// Option represents a configuration option
type Option func(*Configuration)

func defaultConfiguration(baseURL string) *Configuration {
	return &Configuration{
		baseURL:      baseURL,
		timeout:      defaultTimeout,
		header:       http.Header{},
		codec:        JSONCodec{},
		errorHandler: DefaultErrorHandler,
		hooks:        NewHooks(),
		debug:        DefaultDebugConfig(),
	}
}

// WithTimeout sets the timeout of the default HTTP client. It has no effect
// on a transport supplied through WithDoer.
func WithTimeout(d time.Duration) Option {
	return func(c *Configuration) {
		c.timeout = d
	}
}

// WithHTTPClient sets a custom HTTP client. The configured timeout is
// applied to it during setup.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Configuration) {
		c.httpClient = client
	}
}

// WithDoer sets a fully custom transport, used as-is.
func WithDoer(d Doer) Option {
	return func(c *Configuration) {
		c.doer = d
	}
}

// WithAuth sets the authentication strategy.
func WithAuth(a Authenticator) Option {
	return func(c *Configuration) {
		c.auth = a
	}
}

// WithHeader adds a header sent on every call.
func WithHeader(key, value string) Option {
	return func(c *Configuration) {
		c.header.Add(key, value)
	}
}

// WithCodec replaces the JSON codec.
func WithCodec(codec Codec) Option {
	return func(c *Configuration) {
		c.codec = codec
	}
}

// WithCache enables an in-memory response cache for GET calls.
func WithCache(ttl time.Duration) Option {
	return func(c *Configuration) {
		c.cache = NewResponseCache(NewInMemoryCache(), ttl)
	}
}

// WithResponseCache sets a response cache backed by a custom store.
func WithResponseCache(cache Cache, ttl time.Duration) Option {
	return func(c *Configuration) {
		c.cache = NewResponseCache(cache, ttl)
	}
}

// WithDeduplication coalesces concurrent identical GET calls.
func WithDeduplication() Option {
	return func(c *Configuration) {
		c.dedup = NewDeduplicator()
	}
}

// WithRetryPolicy sets the retry stage.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(c *Configuration) {
		c.retryPolicy = p
	}
}

// WithTimeoutPolicy sets the per-attempt timeout stage.
func WithTimeoutPolicy(p *TimeoutPolicy) Option {
	return func(c *Configuration) {
		c.timeoutPolicy = p
	}
}

// WithRateLimiter sets the rate limiter
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(c *Configuration) {
		c.rateLimiter = NewRateLimiter(maxTokens, refillRate)
	}
}

// WithCircuitBreaker sets the circuit breaker configuration
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Configuration) {
		c.circuitBreaker = NewCircuitBreaker(config)
	}
}

// WithMiddleware adds middleware to the client. Middleware runs innermost,
// once per attempt.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Configuration) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithPipeline replaces the default stage composition with stages, first
// stage outermost. The stage options and WithMiddleware are ignored when
// it is set.
func WithPipeline(stages ...Stage) Option {
	return func(c *Configuration) {
		c.pipeline = stages
		c.customPipeline = true
	}
}

// WithErrorHandler sets the handler for responses outside 200-299.
func WithErrorHandler(fn func(*Response) error) Option {
	return func(c *Configuration) {
		c.errorHandler = fn
	}
}

// WithHooks shares a hook bag with the client.
func WithHooks(h *Hooks) Option {
	return func(c *Configuration) {
		c.hooks = h
	}
}

// WithMetrics enables Prometheus metrics collection
func WithMetrics() Option {
	return func(c *Configuration) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Configuration) {
		c.metrics = collector
	}
}

// WithDebug enables debug logging with default configuration
func WithDebug() Option {
	return func(c *Configuration) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Configuration) {
		c.debug = config
	}
}

// WithLogger sets a custom logger for debug output
func WithLogger(logger Logger) Option {
	return func(c *Configuration) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a simple console logger
func WithSimpleLogger() Option {
	return func(c *Configuration) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// BaseURL returns the base address calls are resolved against.
func (c *Configuration) BaseURL() string { return c.baseURL }

// Timeout returns the transport timeout.
func (c *Configuration) Timeout() time.Duration { return c.timeout }

// Pipeline returns the composed stage list.
func (c *Configuration) Pipeline() Pipeline { return c.composed }

// ValidateConfiguration validates the configuration and returns a
// *ConfigurationError listing every problem found.
func (c *Configuration) ValidateConfiguration() error {
	var problems []string

	if strings.TrimSpace(c.baseURL) == "" {
		problems = append(problems, "base URL must be set")
	}
	if c.doer == nil && c.timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if c.codec == nil {
		problems = append(problems, "codec cannot be nil")
	}
	if c.errorHandler == nil {
		problems = append(problems, "error handler cannot be nil")
	}
	if c.hooks == nil {
		problems = append(problems, "hooks cannot be nil")
	}

	if c.cache != nil {
		problems = append(problems, c.cache.validate()...)
	}
	if c.retryPolicy != nil {
		problems = append(problems, c.retryPolicy.validate()...)
	}
	if c.timeoutPolicy != nil {
		problems = append(problems, c.timeoutPolicy.validate()...)
	}
	if c.rateLimiter != nil {
		problems = append(problems, c.rateLimiter.validate()...)
	}
	if c.circuitBreaker != nil {
		problems = append(problems, c.circuitBreaker.validate()...)
	}

	for i, middleware := range c.middleware {
		if middleware == nil {
			problems = append(problems, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}
	if c.customPipeline {
		for i, stage := range c.pipeline {
			if isNil(stage) {
				problems = append(problems, fmt.Sprintf("pipeline stage[%d] cannot be nil", i))
			}
		}
	}

	if c.debug != nil && c.debug.Enabled && c.logger == nil {
		problems = append(problems, "logger must be set when debug is enabled")
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// setup prepares the transport and composes the pipeline. It runs once.
func (c *Configuration) setup() {
	switch {
	case c.doer != nil:
		c.prepared = c.doer
	case c.httpClient != nil:
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.prepared = &hc
	default:
		c.prepared = &http.Client{Timeout: c.timeout}
	}

	if c.logger == nil {
		c.logger = nopLogger{}
	}
	if c.debug == nil {
		c.debug = &DebugConfig{}
	}

	if c.customPipeline {
		c.composed = NewPipeline(c.pipeline...)
		return
	}

	stages := []Stage{c.cache, c.dedup, c.retryPolicy, c.circuitBreaker, c.rateLimiter, c.timeoutPolicy}
	for i, mw := range c.middleware {
		stages = append(stages, MiddlewareStage(fmt.Sprintf("middleware-%d", i), mw))
	}
	c.composed = NewPipeline(stages...)
}

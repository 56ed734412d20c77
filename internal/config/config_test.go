package config

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwithan8/nettools"
)

func validConfig() Config {
	return Config{
		BaseURL:        "https://api.example.com",
		Timeout:        time.Second,
		Retry:          RetryConfig{Backoff: "exponential"},
		AttemptTimeout: AttemptTimeoutConfig{Strategy: "cooperative"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		wantErr     bool
		errContains string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:        "missing base URL",
			mutate:      func(c *Config) { c.BaseURL = "" },
			wantErr:     true,
			errContains: "base URL is required",
		},
		{
			name:        "zero timeout",
			mutate:      func(c *Config) { c.Timeout = 0 },
			wantErr:     true,
			errContains: "timeout must be positive",
		},
		{
			name:        "invalid auth type",
			mutate:      func(c *Config) { c.Auth.Type = "oauth" },
			wantErr:     true,
			errContains: "invalid auth type",
		},
		{
			name:        "header auth without name",
			mutate:      func(c *Config) { c.Auth.Type = "header" },
			wantErr:     true,
			errContains: "auth name is required for header auth",
		},
		{
			name:    "valid query auth",
			mutate:  func(c *Config) { c.Auth = AuthConfig{Type: "query", Name: "api_key", Value: "k"} },
			wantErr: false,
		},
		{
			name:        "negative retries",
			mutate:      func(c *Config) { c.Retry.MaxRetries = -1 },
			wantErr:     true,
			errContains: "max retries must be non-negative",
		},
		{
			name:        "invalid backoff",
			mutate:      func(c *Config) { c.Retry.Backoff = "linear" },
			wantErr:     true,
			errContains: "invalid backoff",
		},
		{
			name:        "invalid strategy",
			mutate:      func(c *Config) { c.AttemptTimeout.Strategy = "eager" },
			wantErr:     true,
			errContains: "invalid timeout strategy",
		},
		{
			name:        "negative attempt timeout",
			mutate:      func(c *Config) { c.AttemptTimeout.Duration = -time.Second },
			wantErr:     true,
			errContains: "attempt timeout must be non-negative",
		},
		{
			name:        "rate limit without refill",
			mutate:      func(c *Config) { c.RateLimit.MaxTokens = 5 },
			wantErr:     true,
			errContains: "rate limit refill must be positive",
		},
		{
			name:        "negative cache ttl",
			mutate:      func(c *Config) { c.Cache.TTL = -time.Second },
			wantErr:     true,
			errContains: "cache ttl must be non-negative",
		},
		{
			name:        "negative rate limit",
			mutate:      func(c *Config) { c.RateLimit.MaxTokens = -1 },
			wantErr:     true,
			errContains: "rate limit max tokens must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				if tt.errContains != "" {
					require.Contains(t, err.Error(), tt.errContains)
				}
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "nettools.yaml", `
base-url: https://api.example.com
headers:
  X-Team: core
auth:
  type: query
  name: api_key
  value: secret
retry:
  max-retries: 3
  statuses: [502, 503]
  on-timeout: true
attempt-timeout:
  duration: 2s
  strategy: forced
rate-limit:
  max-tokens: 10
  refill: 100ms
circuit-breaker:
  enabled: true
  failure-threshold: 4
cache:
  ttl: 1m
deduplicate: true
`)

	cfg, err := LoadFile(path, nil)
	require.NoError(t, err)

	require.Equal(t, "https://api.example.com", cfg.BaseURL)
	require.Equal(t, 30*time.Second, cfg.Timeout)
	require.Equal(t, map[string]string{"X-Team": "core"}, cfg.Headers)
	require.Equal(t, AuthConfig{Type: "query", Name: "api_key", Value: "secret"}, cfg.Auth)
	require.Equal(t, 3, cfg.Retry.MaxRetries)
	require.Equal(t, "exponential", cfg.Retry.Backoff)
	require.Equal(t, 100*time.Millisecond, cfg.Retry.Initial)
	require.Equal(t, 10*time.Second, cfg.Retry.Max)
	require.Equal(t, []int{502, 503}, cfg.Retry.Statuses)
	require.True(t, cfg.Retry.OnTimeout)
	require.Equal(t, AttemptTimeoutConfig{Duration: 2 * time.Second, Strategy: "forced"}, cfg.AttemptTimeout)
	require.Equal(t, RateLimitConfig{MaxTokens: 10, Refill: 100 * time.Millisecond}, cfg.RateLimit)
	require.True(t, cfg.CircuitBreaker.Enabled)
	require.Equal(t, 4, cfg.CircuitBreaker.FailureThreshold)
	require.Equal(t, time.Minute, cfg.Cache.TTL)
	require.True(t, cfg.Deduplicate)
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "nettools.yaml", `
base-url: https://file.example.com
timeout: 5s
`)

	cfg, err := LoadFile(path, map[string]any{
		"base-url":          "https://flag.example.com",
		"retry.max-retries": 2,
	})
	require.NoError(t, err)
	require.Equal(t, "https://flag.example.com", cfg.BaseURL)
	require.Equal(t, 5*time.Second, cfg.Timeout)
	require.Equal(t, 2, cfg.Retry.MaxRetries)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "reading config file")

	_, err = LoadFile("", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "base URL is required")
}

func TestLoadFromCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "custom.yaml", `
base-url: https://file.example.com
retry:
  max-retries: 1
`)

	cmd := &cobra.Command{}
	BindFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", path,
		"--token", "tok",
		"--max-retries", "4",
		"--attempt-timeout", "250ms",
		"--debug",
	}))

	cfg, err := Load(cmd)
	require.NoError(t, err)
	require.Equal(t, "https://file.example.com", cfg.BaseURL)
	require.Equal(t, AuthConfig{Type: "bearer", Token: "tok"}, cfg.Auth)
	require.Equal(t, 4, cfg.Retry.MaxRetries)
	require.Equal(t, 250*time.Millisecond, cfg.AttemptTimeout.Duration)
	require.True(t, cfg.Debug)
}

func TestBuildFlagsMap(t *testing.T) {
	cmd := &cobra.Command{}
	BindFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"-u", "https://x", "--timeout", "3s"}))

	m := buildFlagsMap(cmd)
	require.Equal(t, map[string]any{"base-url": "https://x", "timeout": "3s"}, m)
}

func TestOptionsBuildWorkingClient(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		assert.Equal(t, "core", r.Header.Get("X-Team"))
		assert.Equal(t, "k", r.URL.Query().Get("api_key"))
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	cfg := validConfig()
	cfg.BaseURL = server.URL
	cfg.Headers = map[string]string{"X-Team": "core"}
	cfg.Auth = AuthConfig{Type: "query", Name: "api_key", Value: "k"}
	cfg.Retry = RetryConfig{MaxRetries: 2, Backoff: "constant", Initial: time.Millisecond, Statuses: []int{502}}
	cfg.AttemptTimeout = AttemptTimeoutConfig{Duration: time.Second, Strategy: "forced"}
	cfg.RateLimit = RateLimitConfig{MaxTokens: 10, Refill: time.Millisecond}
	cfg.CircuitBreaker = CircuitBreakerConfig{Enabled: true}
	cfg.Debug = true

	var logs bytes.Buffer
	client, err := nettools.New(cfg.BaseURL, cfg.Options(&logs)...)
	require.NoError(t, err)

	require.Equal(t,
		[]string{"retry", "circuit-breaker", "rate-limit", "timeout"},
		client.Configuration().Pipeline().Names())

	ok, err := client.Call(context.Background(), http.MethodGet, "/ping", nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int32(2), atomic.LoadInt32(&hits))
	require.Contains(t, logs.String(), "Retrying request")
}

func TestBackoffSelection(t *testing.T) {
	cfg := validConfig()
	cfg.Retry.Initial = 10 * time.Millisecond
	cfg.Retry.Max = time.Second

	cfg.Retry.Backoff = "constant"
	require.Equal(t, 10*time.Millisecond, cfg.backoff()(3))

	cfg.Retry.Backoff = "exponential"
	cfg.Retry.Multiplier = 2
	require.Equal(t, 40*time.Millisecond, cfg.backoff()(2))

	cfg.Retry.Backoff = "decorrelated"
	d := cfg.backoff()(1)
	require.GreaterOrEqual(t, d, 10*time.Millisecond)
	require.LessOrEqual(t, d, time.Second)
}

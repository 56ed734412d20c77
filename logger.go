package nettools

import (
	"log/slog"
	"os"
)

// Logger is the debug sink of a Client. keysAndValues alternate between a
// string key and its value.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DebugConfig selects which events a Client logs.
type DebugConfig struct {
	Enabled     bool
	LogRequests bool
	LogRetries  bool
	LogTimeouts bool
	LogCircuit  bool
	LogHooks    bool
}

// DefaultDebugConfig logs every event class once Enabled is set.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:     false,
		LogRequests: true,
		LogRetries:  true,
		LogTimeouts: true,
		LogCircuit:  true,
		LogHooks:    true,
	}
}

type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger adapts l to Logger.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l}
}

// NewSimpleLogger writes text records at debug level and above to stderr.
func NewSimpleLogger() Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &slogLogger{l: slog.New(h).With("component", "nettools")}
}

func (s *slogLogger) Debug(msg string, kv ...any) { s.l.Debug(msg, kv...) }
func (s *slogLogger) Info(msg string, kv ...any)  { s.l.Info(msg, kv...) }
func (s *slogLogger) Warn(msg string, kv ...any)  { s.l.Warn(msg, kv...) }
func (s *slogLogger) Error(msg string, kv ...any) { s.l.Error(msg, kv...) }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

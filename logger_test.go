package nettools

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSimpleLoggerLevels(t *testing.T) {
	logger := NewSimpleLogger()

	logger.Debug("debug message")
	logger.Info("info message", "key", "value")
	logger.Warn("warn message")
	logger.Error("error message")
}

func TestSlogLoggerWritesRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	logger.Warn("circuit opened", "endpoint", "/widgets")

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "endpoint=/widgets") {
		t.Errorf("Unexpected log output %q", out)
	}
}

type entry struct {
	level string
	msg   string
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []entry
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry{level, msg})
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *recordingLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.msg == msg {
			return true
		}
	}
	return false
}

func TestDebugLoggingThroughClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	logger := &recordingLogger{}
	client, err := New(server.URL,
		WithDebug(),
		WithLogger(logger),
		WithRetryPolicy(NewRetryPolicy(DefaultRetryCondition, 1, ConstantBackoff(time.Millisecond))),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := client.Call(context.Background(), http.MethodGet, "/down", nil); err == nil {
		t.Fatal("Expected an error for 503")
	}

	for _, msg := range []string{"Building request", "Retrying request", "Dispatching attempt", "Request failed"} {
		if !logger.has(msg) {
			t.Errorf("Expected %q to be logged, got %+v", msg, logger.entries)
		}
	}
}

func TestDebugFlagsFilterEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	logger := &recordingLogger{}
	client, err := New(server.URL,
		WithDebugConfig(&DebugConfig{Enabled: true, LogRetries: true}),
		WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := client.Call(context.Background(), http.MethodGet, "/", nil); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if logger.has("Building request") || logger.has("Request completed") {
		t.Errorf("Expected request events filtered out, got %+v", logger.entries)
	}
}

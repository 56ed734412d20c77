package nettools

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the failure taxonomy. Every structured error below
// matches exactly one of them through errors.Is.
var (
	// ErrMissingParameter is matched by *MissingParameterError.
	ErrMissingParameter = errors.New("nettools: missing required parameter")

	// ErrInvalidParameterPair is matched by *InvalidParameterPairError.
	ErrInvalidParameterPair = errors.New("nettools: invalid parameter pair")

	// ErrAPI is matched by *APIError.
	ErrAPI = errors.New("nettools: api error")

	// ErrDeserialization is matched by *DeserializationError.
	ErrDeserialization = errors.New("nettools: json deserialization failed")

	// ErrNoData is matched by *NoDataError.
	ErrNoData = errors.New("nettools: no data to deserialize")

	// ErrSerialization is matched by *SerializationError.
	ErrSerialization = errors.New("nettools: json serialization failed")

	// ErrTimeout is matched by *TimeoutError.
	ErrTimeout = errors.New("nettools: timeout")

	// ErrCircuitOpen is returned when the circuit breaker is in open state.
	ErrCircuitOpen = errors.New("nettools: circuit open")

	// ErrRateLimited is returned when a rate limiter cannot grant a token.
	ErrRateLimited = errors.New("nettools: rate limited")

	// ErrUnsupportedMethod is returned by BuildRequest for methods other
	// than GET, DELETE, POST, PUT and PATCH.
	ErrUnsupportedMethod = errors.New("nettools: unsupported http method")

	// ErrInvalidConfiguration is matched by *ConfigurationError.
	ErrInvalidConfiguration = errors.New("nettools: invalid configuration")
)

// MissingParameterError reports a Required field that resolved to no value.
type MissingParameterError struct {
	Type  string
	Field string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("nettools: missing required parameter %s.%s", e.Type, e.Field)
}

func (e *MissingParameterError) Is(target error) bool {
	return target == ErrMissingParameter
}

// InvalidParameterPairError reports a violated dependency constraint.
type InvalidParameterPairError struct {
	Type        string
	Field       string
	Dependent   string
	Trigger     Trigger
	Requirement Requirement
}

func (e *InvalidParameterPairError) Error() string {
	return fmt.Sprintf("nettools: invalid parameter pair on %s: when %s is %s, %s %s",
		e.Type, e.Field, e.Trigger, e.Dependent, e.Requirement)
}

func (e *InvalidParameterPairError) Is(target error) bool {
	return target == ErrInvalidParameterPair
}

// APIError wraps a response whose status is outside 200-299.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
	Header     http.Header
	Method     string
	URL        string
	CallID     uuid.UUID
}

func newAPIError(resp *Response) *APIError {
	e := &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(resp.Body),
		Header:     resp.Header,
	}
	if resp.Request != nil {
		e.Method = resp.Request.Method
		e.URL = resp.Request.URL
	}
	return e
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("nettools: ")
	if e.Method != "" {
		b.WriteString(e.Method)
		b.WriteByte(' ')
		b.WriteString(e.URL)
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "returned status %d", e.StatusCode)
	if body := strings.TrimSpace(e.Body); body != "" {
		const maxBody = 256
		if len(body) > maxBody {
			body = body[:maxBody] + "..."
		}
		b.WriteString(": ")
		b.WriteString(body)
	}
	return b.String()
}

func (e *APIError) Is(target error) bool {
	return target == ErrAPI
}

// DeserializationError reports a body that could not decode into Type.
type DeserializationError struct {
	Type  string
	Cause error
}

func (e *DeserializationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("nettools: json deserialization into %s failed: %v", e.Type, e.Cause)
	}
	return fmt.Sprintf("nettools: json deserialization into %s produced no value", e.Type)
}

func (e *DeserializationError) Unwrap() error { return e.Cause }

func (e *DeserializationError) Is(target error) bool {
	return target == ErrDeserialization
}

// NoDataError reports an empty body where a value of Type was expected.
type NoDataError struct {
	Type string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("nettools: no data to deserialize into %s", e.Type)
}

func (e *NoDataError) Is(target error) bool {
	return target == ErrNoData
}

// SerializationError reports a value of Type that could not be encoded.
type SerializationError struct {
	Type  string
	Cause error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("nettools: json serialization of %s failed: %v", e.Type, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

func (e *SerializationError) Is(target error) bool {
	return target == ErrSerialization
}

// TimeoutError is returned by a TimeoutPolicy when an attempt outlives its
// duration, and by Transport when the HTTP client's own timeout expires.
// Caller cancellation never produces a TimeoutError.
type TimeoutError struct {
	Timeout time.Duration
	Cause   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("nettools: attempt timed out after %v", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// ConfigurationError aggregates every problem found by ValidateConfiguration.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "nettools: configuration validation failed: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// IsTransient determines if an error represents a transient failure that might succeed on retry.
// Returns true for transport errors, timeouts, open circuits, rate limiting and
// API errors with status 429 or 5xx. Validation, codec and configuration
// errors, caller cancellation and other 4xx responses are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}

	switch {
	case errors.Is(err, ErrMissingParameter),
		errors.Is(err, ErrInvalidParameterPair),
		errors.Is(err, ErrDeserialization),
		errors.Is(err, ErrNoData),
		errors.Is(err, ErrSerialization),
		errors.Is(err, ErrUnsupportedMethod),
		errors.Is(err, ErrInvalidConfiguration):
		return false
	}

	return !isCancellation(err)
}

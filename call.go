package nettools

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CallState is the lifecycle position of one call.
type CallState int

const (
	CallBuilding CallState = iota
	CallDispatching
	CallRetrying
	CallCompleted
)

func (s CallState) String() string {
	switch s {
	case CallBuilding:
		return "building"
	case CallDispatching:
		return "dispatching"
	case CallRetrying:
		return "retrying"
	case CallCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// callContext carries the identity and bookkeeping of one call. It is the
// pipeline observer for that call, feeding the logger and metrics.
type callContext struct {
	cfg      *Configuration
	id       uuid.UUID
	method   string
	endpoint string
	opts     callOptions

	start  time.Time
	end    time.Time
	status int

	mu    sync.Mutex
	state CallState
}

func (c *Client) newCall(method, endpoint string) *callContext {
	cc := &callContext{
		cfg:      c.cfg,
		id:       uuid.New(),
		method:   strings.ToUpper(method),
		endpoint: endpoint,
		state:    CallBuilding,
	}
	if cc.logs(cc.cfg.debug.LogRequests) {
		cc.cfg.logger.Debug("Building request", "callID", cc.id, "method", cc.method, "endpoint", endpoint)
	}
	return cc
}

func (cc *callContext) logs(flag bool) bool {
	return cc.cfg.debug.Enabled && flag
}

func (cc *callContext) transition(s CallState) {
	cc.mu.Lock()
	prev := cc.state
	cc.state = s
	cc.mu.Unlock()

	if prev != s && cc.logs(cc.cfg.debug.LogRequests) {
		cc.cfg.logger.Debug("Call state changed", "callID", cc.id, "from", prev, "to", s)
	}
}

func (cc *callContext) hook(kind string) {
	if cc.logs(cc.cfg.debug.LogHooks) {
		cc.cfg.logger.Debug("Running hooks", "callID", cc.id, "kind", kind)
	}
}

func (cc *callContext) dispatching(attempt int) {
	cc.transition(CallDispatching)
	if cc.logs(cc.cfg.debug.LogRetries) {
		cc.cfg.logger.Debug("Dispatching attempt", "callID", cc.id, "attempt", attempt+1)
	}
}

func (cc *callContext) retrying(attempt int, delay time.Duration, resp *Response, err error) {
	cc.transition(CallRetrying)
	cc.cfg.metrics.RecordRetry(cc.method, cc.endpoint, attempt)

	if !cc.logs(cc.cfg.debug.LogRetries) {
		return
	}
	kv := []any{"callID", cc.id, "retry", attempt, "delay", delay}
	if resp != nil {
		kv = append(kv, "statusCode", resp.StatusCode)
	}
	if err != nil {
		kv = append(kv, "error", err.Error())
	}
	cc.cfg.logger.Debug("Retrying request", kv...)
}

func (cc *callContext) timedOut(timeout time.Duration) {
	cc.cfg.metrics.RecordTimeout(cc.method, cc.endpoint)
	if cc.logs(cc.cfg.debug.LogTimeouts) {
		cc.cfg.logger.Warn("Attempt timed out", "callID", cc.id, "timeout", timeout)
	}
}

func (cc *callContext) circuitState(state CircuitState) {
	cc.cfg.metrics.RecordCircuitBreakerState(cc.endpoint, state)
	if cc.logs(cc.cfg.debug.LogCircuit) {
		cc.cfg.logger.Warn("Circuit breaker state", "callID", cc.id, "state", state)
	}
}

func (cc *callContext) cacheLookup(hit bool) {
	if hit {
		cc.cfg.metrics.RecordCacheHit(cc.method, cc.endpoint)
	} else {
		cc.cfg.metrics.RecordCacheMiss(cc.method, cc.endpoint)
	}
	if cc.logs(cc.cfg.debug.LogRequests) {
		cc.cfg.logger.Debug("Cache lookup", "callID", cc.id, "hit", hit)
	}
}

func (cc *callContext) deduplicated() {
	cc.cfg.metrics.RecordDeduplicationHit(cc.method, cc.endpoint)
	if cc.logs(cc.cfg.debug.LogRequests) {
		cc.cfg.logger.Debug("Joined in-flight request", "callID", cc.id)
	}
}

func (cc *callContext) duration() time.Duration {
	if cc.start.IsZero() {
		return 0
	}
	end := cc.end
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(cc.start)
}

func (cc *callContext) complete() {
	cc.transition(CallCompleted)
	cc.cfg.metrics.RecordRequest(cc.method, cc.endpoint, cc.status, cc.duration())
	if cc.logs(cc.cfg.debug.LogRequests) {
		cc.cfg.logger.Debug("Request completed", "callID", cc.id, "statusCode", cc.status, "duration", cc.duration())
	}
}

func (cc *callContext) fail(err error) error {
	cc.transition(CallCompleted)

	kind := errorKind(err)
	var missing *MissingParameterError
	var pair *InvalidParameterPairError
	switch {
	case errors.As(err, &missing):
		cc.cfg.metrics.RecordValidationFailure(missing.Type, kind)
	case errors.As(err, &pair):
		cc.cfg.metrics.RecordValidationFailure(pair.Type, kind)
	}
	cc.cfg.metrics.RecordError(kind, cc.method, cc.endpoint)
	if !cc.start.IsZero() {
		cc.cfg.metrics.RecordRequest(cc.method, cc.endpoint, cc.status, cc.duration())
	}

	if cc.cfg.debug.Enabled {
		cc.cfg.logger.Error("Request failed", "callID", cc.id, "method", cc.method,
			"endpoint", cc.endpoint, "kind", kind, "error", err.Error())
	}
	return err
}

// errorKind is the metrics label of err.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrMissingParameter):
		return "missing_parameter"
	case errors.Is(err, ErrInvalidParameterPair):
		return "invalid_parameter_pair"
	case errors.Is(err, ErrAPI):
		return "api"
	case errors.Is(err, ErrDeserialization):
		return "deserialization"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrSerialization):
		return "serialization"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnsupportedMethod):
		return "unsupported_method"
	case isCancellation(err):
		return "canceled"
	default:
		return "transport"
	}
}

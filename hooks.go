package nettools

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestEvent is passed to OnRequestExecuting callbacks.
type RequestEvent struct {
	CallID  uuid.UUID
	Request *Request
	Start   time.Time
}

// ResponseEvent is passed to OnResponseReceived callbacks.
type ResponseEvent struct {
	CallID   uuid.UUID
	Response *Response
	Start    time.Time
	End      time.Time
}

// Elapsed is the wall time between dispatch and the final response.
func (e ResponseEvent) Elapsed() time.Duration {
	return e.End.Sub(e.Start)
}

// Hooks holds the pre-request and post-response callbacks of a Client.
// Registration is safe at any time; callbacks run synchronously on the
// calling goroutine, in registration order, and a returned error aborts
// the call.
type Hooks struct {
	mu         sync.RWMutex
	onRequest  []func(RequestEvent) error
	onResponse []func(ResponseEvent) error
}

// NewHooks returns an empty hook bag.
func NewHooks() *Hooks {
	return &Hooks{}
}

// OnRequestExecuting registers fn to run after a request is built and
// before it enters the pipeline.
func (h *Hooks) OnRequestExecuting(fn func(RequestEvent) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRequest = append(h.onRequest, fn)
}

// OnResponseReceived registers fn to run once the pipeline returns a
// response, before status handling and decoding.
func (h *Hooks) OnResponseReceived(fn func(ResponseEvent) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onResponse = append(h.onResponse, fn)
}

func (h *Hooks) requestExecuting(ev RequestEvent) error {
	h.mu.RLock()
	fns := h.onRequest
	h.mu.RUnlock()
	for _, fn := range fns {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hooks) responseReceived(ev ResponseEvent) error {
	h.mu.RLock()
	fns := h.onResponse
	h.mu.RUnlock()
	for _, fn := range fns {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

package nettools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Sender performs one logical send of a Request.
type Sender interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// SenderFunc is a helper type for stages and tests.
type SenderFunc func(ctx context.Context, req *Request) (*Response, error)

// Send calls f(ctx, req).
func (f SenderFunc) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Stage is one policy layer of a Pipeline.
type Stage interface {
	Name() string
	Wrap(next Sender) Sender
}

// Pipeline is an ordered list of stages around a terminal Sender. The first
// stage is the outermost one.
type Pipeline struct {
	stages []Stage
}

// NewPipeline builds a Pipeline from stages in outermost-first order. Nil
// stages are skipped.
func NewPipeline(stages ...Stage) Pipeline {
	p := Pipeline{stages: make([]Stage, 0, len(stages))}
	for _, s := range stages {
		if !isNil(s) {
			p.stages = append(p.stages, s)
		}
	}
	return p
}

// Stages returns a copy of the stage list.
func (p Pipeline) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

// Names returns the stage names, outermost first.
func (p Pipeline) Names() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Then composes the pipeline around terminal.
func (p Pipeline) Then(terminal Sender) Sender {
	current := terminal
	for i := len(p.stages) - 1; i >= 0; i-- {
		current = p.stages[i].Wrap(current)
	}
	return current
}

// Middleware represents a middleware function
type Middleware func(ctx context.Context, req *Request, next Sender) (*Response, error)

type middlewareStage struct {
	name string
	mw   Middleware
}

// MiddlewareStage turns a Middleware into a named Stage.
func MiddlewareStage(name string, mw Middleware) Stage {
	return &middlewareStage{name: name, mw: mw}
}

func (s *middlewareStage) Name() string { return s.name }

func (s *middlewareStage) Wrap(next Sender) Sender {
	return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		resp, err := s.mw(ctx, req, next)
		if resp == nil && err == nil {
			return nil, fmt.Errorf("middleware %q: %w", s.name, errNoResponse)
		}
		return resp, err
	})
}

// Doer is the raw HTTP transport. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxResponseBody bounds how much of a response body is buffered.
const maxResponseBody = 32 << 20

// Transport is the terminal Sender: it performs one HTTP exchange through d
// and buffers the response body, closing it before returning. A timeout
// raised by d itself while ctx is still live is reported as *TimeoutError.
func Transport(d Doer) Sender {
	return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		httpReq, err := req.HTTPRequest(ctx)
		if err != nil {
			return nil, err
		}

		httpResp, err := d.Do(httpReq)
		if err != nil {
			var netErr net.Error
			if ctx.Err() == nil && errors.As(err, &netErr) && netErr.Timeout() {
				timeout := transportTimeout(d)
				observerFrom(ctx).timedOut(timeout)
				return nil, &TimeoutError{Timeout: timeout, Cause: err}
			}
			return nil, err
		}
		defer httpResp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
		if err != nil {
			return nil, fmt.Errorf("nettools: reading response body: %w", err)
		}

		return &Response{
			StatusCode: httpResp.StatusCode,
			Status:     httpResp.Status,
			Header:     httpResp.Header,
			Body:       body,
			Request:    req,
		}, nil
	})
}

// transportTimeout is the exchange limit d enforces on its own, if known.
func transportTimeout(d Doer) time.Duration {
	if c, ok := d.(*http.Client); ok {
		return c.Timeout
	}
	return 0
}

// errNoResponse reports a Sender that returned neither a response nor an error.
var errNoResponse = errors.New("nettools: sender returned no response")

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// observer receives pipeline events of the call carried by ctx.
type observer interface {
	dispatching(attempt int)
	retrying(attempt int, delay time.Duration, resp *Response, err error)
	timedOut(timeout time.Duration)
	circuitState(state CircuitState)
	cacheLookup(hit bool)
	deduplicated()
}

type observerKey struct{}

func withObserver(ctx context.Context, o observer) context.Context {
	return context.WithValue(ctx, observerKey{}, o)
}

func observerFrom(ctx context.Context) observer {
	if o, ok := ctx.Value(observerKey{}).(observer); ok {
		return o
	}
	return nopObserver{}
}

type nopObserver struct{}

func (nopObserver) dispatching(int)                               {}
func (nopObserver) retrying(int, time.Duration, *Response, error) {}
func (nopObserver) timedOut(time.Duration)                        {}
func (nopObserver) circuitState(CircuitState)                     {}
func (nopObserver) cacheLookup(bool)                              {}
func (nopObserver) deduplicated()                                 {}

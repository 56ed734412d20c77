package nettools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Client turns parameter objects into HTTP calls against one base address.
// It is safe for concurrent use; configuration is fixed once New returns.
type Client struct {
	cfg    *Configuration
	sender Sender
}

// New constructs a Client for baseURL using the provided functional options.
// Invalid configuration is reported as a *ConfigurationError.
func New(baseURL string, options ...Option) (*Client, error) {
	cfg := defaultConfiguration(baseURL)
	for _, option := range options {
		option(cfg)
	}

	if err := cfg.ValidateConfiguration(); err != nil {
		return nil, err
	}
	cfg.setup()

	return &Client{
		cfg:    cfg,
		sender: cfg.composed.Then(Transport(cfg.prepared)),
	}, nil
}

// Configuration returns the finalized configuration.
func (c *Client) Configuration() *Configuration {
	return c.cfg
}

// Hooks returns the client's hook bag.
func (c *Client) Hooks() *Hooks {
	return c.cfg.hooks
}

// Close releases idle connections held by the prepared transport.
func (c *Client) Close() error {
	if ci, ok := c.cfg.prepared.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
	return nil
}

// DefaultErrorHandler reports every non-success response as an *APIError.
func DefaultErrorHandler(resp *Response) error {
	return newAPIError(resp)
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	root   []string
	header http.Header
}

// RootElement starts decoding at the element found by following path
// through the response document.
func RootElement(path ...string) CallOption {
	return func(o *callOptions) {
		o.root = path
	}
}

// WithCallHeader adds a header to this call only.
func WithCallHeader(key, value string) CallOption {
	return func(o *callOptions) {
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Add(key, value)
	}
}

// Do performs method on endpoint with params and decodes a successful
// response into T. A nil params sends no parameters.
func Do[T any](ctx context.Context, c *Client, method, endpoint string, params Parameters, opts ...CallOption) (T, error) {
	var zero T
	typ := reflect.TypeOf((*T)(nil)).Elem().String()

	cc := c.newCall(method, endpoint)
	resp, err := c.execute(ctx, cc, params, opts)
	if err != nil {
		return zero, cc.fail(err)
	}

	if !resp.IsSuccess() {
		herr := c.cfg.errorHandler(resp)
		if herr == nil {
			herr = newAPIError(resp)
		}
		return zero, cc.fail(withCallID(herr, cc.id))
	}

	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return zero, cc.fail(&NoDataError{Type: typ})
	}

	var out *T
	if err := c.cfg.codec.Unmarshal(resp.Body, &out, cc.opts.root...); err != nil {
		return zero, cc.fail(&DeserializationError{Type: typ, Cause: err})
	}
	if out == nil {
		return zero, cc.fail(&DeserializationError{Type: typ})
	}

	cc.complete()
	return *out, nil
}

// Get is Do with GET.
func Get[T any](ctx context.Context, c *Client, endpoint string, params Parameters, opts ...CallOption) (T, error) {
	return Do[T](ctx, c, http.MethodGet, endpoint, params, opts...)
}

// Call performs method on endpoint and reports whether the response was a
// success. A non-success response goes to the error handler; a nil return
// from the handler yields (false, nil).
func (c *Client) Call(ctx context.Context, method, endpoint string, params Parameters, opts ...CallOption) (bool, error) {
	cc := c.newCall(method, endpoint)
	resp, err := c.execute(ctx, cc, params, opts)
	if err != nil {
		return false, cc.fail(err)
	}

	if !resp.IsSuccess() {
		if herr := c.cfg.errorHandler(resp); herr != nil {
			return false, cc.fail(withCallID(herr, cc.id))
		}
		cc.complete()
		return false, nil
	}

	cc.complete()
	return true, nil
}

func (c *Client) execute(ctx context.Context, cc *callContext, params Parameters, opts []CallOption) (*Response, error) {
	for _, opt := range opts {
		opt(&cc.opts)
	}

	req, err := c.build(cc, params)
	if err != nil {
		return nil, err
	}

	cc.start = time.Now()
	cc.hook("request")
	if err := c.cfg.hooks.requestExecuting(RequestEvent{CallID: cc.id, Request: req, Start: cc.start}); err != nil {
		return nil, fmt.Errorf("nettools: request hook: %w", err)
	}

	cc.transition(CallDispatching)
	c.cfg.metrics.RecordRequestStart(cc.method, cc.endpoint)
	resp, err := c.sender.Send(withObserver(ctx, cc), req)
	c.cfg.metrics.RecordRequestEnd(cc.method, cc.endpoint)
	cc.end = time.Now()
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errNoResponse
	}
	cc.status = resp.StatusCode

	cc.hook("response")
	if err := c.cfg.hooks.responseReceived(ResponseEvent{CallID: cc.id, Response: resp, Start: cc.start, End: cc.end}); err != nil {
		return nil, fmt.Errorf("nettools: response hook: %w", err)
	}
	return resp, nil
}

func (c *Client) build(cc *callContext, params Parameters) (*Request, error) {
	flat, err := Flatten(params, "")
	if err != nil {
		return nil, err
	}

	header := c.cfg.header.Clone()
	header.Set("User-Agent", UserAgent())
	for k, vs := range cc.opts.header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	flat = applyAuth(c.cfg.auth, header, flat)

	return BuildRequest(c.cfg.baseURL, cc.endpoint, cc.method, flat, header, c.cfg.codec)
}

func withCallID(err error, id uuid.UUID) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.CallID == uuid.Nil {
		apiErr.CallID = id
	}
	return err
}

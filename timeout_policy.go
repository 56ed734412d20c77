package nettools

import (
	"context"
	"errors"
	"time"
)

// TimeoutStrategy selects how an attempt is bounded.
type TimeoutStrategy int

const (
	// Cooperative sets a deadline on the attempt context and relies on the
	// transport to honor it.
	Cooperative TimeoutStrategy = iota
	// Forced returns as soon as the timeout elapses, abandoning the attempt
	// still running in the background.
	Forced
)

func (s TimeoutStrategy) String() string {
	switch s {
	case Cooperative:
		return "cooperative"
	case Forced:
		return "forced"
	default:
		return "unknown"
	}
}

// TimeoutPolicy is a Stage that bounds every attempt passing through it.
type TimeoutPolicy struct {
	timeout  func(ctx context.Context) time.Duration
	strategy TimeoutStrategy
}

// NewTimeoutPolicy bounds each attempt by d.
func NewTimeoutPolicy(d time.Duration, strategy TimeoutStrategy) *TimeoutPolicy {
	return &TimeoutPolicy{
		timeout:  func(context.Context) time.Duration { return d },
		strategy: strategy,
	}
}

// NewTimeoutPolicyFunc computes the bound per attempt from the call context.
// A non-positive result leaves the attempt unbounded.
func NewTimeoutPolicyFunc(fn func(ctx context.Context) time.Duration, strategy TimeoutStrategy) *TimeoutPolicy {
	return &TimeoutPolicy{timeout: fn, strategy: strategy}
}

// Strategy reports how attempts are bounded.
func (p *TimeoutPolicy) Strategy() TimeoutStrategy {
	return p.strategy
}

// Name implements Stage.
func (p *TimeoutPolicy) Name() string {
	return "timeout"
}

// Wrap implements Stage.
func (p *TimeoutPolicy) Wrap(next Sender) Sender {
	return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		d := p.timeout(ctx)
		if d <= 0 {
			return next.Send(ctx, req)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		var resp *Response
		var err error
		if p.strategy == Forced {
			resp, err = sendForced(attemptCtx, next, req)
		} else {
			resp, err = next.Send(attemptCtx, req)
		}

		if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			observerFrom(ctx).timedOut(d)
			return nil, &TimeoutError{Timeout: d, Cause: err}
		}
		return resp, err
	})
}

type sendResult struct {
	resp *Response
	err  error
}

// sendForced runs the attempt in its own goroutine and stops waiting when
// ctx is done. The result channel is buffered so the goroutine never leaks
// blocked on send.
func sendForced(ctx context.Context, next Sender, req *Request) (*Response, error) {
	done := make(chan sendResult, 1)
	go func() {
		resp, err := next.Send(ctx, req)
		done <- sendResult{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *TimeoutPolicy) validate() []string {
	if p.timeout == nil {
		return []string{"timeout policy duration must be set"}
	}
	return nil
}

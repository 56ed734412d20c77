package nettools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	internalbackoff "github.com/nwithan8/nettools/internal/backoff"
)

// RetryCondition decides retry eligibility from the outcome of one attempt:
// either a transport error or an inspected response.
type RetryCondition func(resp *Response, err error) bool

// Backoff returns the delay before the retry with the given zero-based index.
type Backoff func(retry int) time.Duration

// RetryPolicy is a Stage that re-sends a Request while its condition
// matches, up to a retry budget. Attempts are strictly sequential.
type RetryPolicy struct {
	condition         RetryCondition
	retries           int
	backoff           Backoff
	delays            []time.Duration
	respectRetryAfter bool
}

// NewRetryPolicy retries up to retries times, waiting backoff(i) before retry i.
// A nil backoff retries immediately.
func NewRetryPolicy(condition RetryCondition, retries int, backoff Backoff) *RetryPolicy {
	return &RetryPolicy{
		condition: condition,
		retries:   retries,
		backoff:   backoff,
	}
}

// NewRetryPolicyWithDelays retries once per delay, waiting delays[i] before retry i.
func NewRetryPolicyWithDelays(condition RetryCondition, delays ...time.Duration) *RetryPolicy {
	return &RetryPolicy{
		condition: condition,
		retries:   len(delays),
		delays:    slices.Clone(delays),
	}
}

// RespectRetryAfter returns a copy of p that waits for the server's
// Retry-After header, when present, instead of its own schedule.
func (p *RetryPolicy) RespectRetryAfter() *RetryPolicy {
	cp := *p
	cp.delays = slices.Clone(p.delays)
	cp.respectRetryAfter = true
	return &cp
}

// MaxRetries is the number of retries after the first attempt.
func (p *RetryPolicy) MaxRetries() int {
	return p.retries
}

// Name implements Stage.
func (p *RetryPolicy) Name() string {
	return "retry"
}

// Wrap implements Stage. A done context is never retried, and cancellation
// during a backoff wait returns before the next attempt starts. When the
// budget is exhausted the last response or error is returned as-is.
func (p *RetryPolicy) Wrap(next Sender) Sender {
	return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		obs := observerFrom(ctx)
		for attempt := 0; ; attempt++ {
			if attempt > 0 {
				obs.dispatching(attempt)
			}

			resp, err := next.Send(ctx, req)
			if err != nil && ctx.Err() != nil {
				return nil, err
			}
			if attempt >= p.retries || !p.condition(resp, err) {
				return resp, err
			}

			delay := p.delay(attempt, resp)
			obs.retrying(attempt+1, delay, resp, err)
			if waitErr := sleepContext(ctx, delay); waitErr != nil {
				return nil, waitErr
			}
		}
	})
}

func (p *RetryPolicy) delay(retry int, resp *Response) time.Duration {
	if p.respectRetryAfter && resp != nil {
		if d := parseRetryAfter(resp.Header.Get("Retry-After")); d > 0 {
			return d
		}
	}
	if p.delays != nil {
		return p.delays[retry]
	}
	if p.backoff == nil {
		return 0
	}
	return p.backoff(retry)
}

func (p *RetryPolicy) validate() []string {
	var problems []string
	if p.condition == nil {
		problems = append(problems, "retry policy condition must be set")
	}
	if p.retries < 0 {
		problems = append(problems, "retry policy retries must be non-negative")
	}
	if p.retries > 100 {
		problems = append(problems, "retry policy retries > 100 may cause excessive resource usage")
	}
	for i, d := range p.delays {
		if d < 0 {
			problems = append(problems, fmt.Sprintf("retry policy delay[%d] must be non-negative", i))
		}
	}
	return problems
}

// ConstantBackoff waits d before every retry.
func ConstantBackoff(d time.Duration) Backoff {
	return strategyBackoff(internalbackoff.Constant{}, internalbackoff.Params{Initial: d})
}

// ExponentialBackoff grows the delay from initial by multiplier per retry,
// capped at max, with up to jitter (0.0 to 1.0) of random extra delay.
func ExponentialBackoff(initial, max time.Duration, multiplier, jitter float64) Backoff {
	return strategyBackoff(internalbackoff.ExponentialJitter{}, internalbackoff.Params{
		Initial:    initial,
		Max:        max,
		Multiplier: multiplier,
		Jitter:     jitter,
	})
}

// DecorrelatedBackoff draws each delay between initial and a bound that
// triples per retry, capped at max.
func DecorrelatedBackoff(initial, max time.Duration) Backoff {
	return strategyBackoff(internalbackoff.Decorrelated{}, internalbackoff.Params{Initial: initial, Max: max})
}

func strategyBackoff(s internalbackoff.Strategy, params internalbackoff.Params) Backoff {
	return func(retry int) time.Duration {
		return s.Delay(retry, params)
	}
}

// DefaultRetryCondition retries transport errors, timeouts, 429 and 5xx.
func DefaultRetryCondition(resp *Response, err error) bool {
	if err != nil {
		return !isCancellation(err) || errors.Is(err, ErrTimeout)
	}
	return resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500)
}

// RetryOnStatus matches responses whose status is one of codes.
func RetryOnStatus(codes ...int) RetryCondition {
	codes = slices.Clone(codes)
	return func(resp *Response, err error) bool {
		return err == nil && resp != nil && slices.Contains(codes, resp.StatusCode)
	}
}

// RetryOnStatusRange matches responses with lo <= status <= hi.
func RetryOnStatusRange(lo, hi int) RetryCondition {
	return func(resp *Response, err error) bool {
		return err == nil && resp != nil && resp.StatusCode >= lo && resp.StatusCode <= hi
	}
}

// RetryOutsideStatusRange matches responses whose status is not in [lo, hi].
func RetryOutsideStatusRange(lo, hi int) RetryCondition {
	return func(resp *Response, err error) bool {
		return err == nil && resp != nil && (resp.StatusCode < lo || resp.StatusCode > hi)
	}
}

// RetryOnTransportError matches any send error other than a timeout or a
// cancellation.
func RetryOnTransportError() RetryCondition {
	return func(_ *Response, err error) bool {
		return err != nil && !errors.Is(err, ErrTimeout) && !isCancellation(err)
	}
}

// RetryOnTimeout matches attempts cut short by a TimeoutPolicy or by the
// client's transport timeout.
func RetryOnTimeout() RetryCondition {
	return func(_ *Response, err error) bool {
		return errors.Is(err, ErrTimeout)
	}
}

// AnyOf matches when at least one condition matches.
func AnyOf(conditions ...RetryCondition) RetryCondition {
	return func(resp *Response, err error) bool {
		for _, c := range conditions {
			if c(resp, err) {
				return true
			}
		}
		return false
	}
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds format and HTTP-date format.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour // Cap at 1 hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

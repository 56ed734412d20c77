package nettools

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedStage struct {
	name  string
	trace *[]string
}

func (s namedStage) Name() string { return s.name }

func (s namedStage) Wrap(next Sender) Sender {
	return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		*s.trace = append(*s.trace, s.name)
		return next.Send(ctx, req)
	})
}

func statusSender(calls *int32, statuses ...int) Sender {
	return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		n := atomic.AddInt32(calls, 1)
		idx := int(n) - 1
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		return &Response{StatusCode: statuses[idx], Request: req}, nil
	})
}

func testRequest() *Request {
	return &Request{Method: http.MethodGet, URL: "http://example.invalid/x", Header: http.Header{}}
}

func TestPipelineOrder(t *testing.T) {
	var trace []string
	p := NewPipeline(namedStage{"outer", &trace}, nil, namedStage{"inner", &trace})

	assert.Equal(t, []string{"outer", "inner"}, p.Names())

	var calls int32
	_, err := p.Then(statusSender(&calls, 200)).Send(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, trace)
}

func TestPipelineNilTypedStagesSkipped(t *testing.T) {
	var retry *RetryPolicy
	var limiter *RateLimiter
	p := NewPipeline(retry, NewTimeoutPolicy(time.Second, Cooperative), limiter)
	assert.Equal(t, []string{"timeout"}, p.Names())
}

func TestMiddlewareStage(t *testing.T) {
	stage := MiddlewareStage("tag", func(ctx context.Context, req *Request, next Sender) (*Response, error) {
		resp, err := next.Send(ctx, req)
		if resp != nil {
			resp.Header = http.Header{"X-Tagged": []string{"yes"}}
		}
		return resp, err
	})
	assert.Equal(t, "tag", stage.Name())

	var calls int32
	resp, err := stage.Wrap(statusSender(&calls, 200)).Send(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "yes", resp.Header.Get("X-Tagged"))
}

func TestMiddlewareStageWithoutResponse(t *testing.T) {
	stage := MiddlewareStage("drop", func(context.Context, *Request, Sender) (*Response, error) {
		return nil, nil
	})

	var calls int32
	_, err := stage.Wrap(statusSender(&calls, 200)).Send(context.Background(), testRequest())
	require.ErrorIs(t, err, errNoResponse)
	assert.Contains(t, err.Error(), `middleware "drop"`)
}

func TestRetryExhaustsBudgetOnPersistent503(t *testing.T) {
	var calls int32
	policy := NewRetryPolicy(RetryOnStatus(http.StatusServiceUnavailable), 3, nil)

	resp, err := policy.Wrap(statusSender(&calls, 503)).Send(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode, "last response surfaces after exhaustion")
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls), "1 attempt + 3 retries")
}

func TestRetryStopsOnSuccess(t *testing.T) {
	var calls int32
	policy := NewRetryPolicyWithDelays(RetryOnStatusRange(500, 599), time.Millisecond, time.Millisecond, time.Millisecond)

	resp, err := policy.Wrap(statusSender(&calls, 503, 200)).Send(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRetryConditionNotMatched(t *testing.T) {
	var calls int32
	policy := NewRetryPolicy(RetryOutsideStatusRange(200, 299), 5, nil)

	resp, err := policy.Wrap(statusSender(&calls, 201)).Send(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRetryTransportErrorSurfacesLastError(t *testing.T) {
	boom := errors.New("connection reset")
	var calls int32
	next := SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	})

	_, err := NewRetryPolicy(RetryOnTransportError(), 2, ConstantBackoff(time.Millisecond)).
		Wrap(next).Send(context.Background(), testRequest())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	next := SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		cancel()
		return &Response{StatusCode: 503}, nil
	})

	_, err := NewRetryPolicy(RetryOnStatus(503), 3, ConstantBackoff(time.Hour)).
		Wrap(next).Send(ctx, testRequest())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "no attempt after cancellation")
}

func TestRetryNeverRetriesCancelledSend(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	next := SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, ctx.Err()
	})

	_, err := NewRetryPolicy(func(*Response, error) bool { return true }, 3, nil).
		Wrap(next).Send(ctx, testRequest())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRetryRespectsRetryAfter(t *testing.T) {
	policy := NewRetryPolicy(RetryOnStatus(429), 1, ConstantBackoff(time.Hour)).RespectRetryAfter()
	resp := &Response{StatusCode: 429, Header: http.Header{"Retry-After": []string{"2"}}}

	assert.Equal(t, 2*time.Second, policy.delay(0, resp))
	assert.Equal(t, time.Hour, policy.delay(0, &Response{StatusCode: 429, Header: http.Header{}}))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-1"))
	assert.Equal(t, time.Hour, parseRetryAfter("7200"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))

	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.True(t, d > 25*time.Second && d <= 30*time.Second, "got %v", d)
}

func TestDefaultRetryCondition(t *testing.T) {
	assert.True(t, DefaultRetryCondition(nil, errors.New("dial tcp: refused")))
	assert.True(t, DefaultRetryCondition(nil, &TimeoutError{Timeout: time.Second, Cause: context.DeadlineExceeded}))
	assert.False(t, DefaultRetryCondition(nil, context.Canceled))
	assert.True(t, DefaultRetryCondition(&Response{StatusCode: 429}, nil))
	assert.True(t, DefaultRetryCondition(&Response{StatusCode: 502}, nil))
	assert.False(t, DefaultRetryCondition(&Response{StatusCode: 404}, nil))
	assert.False(t, DefaultRetryCondition(&Response{StatusCode: 200}, nil))
}

func TestAnyOf(t *testing.T) {
	cond := AnyOf(RetryOnStatus(418), RetryOnTimeout())
	assert.True(t, cond(&Response{StatusCode: 418}, nil))
	assert.True(t, cond(nil, &TimeoutError{Timeout: time.Second}))
	assert.False(t, cond(&Response{StatusCode: 500}, nil))
	assert.False(t, RetryOnTransportError()(nil, &TimeoutError{Timeout: time.Second}))
}

func TestBackoffSchedules(t *testing.T) {
	assert.Equal(t, 50*time.Millisecond, ConstantBackoff(50*time.Millisecond)(7))

	exp := ExponentialBackoff(10*time.Millisecond, 50*time.Millisecond, 2, 0)
	assert.Equal(t, 10*time.Millisecond, exp(0))
	assert.Equal(t, 20*time.Millisecond, exp(1))
	assert.Equal(t, 50*time.Millisecond, exp(5))

	dec := DecorrelatedBackoff(10*time.Millisecond, time.Second)
	for i := 0; i < 5; i++ {
		d := dec(i)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	}
}

func slowSender(calls *int32, delay time.Duration) Sender {
	return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		atomic.AddInt32(calls, 1)
		select {
		case <-time.After(delay):
			return &Response{StatusCode: 200, Request: req}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

type netTimeoutError struct{}

func (netTimeoutError) Error() string   { return "i/o timeout" }
func (netTimeoutError) Timeout() bool   { return true }
func (netTimeoutError) Temporary() bool { return true }

func TestTransportReportsClientTimeout(t *testing.T) {
	failing := doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, netTimeoutError{}
	})

	_, err := Transport(failing).Send(context.Background(), testRequest())
	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, netTimeoutError{})
	assert.True(t, DefaultRetryCondition(nil, err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Transport(failing).Send(ctx, testRequest())
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestTimeoutCooperative(t *testing.T) {
	var calls int32
	_, err := NewTimeoutPolicy(20*time.Millisecond, Cooperative).
		Wrap(slowSender(&calls, time.Second)).Send(context.Background(), testRequest())

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 20*time.Millisecond, terr.Timeout)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTimeoutForcedAbandonsStuckAttempt(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		<-release
		return &Response{StatusCode: 200}, nil
	})

	start := time.Now()
	_, err := NewTimeoutPolicy(20*time.Millisecond, Forced).Wrap(stuck).Send(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTimeoutWithinBudget(t *testing.T) {
	var calls int32
	resp, err := NewTimeoutPolicy(time.Second, Forced).
		Wrap(slowSender(&calls, time.Millisecond)).Send(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestTimeoutCallerCancellationIsNotTimeout(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := NewTimeoutPolicy(time.Second, Cooperative).
		Wrap(slowSender(&calls, time.Second)).Send(ctx, testRequest())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestTimeoutPolicyFunc(t *testing.T) {
	var calls int32
	policy := NewTimeoutPolicyFunc(func(context.Context) time.Duration { return 0 }, Cooperative)
	resp, err := policy.Wrap(slowSender(&calls, 5*time.Millisecond)).Send(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode, "non-positive duration leaves attempt unbounded")
}

func TestRetryAroundTimeout(t *testing.T) {
	var calls int32
	p := NewPipeline(
		NewRetryPolicy(RetryOnTimeout(), 1, nil),
		NewTimeoutPolicy(20*time.Millisecond, Cooperative),
	)

	_, err := p.Then(slowSender(&calls, time.Second)).Send(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "each attempt bounded, timeout retried once")
}

type recordingObserver struct {
	nopObserver
	dispatched []int
	retried    []int
	timeouts   int
}

func (o *recordingObserver) dispatching(attempt int) { o.dispatched = append(o.dispatched, attempt) }
func (o *recordingObserver) retrying(attempt int, _ time.Duration, _ *Response, _ error) {
	o.retried = append(o.retried, attempt)
}
func (o *recordingObserver) timedOut(time.Duration) { o.timeouts++ }

func TestRetryNotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	var calls int32
	ctx := withObserver(context.Background(), obs)

	_, err := NewRetryPolicy(RetryOnStatus(503), 2, nil).Wrap(statusSender(&calls, 503)).Send(ctx, testRequest())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, obs.retried)
	assert.Equal(t, []int{1, 2}, obs.dispatched)
}

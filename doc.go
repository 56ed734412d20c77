// Package nettools turns declarative parameter objects into REST calls and
// runs them through a composable reliability pipeline:
//
//   - Parameter validation (required fields, dependency constraints) and
//     flattening into nested key/value form, driven by per-field metadata
//   - Request building: query strings for GET/DELETE, JSON bodies for
//     POST/PUT/PATCH
//   - Retries with constant, exponential or decorrelated backoff
//   - Per-attempt timeouts, cooperative or forced
//   - Rate limiting (token bucket) and circuit breaking
//   - GET response caching and coalescing of identical in-flight GETs
//   - Hooks, Prometheus metrics and lightweight structured debug logging
//   - Typed decoding with an optional root element, and a typed error taxonomy
//
// A parameter object declares its fields explicitly:
//
//	type ListWidgets struct {
//	    Owner string
//	    Limit *int
//	}
//
//	func (ListWidgets) ParameterType() string { return "ListWidgets" }
//
//	func (p ListWidgets) ParameterFields() []nettools.Field {
//	    return []nettools.Field{
//	        nettools.NewField("owner", nettools.Primitive(p.Owner), nettools.Top(nettools.Required)),
//	        nettools.NewField("limit", nettools.Ptr(p.Limit), nettools.Top(nettools.Optional, "page", "limit")),
//	    }
//	}
//
// Typical usage:
//
//	client, err := nettools.New("https://api.example.com",
//	    nettools.WithAuth(nettools.BearerAuth(token)),
//	    nettools.WithRetryPolicy(nettools.NewRetryPolicy(nettools.DefaultRetryCondition, 3,
//	        nettools.ExponentialBackoff(100*time.Millisecond, 5*time.Second, 2, 0.1))),
//	    nettools.WithTimeoutPolicy(nettools.NewTimeoutPolicy(2*time.Second, nettools.Cooperative)),
//	)
//	widgets, err := nettools.Get[[]Widget](ctx, client, "/widgets", ListWidgets{Owner: "me"},
//	    nettools.RootElement("data"))
//
// Stages compose outermost first: cache, deduplication, retry, circuit
// breaker, rate limiter, timeout, then middleware. WithPipeline replaces that order. Responses
// outside 200-299 surface as *APIError unless an error handler says otherwise.
package nettools

package nettools

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Request is a fully built outbound call. Exactly one of Query and Body is
// populated, selected by Method. A Request is never modified after
// BuildRequest returns it.
type Request struct {
	Method string
	// URL is the base address joined with the endpoint, without Query.
	URL    string
	Header http.Header
	Query  string
	Body   []byte
}

// FullURL is URL with Query appended.
func (r *Request) FullURL() string {
	if r.Query == "" {
		return r.URL
	}
	sep := "?"
	if strings.Contains(r.URL, "?") {
		sep = "&"
	}
	return r.URL + sep + r.Query
}

// HTTPRequest materializes a fresh *http.Request bound to ctx. It is called
// once per attempt, so every retry gets its own body reader.
func (r *Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	var body *bytes.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, r.Method, r.FullURL(), body)
	} else {
		req, err = http.NewRequestWithContext(ctx, r.Method, r.FullURL(), nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	return req, nil
}

// IsReadMethod reports whether method carries its parameters in the query string.
func IsReadMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodDelete:
		return true
	default:
		return false
	}
}

// IsWriteMethod reports whether method carries its parameters as a JSON body.
func IsWriteMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// JoinURL joins base and endpoint with exactly one "/", trimming one
// trailing slash from base and one leading slash from endpoint.
func JoinURL(base, endpoint string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(endpoint, "/")
}

// BuildRequest converts a method, endpoint and flattened parameters into a
// Request. GET and DELETE encode params into the query string; POST, PUT and
// PATCH marshal them as a JSON body through codec (JSONCodec when nil).
func BuildRequest(baseURL, endpoint, method string, params Flattened, header http.Header, codec Codec) (*Request, error) {
	method = strings.ToUpper(method)
	if codec == nil {
		codec = JSONCodec{}
	}

	req := &Request{
		Method: method,
		URL:    JoinURL(baseURL, endpoint),
		Header: header.Clone(),
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}

	switch {
	case IsReadMethod(method):
		req.Query = EncodeQuery(params)
	case IsWriteMethod(method):
		if params == nil {
			params = Flattened{}
		}
		body, err := codec.Marshal(map[string]any(params))
		if err != nil {
			return nil, &SerializationError{Type: "nettools.Flattened", Cause: err}
		}
		req.Body = body
		req.Header.Set("Content-Type", contentTypeJSON)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}

	return req, nil
}

// EncodeQuery renders params as a URL query string. Nested mappings use
// bracket paths (a[b]=v), list items their index (a[0]=v); nil entries are
// dropped. Keys are emitted in sorted order.
func EncodeQuery(params Flattened) string {
	values := url.Values{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		addQueryValue(values, k, params[k])
	}
	return values.Encode()
}

func addQueryValue(values url.Values, key string, v any) {
	switch t := v.(type) {
	case nil:
		return
	case map[string]any:
		for k, item := range t {
			addQueryValue(values, key+"["+k+"]", item)
		}
		return
	case []any:
		for i, item := range t {
			addQueryValue(values, key+"["+strconv.Itoa(i)+"]", item)
		}
		return
	case []byte:
		values.Add(key, string(t))
		return
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return
		}
		addQueryValue(values, key, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			addQueryValue(values, key+"["+strconv.Itoa(i)+"]", rv.Index(i).Interface())
		}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			values.Add(key, formatScalar(v))
			return
		}
		iter := rv.MapRange()
		for iter.Next() {
			addQueryValue(values, key+"["+iter.Key().String()+"]", iter.Value().Interface())
		}
	default:
		values.Add(key, formatScalar(v))
	}
}

func formatScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case time.Time:
		return t.Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// Response is a fully buffered HTTP response. The transport body has
// already been read and closed when a Response is returned.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	Request    *Request
}

// IsSuccess reports whether the status is in the 200-299 range.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

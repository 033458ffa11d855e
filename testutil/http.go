package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Request builds an in-process HTTP request
type Request struct {
	method  string
	path    string
	body    interface{}
	headers http.Header
	query   url.Values
}

// NewRequest starts a request for method and path
func NewRequest(method, path string) *Request {
	return &Request{method: method, path: path, headers: http.Header{}, query: url.Values{}}
}

func GET(path string) *Request  { return NewRequest(http.MethodGet, path) }
func POST(path string) *Request { return NewRequest(http.MethodPost, path) }

// JSON sets the body, encoded on Do
func (r *Request) JSON(body interface{}) *Request {
	r.body = body
	return r
}

func (r *Request) Query(key, value string) *Request {
	r.query.Add(key, value)
	return r
}

func (r *Request) Header(key, value string) *Request {
	r.headers.Set(key, value)
	return r
}

// Do serves the request through h
func (r *Request) Do(t testing.TB, h http.Handler) *Response {
	t.Helper()
	target := r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body bytes.Buffer
	if r.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(r.body))
	}
	req := httptest.NewRequest(r.method, target, &body)
	for k, vs := range r.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return &Response{t: t, Recorder: w}
}

// Envelope is the JSON body every API response shares
type Envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Response wraps the recorded response
type Response struct {
	t        testing.TB
	Recorder *httptest.ResponseRecorder
}

func (r *Response) Status() int              { return r.Recorder.Code }
func (r *Response) Body() string             { return r.Recorder.Body.String() }
func (r *Response) Header(key string) string { return r.Recorder.Header().Get(key) }

// Envelope decodes the body, failing the test on non-JSON responses
func (r *Response) Envelope() Envelope {
	r.t.Helper()
	require.True(r.t, strings.HasPrefix(r.Header("Content-Type"), "application/json"), "content type %q", r.Header("Content-Type"))
	var env Envelope
	require.NoError(r.t, json.Unmarshal(r.Recorder.Body.Bytes(), &env))
	return env
}

// Data decodes the envelope data as an object
func (r *Response) Data() map[string]interface{} {
	r.t.Helper()
	var out map[string]interface{}
	require.NoError(r.t, json.Unmarshal(r.Envelope().Data, &out))
	return out
}

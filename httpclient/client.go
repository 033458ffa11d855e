// Package httpclient is a small JSON-over-HTTP client with optional retries.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/KOMKZ/go-yogan-meter/retry"
)

// maxBody caps how much of a response body is kept
const maxBody = 1 << 20

// Client sends requests with shared defaults
type Client struct {
	httpClient *http.Client
	config     *config
}

// NewClient creates a client
func NewClient(opts ...Option) *Client {
	cfg := newConfig()
	applyOptions(cfg, opts)

	transport := cfg.transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &Client{
		httpClient: &http.Client{Transport: transport},
		config:     cfg,
	}
}

// Get sends a GET request
func (c *Client) Get(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, opts...)
}

// PostJSON marshals body and POSTs it
func (c *Client) PostJSON(ctx context.Context, url string, body interface{}, opts ...Option) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	opts = append([]Option{WithHeader("Content-Type", "application/json")}, opts...)
	return c.Do(ctx, http.MethodPost, url, data, opts...)
}

// Do sends a request. Non-2xx responses are returned together with a
// *StatusError. With retries enabled, 5xx, 429 and transport errors are
// retried and 4xx is returned at once.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, opts ...Option) (*Response, error) {
	cfg := c.config.clone()
	applyOptions(cfg, opts)

	start := time.Now()
	attempts := 0
	var resp *Response

	attempt := func(ctx context.Context) error {
		attempts++
		r, err := c.once(ctx, cfg, method, url, body)
		if err != nil {
			return err
		}
		resp = r
		if r.IsSuccess() {
			return nil
		}
		statusErr := &StatusError{Method: method, URL: url, StatusCode: r.StatusCode}
		if r.IsServerError() || r.StatusCode == http.StatusTooManyRequests {
			return statusErr
		}
		return retry.Permanent(statusErr)
	}

	var err error
	if cfg.retryEnabled {
		err = retry.Do(ctx, attempt, cfg.retryOpts...)
	} else {
		err = attempt(ctx)
	}

	if resp != nil {
		resp.Duration = time.Since(start)
		resp.Attempts = attempts
	}
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return resp, statusErr
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) once(ctx context.Context, cfg *config, method, url string, body []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	for k, v := range cfg.headers {
		req.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Headers:    httpResp.Header,
		Body:       data,
	}, nil
}

package httpclient

import (
	"net/http"
	"time"

	"github.com/KOMKZ/go-yogan-meter/retry"
)

type config struct {
	timeout      time.Duration
	transport    http.RoundTripper
	headers      map[string]string
	retryOpts    []retry.Option
	retryEnabled bool
}

// Option configures a Client or a single request
type Option func(*config)

// WithTimeout sets the per-attempt timeout
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHeader adds a header to every request
func WithHeader(key, value string) Option {
	return func(c *config) {
		c.headers[key] = value
	}
}

// WithTransport replaces the round tripper (tests use httptest servers instead)
func WithTransport(rt http.RoundTripper) Option {
	return func(c *config) {
		c.transport = rt
	}
}

// WithRetry retries 5xx, 429 and transport errors
func WithRetry(opts ...retry.Option) Option {
	return func(c *config) {
		c.retryEnabled = true
		c.retryOpts = opts
	}
}

// DisableRetry turns retries off for one request
func DisableRetry() Option {
	return func(c *config) {
		c.retryEnabled = false
		c.retryOpts = nil
	}
}

func newConfig() *config {
	return &config{
		timeout: 10 * time.Second,
		headers: make(map[string]string),
	}
}

func applyOptions(cfg *config, opts []Option) {
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
}

func (c *config) clone() *config {
	out := *c
	out.headers = make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		out.headers[k] = v
	}
	return &out
}

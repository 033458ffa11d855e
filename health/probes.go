package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/KOMKZ/go-yogan-meter/counter"
	"github.com/KOMKZ/go-yogan-meter/httpclient"
	"github.com/google/uuid"
)

func isDegraded(err error) bool {
	return errors.Is(err, ErrDegraded)
}

// Latency wraps a checker and downgrades slow successes to a warning
type Latency struct {
	Checker
	WarnAfter time.Duration
}

// WithLatencyWarning wraps c with a latency threshold
func WithLatencyWarning(c Checker, warnAfter time.Duration) Checker {
	if warnAfter <= 0 {
		return c
	}
	return Latency{Checker: c, WarnAfter: warnAfter}
}

func (l Latency) Check(ctx context.Context) error {
	start := time.Now()
	if err := l.Checker.Check(ctx); err != nil {
		return err
	}
	if d := time.Since(start); d > l.WarnAfter {
		return Degraded(fmt.Sprintf("slow response: %s exceeds %s", d.Round(time.Millisecond), l.WarnAfter))
	}
	return nil
}

// HTTPProbe GETs a URL and expects a 2xx status. Used for downstream
// gateways and for the API self-check.
type HTTPProbe struct {
	name   string
	url    string
	client *httpclient.Client
}

// NewHTTPProbe creates a probe. A nil client gets a default one.
func NewHTTPProbe(name, url string, client *httpclient.Client) *HTTPProbe {
	if client == nil {
		client = httpclient.NewClient()
	}
	return &HTTPProbe{name: name, url: url, client: client}
}

func (p *HTTPProbe) Name() string { return p.name }

func (p *HTTPProbe) Check(ctx context.Context) error {
	_, err := p.client.Get(ctx, p.url, httpclient.DisableRetry())
	var statusErr *httpclient.StatusError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests:
		return Degraded("GET " + p.url + " returned " + strconv.Itoa(statusErr.StatusCode))
	default:
		return err
	}
}

// StoreProbe writes and reads back a marker through the counter store
type StoreProbe struct {
	store counter.Store
}

// NewStoreProbe creates the counter store round-trip probe
func NewStoreProbe(store counter.Store) *StoreProbe {
	return &StoreProbe{store: store}
}

func (p *StoreProbe) Name() string { return "counter_store" }

func (p *StoreProbe) Check(ctx context.Context) error {
	key := "health:probe:" + uuid.NewString()
	want := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if err := p.store.PutBlob(ctx, key, want, 30*time.Second); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	got, ok, err := p.store.GetBlob(ctx, key)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if !ok || string(got) != string(want) {
		return fmt.Errorf("round trip mismatch")
	}
	return nil
}

// PingProbe reports the error of a ping function. Used for the named
// redis and database instances.
type PingProbe struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingProbe creates a probe around ping
func NewPingProbe(name string, ping func(ctx context.Context) error) *PingProbe {
	return &PingProbe{name: name, ping: ping}
}

func (p *PingProbe) Name() string { return p.name }

func (p *PingProbe) Check(ctx context.Context) error {
	if err := p.ping(ctx); err != nil {
		return fmt.Errorf("%s ping: %w", p.name, err)
	}
	return nil
}

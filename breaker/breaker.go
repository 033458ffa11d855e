// Package breaker is a consecutive-failure circuit breaker.
//
// Closed passes every call. Threshold consecutive failures open the
// breaker; while open, calls fail with ErrOpen without running. After
// OpenTimeout the breaker is half-open and admits HalfOpenRequests trial
// calls: that many successes close it, one failure reopens it.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KOMKZ/go-yogan-meter/logger"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrOpen is returned for calls rejected by an open breaker
var ErrOpen = errors.New("circuit breaker is open")

// State of a breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config of one breaker
type Config struct {
	Enabled          bool          `mapstructure:"enabled"`
	Threshold        int           `mapstructure:"threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	HalfOpenRequests int           `mapstructure:"half_open_requests"`
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 10 * time.Second
	}
	if c.HalfOpenRequests <= 0 {
		c.HalfOpenRequests = 1
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Threshold, validation.Min(1)),
		validation.Field(&c.OpenTimeout, validation.Min(time.Millisecond)),
		validation.Field(&c.HalfOpenRequests, validation.Min(1)),
	)
}

// Option configures a Breaker
type Option func(*Breaker)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithRegisterer exports the state as meter_breaker_state{resource}
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(b *Breaker) { b.reg = reg }
}

// WithLogger replaces the "breaker" logger
func WithLogger(l *logger.CtxZapLogger) Option {
	return func(b *Breaker) { b.logger = l }
}

// Breaker guards one resource
type Breaker struct {
	resource string
	cfg      Config
	now      func() time.Time
	logger   *logger.CtxZapLogger
	reg      prometheus.Registerer
	gauge    prometheus.Gauge

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	inFlight  int
	openedAt  time.Time
}

// New creates a closed breaker for resource
func New(resource string, cfg Config, opts ...Option) *Breaker {
	cfg.ApplyDefaults()
	b := &Breaker{
		resource: resource,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.GetLogger("breaker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.reg != nil {
		b.gauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "meter",
			Subsystem:   "breaker",
			Name:        "state",
			Help:        "Circuit breaker state: 0 closed, 1 open, 2 half-open",
			ConstLabels: prometheus.Labels{"resource": resource},
		})
		if err := b.reg.Register(b.gauge); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				b.gauge = are.ExistingCollector.(prometheus.Gauge)
			}
		}
		b.gauge.Set(float64(StateClosed))
	}
	return b
}

// State returns the current state, moving open to half-open once the
// timeout has passed
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()
	return b.state
}

// Do runs fn unless the breaker rejects the call. Context cancellation by
// the caller does not count as a failure.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	b.done(ctx, err)
	return err
}

func (b *Breaker) admit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()

	switch b.state {
	case StateOpen:
		return fmt.Errorf("%s: %w", b.resource, ErrOpen)
	case StateHalfOpen:
		if b.inFlight >= b.cfg.HalfOpenRequests {
			return fmt.Errorf("%s: %w", b.resource, ErrOpen)
		}
		b.inFlight++
	}
	return nil
}

func (b *Breaker) done(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.inFlight > 0 {
		b.inFlight--
	}
	if err != nil && errors.Is(err, context.Canceled) {
		return
	}

	switch b.state {
	case StateClosed:
		if err == nil {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.Threshold {
			b.transitionLocked(ctx, StateOpen, err)
		}
	case StateHalfOpen:
		if err != nil {
			b.transitionLocked(ctx, StateOpen, err)
			return
		}
		b.successes++
		if b.successes >= b.cfg.HalfOpenRequests {
			b.transitionLocked(ctx, StateClosed, nil)
		}
	}
}

func (b *Breaker) expireLocked() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.transitionLocked(context.Background(), StateHalfOpen, nil)
	}
}

func (b *Breaker) transitionLocked(ctx context.Context, to State, cause error) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	b.inFlight = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}
	if b.gauge != nil {
		b.gauge.Set(float64(to))
	}

	fields := []zap.Field{
		zap.String("resource", b.resource),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	if to == StateOpen {
		b.logger.WarnCtx(ctx, "circuit opened", fields...)
		return
	}
	b.logger.InfoCtx(ctx, "circuit state changed", fields...)
}

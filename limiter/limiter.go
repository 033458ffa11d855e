// Package limiter answers whether a request is within its rate right now.
//
// Two limiters are evaluated: an identity-agnostic origin limiter (fixed
// one-minute window, fixed ceiling) and the entity limiter that compares the
// current window counters of a metric with the entity's plan limits. The
// counters themselves are written by the usage meter; the entity limiter only
// reads them.
//
// When the counter store cannot answer within OpTimeout the failure policy
// decides: authenticated low-risk operations fail open (Degraded), all other
// requests fail closed with reason "unavailable".
package limiter

import (
	"context"
	"sort"
	"time"

	"github.com/KOMKZ/go-yogan-meter/counter"
	"github.com/KOMKZ/go-yogan-meter/errcode"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/KOMKZ/go-yogan-meter/plan"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Request identifies the caller of one metered operation
type Request struct {
	EntityID      string
	Origin        string
	Operation     string
	Authenticated bool
}

// Decision is the limiter verdict. Remaining and Limit are -1 when every
// window is unlimited.
type Decision struct {
	Allowed    bool           `json:"allowed"`
	Remaining  int64          `json:"remaining"`
	Limit      int64          `json:"limit"`
	ResetAt    time.Time      `json:"reset_at,omitempty"`
	RetryAfter time.Duration  `json:"retry_after,omitempty"`
	Window     counter.Window `json:"window,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Degraded   bool           `json:"degraded,omitempty"`
}

// Limiter evaluates rate decisions against a counter store
type Limiter struct {
	store      counter.Store
	cfg        Config
	operations map[string]Operation
	now        func() time.Time
	logger     *logger.CtxZapLogger
	metrics    *limiterMetrics
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger
func WithLogger(log *logger.CtxZapLogger) Option {
	return func(l *Limiter) { l.logger = log }
}

// WithRegisterer registers the limiter's Prometheus collectors on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(l *Limiter) { l.metrics = newLimiterMetrics(reg) }
}

// New validates cfg and creates a limiter
func New(store counter.Store, cfg Config, opts ...Option) (*Limiter, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		store:      store,
		cfg:        cfg,
		operations: cfg.resolve(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logger.GetLogger("limiter")
	}
	if l.metrics == nil {
		l.metrics = newLimiterMetrics(prometheus.NewRegistry())
	}
	return l, nil
}

// Operation resolves an operation name. Unknown or empty names fall back to
// the default operation.
func (l *Limiter) Operation(name string) Operation {
	if op, ok := l.operations[name]; ok {
		return op
	}
	return l.operations[DefaultOperation]
}

// Check runs the origin limiter and then the entity limiter
func (l *Limiter) Check(ctx context.Context, req Request, limits map[counter.Window]plan.Limit) Decision {
	if d, denied := l.CheckOrigin(ctx, req); denied {
		return d
	}
	return l.CheckEntity(ctx, req, limits)
}

// CheckOrigin counts the request against its origin and reports whether the
// origin limiter denied it. A request without origin is never denied here.
func (l *Limiter) CheckOrigin(ctx context.Context, req Request) (Decision, bool) {
	if l.cfg.DisableOrigin || req.Origin == "" {
		return Decision{Allowed: true}, false
	}
	now := l.now().UTC()

	opCtx, cancel := context.WithTimeout(ctx, l.cfg.OpTimeout)
	count, err := l.store.IncrBy(opCtx, counter.OriginKey(req.Origin, now), 1, counter.Minute.TTL())
	cancel()
	if err != nil {
		d := l.Unavailable(ctx, req, "origin", err)
		return d, !d.Allowed
	}
	if count <= l.cfg.OriginLimit {
		return Decision{Allowed: true}, false
	}

	reset := counter.Minute.End(now)
	d := Decision{
		Allowed:    false,
		Remaining:  0,
		Limit:      l.cfg.OriginLimit,
		ResetAt:    reset,
		RetryAfter: reset.Sub(now),
		Window:     counter.Minute,
		Reason:     errcode.ReasonRateLimited,
	}
	l.metrics.observe(d)
	return d, true
}

type windowLimit struct {
	window counter.Window
	limit  plan.Limit
}

// CheckEntity compares the entity's current window counters with limits and
// returns the most restrictive window: the first denial in ascending window
// length, else the window with the least remaining (ties go to the shorter).
// Unlimited windows are excluded.
func (l *Limiter) CheckEntity(ctx context.Context, req Request, limits map[counter.Window]plan.Limit) Decision {
	op := l.Operation(req.Operation)
	now := l.now().UTC()

	finite := make([]windowLimit, 0, len(limits))
	for w, lim := range limits {
		if !lim.IsUnlimited() {
			finite = append(finite, windowLimit{window: w, limit: lim})
		}
	}
	if len(finite) == 0 {
		d := Decision{Allowed: true, Remaining: -1, Limit: -1}
		l.metrics.observe(d)
		return d
	}
	sort.Slice(finite, func(i, j int) bool {
		return windowOrder(finite[i].window) < windowOrder(finite[j].window)
	})

	keys := make([]string, len(finite))
	for i, wl := range finite {
		keys[i] = counter.UsageKey(req.EntityID, string(op.Metric), wl.window, now)
	}
	opCtx, cancel := context.WithTimeout(ctx, l.cfg.OpTimeout)
	values, err := l.store.GetMany(opCtx, keys...)
	cancel()
	if err != nil {
		return l.Unavailable(ctx, req, "entity", err)
	}

	var best *Decision
	for i, wl := range finite {
		current := values[i]
		if current < 0 {
			current = 0
		}
		d := Decision{
			Allowed:   wl.limit.Allows(current),
			Remaining: wl.limit.Remaining(current),
			Limit:     wl.limit.Value(),
			ResetAt:   wl.window.End(now),
			Window:    wl.window,
		}
		if !d.Allowed {
			d.Reason = errcode.ReasonRateLimited
			if wl.window == op.Metric.Spec().Canonical {
				d.Reason = errcode.ReasonQuotaExceeded
			}
			if !d.ResetAt.IsZero() {
				d.RetryAfter = d.ResetAt.Sub(now)
			}
			best = &d
			break
		}
		if best == nil || d.Remaining < best.Remaining {
			best = &d
		}
	}
	l.metrics.observe(*best)
	return *best
}

// Unavailable applies the failure policy to a dependency failure at stage
func (l *Limiter) Unavailable(ctx context.Context, req Request, stage string, err error) Decision {
	op := l.Operation(req.Operation)
	fields := []zap.Field{
		zap.String("stage", stage),
		zap.String("entity_id", req.EntityID),
		zap.String("operation", op.Name),
		zap.Bool("authenticated", req.Authenticated),
		zap.Error(err),
	}

	var d Decision
	if FailOpen(req, op) {
		d = Decision{Allowed: true, Remaining: -1, Limit: -1, Degraded: true}
		l.metrics.degraded.WithLabelValues("open").Inc()
		l.logger.WarnCtx(ctx, "counter store unavailable, failing open", fields...)
	} else {
		d = Decision{
			Allowed:    false,
			Remaining:  0,
			Limit:      -1,
			RetryAfter: l.cfg.UnavailableRetryAfter,
			Reason:     errcode.ReasonUnavailable,
			Degraded:   true,
		}
		l.metrics.degraded.WithLabelValues("closed").Inc()
		l.logger.WarnCtx(ctx, "counter store unavailable, failing closed", fields...)
	}
	l.metrics.observe(d)
	return d
}

// FailOpen is the failure policy: only authenticated requests for low-risk
// operations are let through while the counter store is unavailable.
func FailOpen(req Request, op Operation) bool {
	return req.Authenticated && !op.HighRisk
}

func windowOrder(w counter.Window) time.Duration {
	if w == counter.Total {
		return time.Duration(1<<63 - 1)
	}
	return w.Length()
}

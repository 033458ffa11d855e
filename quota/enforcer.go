package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KOMKZ/go-yogan-meter/counter"
	"github.com/KOMKZ/go-yogan-meter/entity"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/KOMKZ/go-yogan-meter/plan"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Result of one enforcement
type Result struct {
	Enforced bool     `json:"enforced"`
	Actions  []string `json:"actions"`
}

// WarningNotifier delivers warning notifications to the entity's operators
type WarningNotifier interface {
	NotifyWarning(ctx context.Context, v Violation) error
}

// SuspensionHook observes suspensions made by the enforcer
type SuspensionHook func(ctx context.Context, entityID, reason string, violations []Violation)

// Enforcer applies the consequences of violations
type Enforcer struct {
	builder   *Builder
	entities  entity.Store
	store     counter.Store
	notifier  WarningNotifier
	onSuspend []SuspensionHook
	group     singleflight.Group
	now       func() time.Time
	logger    *logger.CtxZapLogger
	audit     *logger.CtxZapLogger

	violations *prometheus.CounterVec
	suspended  prometheus.Counter
}

// EnforcerOption configures an Enforcer
type EnforcerOption func(*Enforcer)

// WithNotifier sets the warning notifier
func WithNotifier(n WarningNotifier) EnforcerOption {
	return func(e *Enforcer) { e.notifier = n }
}

// WithSuspensionHook adds a hook run after each suspension
func WithSuspensionHook(h SuspensionHook) EnforcerOption {
	return func(e *Enforcer) { e.onSuspend = append(e.onSuspend, h) }
}

// WithEnforcerClock overrides time.Now
func WithEnforcerClock(now func() time.Time) EnforcerOption {
	return func(e *Enforcer) { e.now = now }
}

// WithEnforcerLoggers sets the operational and audit loggers
func WithEnforcerLoggers(log, audit *logger.CtxZapLogger) EnforcerOption {
	return func(e *Enforcer) {
		e.logger = log
		e.audit = audit
	}
}

// WithEnforcerRegisterer registers the enforcer's Prometheus collectors on reg
func WithEnforcerRegisterer(reg prometheus.Registerer) EnforcerOption {
	return func(e *Enforcer) { e.register(reg) }
}

// NewEnforcer creates an enforcer
func NewEnforcer(builder *Builder, entities entity.Store, store counter.Store, opts ...EnforcerOption) *Enforcer {
	e := &Enforcer{
		builder:  builder,
		entities: entities,
		store:    store,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.GetLogger("quota")
	}
	if e.audit == nil {
		e.audit = logger.GetLogger("audit")
	}
	if e.violations == nil {
		e.register(prometheus.NewRegistry())
	}
	return e
}

func (e *Enforcer) register(reg prometheus.Registerer) {
	f := promauto.With(reg)
	e.violations = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meter",
		Subsystem: "quota",
		Name:      "violations_total",
		Help:      "Quota violations detected by metric and severity",
	}, []string{"metric", "severity"})
	e.suspended = f.NewCounter(prometheus.CounterOpts{
		Namespace: "meter",
		Subsystem: "quota",
		Name:      "suspensions_total",
		Help:      "Entities suspended by the enforcer",
	})
}

// Evaluate builds a fresh snapshot, detects violations and enforces them
func (e *Enforcer) Evaluate(ctx context.Context, entityID string) (*Snapshot, []Violation, *Result, error) {
	snap, err := e.builder.Fresh(ctx, entityID)
	if err != nil {
		return nil, nil, nil, err
	}
	violations := Detect(snap)
	e.rearm(ctx, snap)
	res, err := e.Enforce(ctx, entityID, violations)
	return snap, violations, res, err
}

// rearm clears the warning mark of stock metrics back under the warning
// level, so crossing it again notifies again
func (e *Enforcer) rearm(ctx context.Context, snap *Snapshot) {
	if e.notifier == nil {
		return
	}
	var keys []string
	for _, u := range snap.Usage {
		if u.Window != counter.Total || u.Limit.IsUnlimited() || u.Limit.Utilization(u.Current) >= WarningRatio {
			continue
		}
		keys = append(keys, counter.NotifyKey(snap.EntityID, string(u.Metric), counter.Total, snap.TakenAt))
	}
	if len(keys) == 0 {
		return
	}
	if err := e.store.Delete(ctx, keys...); err != nil {
		e.logger.WarnCtx(ctx, "warning rearm failed", zap.String("entity_id", snap.EntityID), zap.Error(err))
	}
}

// FollowUp matches the usage meter hook signature
func (e *Enforcer) FollowUp(ctx context.Context, entityID string, _ plan.Metric) {
	if _, _, _, err := e.Evaluate(ctx, entityID); err != nil {
		e.logger.WarnCtx(ctx, "violation follow-up failed", zap.String("entity_id", entityID), zap.Error(err))
	}
}

// Enforce suspends on critical violations and notifies on warnings.
// Concurrent calls for one entity and the same highest severity are
// collapsed into one, so a warning-only call never absorbs a critical one.
func (e *Enforcer) Enforce(ctx context.Context, entityID string, violations []Violation) (*Result, error) {
	if len(violations) == 0 {
		return &Result{Actions: []string{}}, nil
	}
	key := entityID + ":" + string(highest(violations))
	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		return e.enforce(ctx, entityID, violations)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (e *Enforcer) enforce(ctx context.Context, entityID string, violations []Violation) (*Result, error) {
	res := &Result{Actions: make([]string, 0, len(violations))}
	var critical []Violation

	for _, v := range violations {
		e.violations.WithLabelValues(string(v.Metric), string(v.Severity)).Inc()
		e.audit.InfoCtx(ctx, "quota violation",
			zap.String("entity_id", entityID),
			zap.String("metric", string(v.Metric)),
			zap.String("window", string(v.Window)),
			zap.String("severity", string(v.Severity)),
			zap.Int64("current", v.Current),
			zap.Int64("limit", v.Limit),
			zap.Float64("percentage", v.Percentage))

		switch v.Severity {
		case Critical:
			critical = append(critical, v)
		case Warning:
			res.Actions = append(res.Actions, e.warn(ctx, v))
		}
	}

	if len(critical) == 0 {
		return res, nil
	}

	current, err := e.entities.GetLimits(ctx, entityID)
	if err != nil {
		return res, fmt.Errorf("load entity %s: %w", entityID, err)
	}
	if current.Status == entity.Suspended {
		res.Actions = append(res.Actions, "already suspended: "+entityID)
		return res, nil
	}

	reason := suspendReason(critical)
	if err := e.entities.Suspend(ctx, entityID, reason); err != nil {
		e.logger.ErrorCtx(ctx, "suspend failed", zap.String("entity_id", entityID), zap.Error(err))
		return res, fmt.Errorf("suspend %s: %w", entityID, err)
	}
	e.builder.Invalidate(entityID)
	e.suspended.Inc()
	res.Enforced = true
	res.Actions = append(res.Actions, "suspended: "+reason)
	e.audit.WarnCtx(ctx, "entity suspended", zap.String("entity_id", entityID), zap.String("reason", reason))

	for _, h := range e.onSuspend {
		h(ctx, entityID, reason, critical)
	}
	return res, nil
}

// warn sends at most one notification per entity, metric and window. The
// mark of a stock metric never expires; rearm clears it.
func (e *Enforcer) warn(ctx context.Context, v Violation) string {
	if e.notifier == nil {
		return "warning recorded: " + string(v.Metric)
	}
	ttl := v.Window.TTL()
	key := counter.NotifyKey(v.EntityID, string(v.Metric), v.Window, e.now())
	first, err := e.store.SetNX(ctx, key, v.String(), ttl)
	if err != nil {
		e.logger.WarnCtx(ctx, "notification dedup failed", zap.String("key", key), zap.Error(err))
		return "notification skipped: " + string(v.Metric)
	}
	if !first {
		return "notification suppressed: " + string(v.Metric)
	}
	if err := e.notifier.NotifyWarning(ctx, v); err != nil {
		e.logger.WarnCtx(ctx, "warning notification failed",
			zap.String("entity_id", v.EntityID),
			zap.String("metric", string(v.Metric)),
			zap.Error(err))
	}
	return "notified: " + string(v.Metric)
}

func highest(violations []Violation) Severity {
	for _, v := range violations {
		if v.Severity == Critical {
			return Critical
		}
	}
	return Warning
}

func suspendReason(critical []Violation) string {
	parts := make([]string, len(critical))
	for i, v := range critical {
		parts[i] = fmt.Sprintf("%s %d/%d per %s", v.Metric, v.Current, v.Limit, v.Window)
	}
	return "quota exceeded: " + strings.Join(parts, ", ")
}

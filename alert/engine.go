package alert

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KOMKZ/go-yogan-meter/counter"
	"github.com/KOMKZ/go-yogan-meter/errcode"
	"github.com/KOMKZ/go-yogan-meter/health"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/KOMKZ/go-yogan-meter/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// AutoResolver is the resolver name stamped by automatic resolution
const AutoResolver = "system:auto-resolve"

// maxResolved bounds the in-memory record of resolved alerts
const maxResolved = 1000

// EvalResult is the outcome of one rule evaluation tick
type EvalResult struct {
	Fired      []Alert           `json:"fired"`
	Suppressed []string          `json:"suppressed"`
	Resolved   []Alert           `json:"resolved,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// RaiseOptions control deduplication and routing of a raised alert
type RaiseOptions struct {
	// DedupKey suppresses further alerts with the same key for Cooldown
	DedupKey string
	Cooldown time.Duration
	// Channels defaults to the engine's default channels
	Channels []string
}

// Engine owns the rule set and the active alert registry
type Engine struct {
	rules          []Rule
	store          counter.Store
	dispatcher     *Dispatcher
	history        History
	channels       []string
	healthCooldown time.Duration
	now            func() time.Time
	logger         *logger.CtxZapLogger

	mu       sync.RWMutex
	active   map[string]*Alert
	resolved map[string]*Alert
	clear    map[string]int

	raised     *prometheus.CounterVec
	suppressed *prometheus.CounterVec
	activeG    prometheus.Gauge
}

// Option configures an Engine
type Option func(*Engine)

// WithHistory sets the durable history
func WithHistory(h History) Option {
	return func(e *Engine) { e.history = h }
}

// WithDefaultChannels sets the channels used by Raise and health alerts
func WithDefaultChannels(channels ...string) Option {
	return func(e *Engine) { e.channels = channels }
}

// WithHealthCooldown sets the per-probe cooldown of health alerts
func WithHealthCooldown(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.healthCooldown = d
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger
func WithLogger(l *logger.CtxZapLogger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRegisterer registers the engine's collectors on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.register(reg) }
}

// NewEngine creates an engine. Rules come from LoadRules.
func NewEngine(rules []Rule, store counter.Store, dispatcher *Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		rules:          rules,
		store:          store,
		dispatcher:     dispatcher,
		channels:       []string{ChannelLog},
		healthCooldown: 5 * time.Minute,
		now:            time.Now,
		active:         make(map[string]*Alert),
		resolved:       make(map[string]*Alert),
		clear:          make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.GetLogger("alert")
	}
	if e.raised == nil {
		e.register(prometheus.NewRegistry())
	}
	return e
}

func (e *Engine) register(reg prometheus.Registerer) {
	f := promauto.With(reg)
	e.raised = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meter",
		Subsystem: "alert",
		Name:      "raised_total",
		Help:      "Alerts raised by category and severity",
	}, []string{"category", "severity"})
	e.suppressed = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meter",
		Subsystem: "alert",
		Name:      "suppressed_total",
		Help:      "Alerts suppressed by an active cooldown",
	}, []string{"source"})
	e.activeG = f.NewGauge(prometheus.GaugeOpts{
		Namespace: "meter",
		Subsystem: "alert",
		Name:      "active",
		Help:      "Alerts awaiting resolution",
	})
}

// Rules returns the loaded rules
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate runs every enabled rule against the sample. A rule whose gauge
// group is missing is skipped; a failing rule never stops the others.
func (e *Engine) Evaluate(ctx context.Context, s *metrics.Sample) *EvalResult {
	res := &EvalResult{Fired: []Alert{}, Suppressed: []string{}}
	if s == nil {
		return res
	}

	for _, r := range e.rules {
		if !r.Enabled {
			continue
		}
		value, triggered, ok := r.Evaluate(s)
		if !ok {
			continue
		}
		if !triggered {
			res.Resolved = append(res.Resolved, e.tickClear(ctx, r)...)
			continue
		}
		e.mu.Lock()
		delete(e.clear, r.ID)
		e.mu.Unlock()

		a := Alert{
			RuleID:   r.ID,
			Category: r.Category,
			Severity: r.Severity,
			Title:    r.Name,
			Message:  r.message(value),
			Source:   "rule:" + r.ID,
			Context: map[string]interface{}{
				"condition": string(r.Condition),
				"value":     value,
				"threshold": r.Threshold,
			},
		}
		raised, ok, err := e.Raise(ctx, a, RaiseOptions{
			DedupKey: counter.CooldownKey(r.ID),
			Cooldown: r.Cooldown,
			Channels: r.Channels,
		})
		switch {
		case err != nil:
			if res.Errors == nil {
				res.Errors = make(map[string]string)
			}
			res.Errors[r.ID] = err.Error()
		case !ok:
			res.Suppressed = append(res.Suppressed, r.ID)
		default:
			res.Fired = append(res.Fired, raised)
		}
	}
	return res
}

// tickClear counts consecutive clear ticks and resolves the rule's alerts
// once the rule's auto-resolve threshold is reached
func (e *Engine) tickClear(ctx context.Context, r Rule) []Alert {
	if r.AutoResolveTicks <= 0 {
		return nil
	}
	e.mu.Lock()
	e.clear[r.ID]++
	if e.clear[r.ID] < r.AutoResolveTicks {
		e.mu.Unlock()
		return nil
	}
	delete(e.clear, r.ID)
	var ids []string
	for id, a := range e.active {
		if a.RuleID == r.ID {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	var out []Alert
	for _, id := range ids {
		a, err := e.Resolve(ctx, id, AutoResolver)
		if err != nil {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// Raise registers an alert and dispatches it. With a dedup key only the
// first caller within the cooldown raises; the others get ok=false. A
// failing cooldown store suppresses the alert and returns the error.
func (e *Engine) Raise(ctx context.Context, a Alert, opts RaiseOptions) (Alert, bool, error) {
	source := a.Source
	if source == "" {
		source = "unknown"
	}
	if opts.DedupKey != "" && opts.Cooldown > 0 {
		first, err := e.store.SetNX(ctx, opts.DedupKey, source, opts.Cooldown)
		if err != nil {
			e.logger.WarnCtx(ctx, "alert cooldown check failed", zap.String("key", opts.DedupKey), zap.Error(err))
			return Alert{}, false, fmt.Errorf("cooldown %s: %w", opts.DedupKey, err)
		}
		if !first {
			e.suppressed.WithLabelValues(source).Inc()
			return Alert{}, false, nil
		}
	}

	e.stamp(&a)
	stored := a.clone()
	e.mu.Lock()
	e.active[a.ID] = &stored
	e.activeG.Set(float64(len(e.active)))
	e.mu.Unlock()

	e.raised.WithLabelValues(string(a.Category), string(a.Severity)).Inc()
	e.logger.InfoCtx(ctx, "alert raised",
		zap.String("alert_id", a.ID),
		zap.String("source", a.Source),
		zap.String("severity", string(a.Severity)))
	e.appendHistory(ctx, EventCreated, &a, a.CreatedAt)

	channels := opts.Channels
	if len(channels) == 0 {
		channels = e.channels
	}
	if e.dispatcher != nil {
		e.dispatcher.Dispatch(ctx, a, channels)
	}
	return a, true, nil
}

// Notify dispatches an alert without registering it. Used for per-entity
// warnings that need no resolution.
func (e *Engine) Notify(ctx context.Context, a Alert, channels ...string) Alert {
	e.stamp(&a)
	if len(channels) == 0 {
		channels = e.channels
	}
	if e.dispatcher != nil {
		e.dispatcher.Dispatch(ctx, a, channels)
	}
	return a
}

func (e *Engine) stamp(a *Alert) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = e.now().UTC()
	}
	if a.Severity == "" {
		a.Severity = SeverityInfo
	}
	if a.Category == "" {
		a.Category = CategorySystem
	}
}

// Resolve marks an active alert resolved
func (e *Engine) Resolve(ctx context.Context, id, resolvedBy string) (*Alert, error) {
	if resolvedBy == "" {
		return nil, errcode.ErrInvalidRequest.WithMsgf("resolved_by is required")
	}
	now := e.now().UTC()

	e.mu.Lock()
	a, ok := e.active[id]
	if !ok {
		_, done := e.resolved[id]
		e.mu.Unlock()
		if done {
			return nil, errcode.ErrAlertAlreadyResolved.WithData("alert_id", id)
		}
		return nil, errcode.ErrAlertNotFound.WithData("alert_id", id)
	}
	delete(e.active, id)
	a.ResolvedBy = resolvedBy
	a.ResolvedAt = &now
	e.resolved[id] = a
	e.pruneResolvedLocked()
	e.activeG.Set(float64(len(e.active)))
	out := a.clone()
	e.mu.Unlock()

	e.logger.InfoCtx(ctx, "alert resolved", zap.String("alert_id", id), zap.String("resolved_by", resolvedBy))
	e.appendHistory(ctx, EventResolved, &out, now)
	return &out, nil
}

func (e *Engine) pruneResolvedLocked() {
	if len(e.resolved) <= maxResolved {
		return
	}
	var oldestID string
	var oldest time.Time
	for id, a := range e.resolved {
		if oldestID == "" || a.ResolvedAt.Before(oldest) {
			oldestID, oldest = id, *a.ResolvedAt
		}
	}
	delete(e.resolved, oldestID)
}

// Get returns an active or recently resolved alert
func (e *Engine) Get(id string) (*Alert, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if a, ok := e.active[id]; ok {
		out := a.clone()
		return &out, nil
	}
	if a, ok := e.resolved[id]; ok {
		out := a.clone()
		return &out, nil
	}
	return nil, errcode.ErrAlertNotFound.WithData("alert_id", id)
}

// ListActive returns matching active alerts, most severe first, then newest
func (e *Engine) ListActive(f Filter) []Alert {
	e.mu.RLock()
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		if f.match(a) {
			out = append(out, a.clone())
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if ri, rj := out[i].Severity.rank(), out[j].Severity.rank(); ri != rj {
			return ri > rj
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OnHealthReport raises a critical system alert for each critical probe.
// Each probe is deduplicated by its own cooldown.
func (e *Engine) OnHealthReport(ctx context.Context, r *health.Report) {
	if r == nil {
		return
	}
	for name, res := range r.Checks {
		if res.Status != health.StatusCritical {
			continue
		}
		a := Alert{
			Category: CategorySystem,
			Severity: SeverityCritical,
			Title:    "Health probe critical: " + name,
			Message:  res.Message,
			Source:   "health:" + name,
			Context: map[string]interface{}{
				"probe":   name,
				"latency": res.Latency.String(),
			},
		}
		if _, _, err := e.Raise(ctx, a, RaiseOptions{
			DedupKey: counter.CooldownKey("health:" + name),
			Cooldown: e.healthCooldown,
		}); err != nil {
			e.logger.WarnCtx(ctx, "health alert failed", zap.String("probe", name), zap.Error(err))
		}
	}
}

func (e *Engine) appendHistory(ctx context.Context, kind string, a *Alert, at time.Time) {
	if e.history == nil {
		return
	}
	if err := e.history.Append(ctx, newEventRecord(kind, a, at)); err != nil {
		e.logger.ErrorCtx(ctx, "alert history write failed",
			zap.String("alert_id", a.ID),
			zap.String("kind", kind),
			zap.Error(err))
	}
}

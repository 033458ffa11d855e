// Package quota builds point-in-time usage snapshots of an entity against
// its plan, classifies them into violations and enforces the outcome.
package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KOMKZ/go-yogan-meter/counter"
	"github.com/KOMKZ/go-yogan-meter/entity"
	"github.com/KOMKZ/go-yogan-meter/errcode"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/KOMKZ/go-yogan-meter/plan"
	"go.uber.org/zap"
)

// MetricUsage is one metric at its canonical window
type MetricUsage struct {
	Metric      plan.Metric    `json:"metric"`
	Window      counter.Window `json:"window"`
	Current     int64          `json:"current"`
	Limit       plan.Limit     `json:"limit"`
	Utilization float64        `json:"utilization"`
	Remaining   int64          `json:"remaining"`
	ResetAt     time.Time      `json:"reset_at,omitempty"`
}

// Snapshot is an entity's usage normalized against its effective limits
type Snapshot struct {
	EntityID string        `json:"entity_id"`
	Tier     plan.Tier     `json:"tier"`
	Status   entity.Status `json:"status"`
	Usage    []MetricUsage `json:"usage"`
	TakenAt  time.Time     `json:"taken_at"`
}

// Metric returns the entry of metric m
func (s *Snapshot) Metric(m plan.Metric) (MetricUsage, bool) {
	for _, u := range s.Usage {
		if u.Metric == m {
			return u, true
		}
	}
	return MetricUsage{}, false
}

// Resolved is an entity with its effective limits
type Resolved struct {
	Entity *entity.Limits
	Limits plan.Limits
}

// Builder assembles snapshots
type Builder struct {
	entities  entity.Store
	catalog   *plan.Catalog
	store     counter.Store
	cacheTTL  time.Duration
	opTimeout time.Duration
	now       func() time.Time
	logger    *logger.CtxZapLogger

	mu        sync.Mutex
	snapshots map[string]cached[*Snapshot]
	resolved  map[string]cached[*Resolved]
}

const maxCachedEntities = 10000

type cached[T any] struct {
	value     T
	expiresAt time.Time
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithCacheTTL sets how long snapshots and resolved limits are reused. Zero disables caching.
func WithCacheTTL(d time.Duration) BuilderOption {
	return func(b *Builder) { b.cacheTTL = d }
}

// WithOpTimeout bounds the counter read
func WithOpTimeout(d time.Duration) BuilderOption {
	return func(b *Builder) { b.opTimeout = d }
}

// WithBuilderClock overrides time.Now
func WithBuilderClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// WithBuilderLogger sets the logger
func WithBuilderLogger(l *logger.CtxZapLogger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a snapshot builder
func NewBuilder(entities entity.Store, catalog *plan.Catalog, store counter.Store, opts ...BuilderOption) *Builder {
	b := &Builder{
		entities:  entities,
		catalog:   catalog,
		store:     store,
		cacheTTL:  2 * time.Second,
		opTimeout: 50 * time.Millisecond,
		now:       time.Now,
		snapshots: make(map[string]cached[*Snapshot]),
		resolved:  make(map[string]cached[*Resolved]),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.GetLogger("quota")
	}
	return b
}

// Resolve loads the entity and applies its overrides to the plan of its tier
func (b *Builder) Resolve(ctx context.Context, entityID string) (*Resolved, error) {
	now := b.now()
	b.mu.Lock()
	if c, ok := b.resolved[entityID]; ok && now.Before(c.expiresAt) {
		b.mu.Unlock()
		return c.value, nil
	}
	b.mu.Unlock()

	e, err := b.entities.GetLimits(ctx, entityID)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, errcode.ErrEntityNotFound.WithData("entity_id", entityID)
	}
	if err != nil {
		return nil, errcode.ErrUnavailable.Wrap(err)
	}
	limits, err := b.catalog.Resolve(e.Tier, e.Overrides)
	if err != nil {
		return nil, errcode.ErrInternal.Wrap(err)
	}
	r := &Resolved{Entity: e, Limits: limits}
	if b.cacheTTL > 0 {
		b.mu.Lock()
		b.resolved[entityID] = cached[*Resolved]{value: r, expiresAt: now.Add(b.cacheTTL)}
		b.mu.Unlock()
	}
	return r, nil
}

// Snapshot returns the cached snapshot or builds a new one
func (b *Builder) Snapshot(ctx context.Context, entityID string) (*Snapshot, error) {
	b.mu.Lock()
	if c, ok := b.snapshots[entityID]; ok && b.now().Before(c.expiresAt) {
		b.mu.Unlock()
		return c.value, nil
	}
	b.mu.Unlock()
	return b.Fresh(ctx, entityID)
}

// Fresh always reads the counters and refreshes the cache
func (b *Builder) Fresh(ctx context.Context, entityID string) (*Snapshot, error) {
	b.Invalidate(entityID)
	r, err := b.Resolve(ctx, entityID)
	if err != nil {
		return nil, err
	}

	now := b.now().UTC()
	metrics := plan.AllMetrics()
	keys := make([]string, len(metrics))
	for i, m := range metrics {
		keys[i] = counter.UsageKey(entityID, string(m), m.Spec().Canonical, now)
	}
	opCtx, cancel := context.WithTimeout(ctx, b.opTimeout)
	values, err := b.store.GetMany(opCtx, keys...)
	cancel()
	if err != nil {
		b.logger.WarnCtx(ctx, "snapshot counter read failed", zap.String("entity_id", entityID), zap.Error(err))
		return nil, errcode.ErrUnavailable.Wrap(err)
	}

	s := &Snapshot{
		EntityID: entityID,
		Tier:     r.Entity.Tier,
		Status:   r.Entity.Status,
		Usage:    make([]MetricUsage, len(metrics)),
		TakenAt:  now,
	}
	for i, m := range metrics {
		w := m.Spec().Canonical
		limit, ok := r.Limits.Get(m, w)
		if !ok {
			limit = plan.Unlimited()
		}
		current := values[i]
		if current < 0 {
			current = 0
		}
		s.Usage[i] = MetricUsage{
			Metric:      m,
			Window:      w,
			Current:     current,
			Limit:       limit,
			Utilization: limit.Utilization(current),
			Remaining:   limit.Remaining(current),
			ResetAt:     w.End(now),
		}
	}

	if b.cacheTTL > 0 {
		b.mu.Lock()
		b.snapshots[entityID] = cached[*Snapshot]{value: s, expiresAt: b.now().Add(b.cacheTTL)}
		if len(b.snapshots) > maxCachedEntities {
			b.pruneLocked(b.now())
		}
		b.mu.Unlock()
	}
	return s, nil
}

// Invalidate drops the cached state of an entity
func (b *Builder) Invalidate(entityID string) {
	b.mu.Lock()
	delete(b.snapshots, entityID)
	delete(b.resolved, entityID)
	b.mu.Unlock()
}

func (b *Builder) pruneLocked(now time.Time) {
	for id, c := range b.snapshots {
		if !now.Before(c.expiresAt) {
			delete(b.snapshots, id)
		}
	}
	for id, c := range b.resolved {
		if !now.Before(c.expiresAt) {
			delete(b.resolved, id)
		}
	}
}

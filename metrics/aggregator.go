package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KOMKZ/go-yogan-meter/counter"
	"github.com/KOMKZ/go-yogan-meter/errcode"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	GroupSystem      = "system"
	GroupApplication = "application"
	GroupDatastore   = "datastore"
	GroupBusiness    = "business"
)

// Config of the aggregator
type Config struct {
	Interval         time.Duration `mapstructure:"interval"`
	CollectorTimeout time.Duration `mapstructure:"collector_timeout"`
	MinuteRetention  time.Duration `mapstructure:"minute_retention"`
	HourRetention    time.Duration `mapstructure:"hour_retention"`
	MaxHistoryPoints int           `mapstructure:"max_history_points"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.CollectorTimeout <= 0 {
		c.CollectorTimeout = 5 * time.Second
	}
	if c.MinuteRetention <= 0 {
		c.MinuteRetention = time.Hour
	}
	if c.HourRetention <= 0 {
		c.HourRetention = 7 * 24 * time.Hour
	}
	if c.MaxHistoryPoints <= 0 {
		c.MaxHistoryPoints = 1440
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = time.Second
	}
}

// Aggregator collects samples and serves their history
type Aggregator struct {
	store      counter.Store
	collectors Collectors
	cfg        Config
	now        func() time.Time
	logger     *logger.CtxZapLogger

	mu     sync.RWMutex
	latest *Sample
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithLogger sets the logger
func WithLogger(l *logger.CtxZapLogger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// NewAggregator creates an aggregator writing into store
func NewAggregator(store counter.Store, collectors Collectors, cfg Config, opts ...Option) *Aggregator {
	cfg.ApplyDefaults()
	a := &Aggregator{store: store, collectors: collectors, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logger.GetLogger("metrics")
	}
	return a
}

// Collect runs every collector concurrently under its own timeout and
// stores the combined sample. Collector failures are kept in the sample;
// only a storage failure is returned.
func (a *Aggregator) Collect(ctx context.Context) (*Sample, error) {
	sample := &Sample{Timestamp: a.now().UTC()}
	var mu sync.Mutex
	fail := func(group string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if sample.Errors == nil {
			sample.Errors = make(map[string]string)
		}
		sample.Errors[group] = err.Error()
		a.logger.WarnCtx(ctx, "collector failed", zap.String("group", group), zap.Error(err))
	}

	var g errgroup.Group
	if c := a.collectors.System; c != nil {
		g.Go(func() error {
			v, err := collect(ctx, a.cfg.CollectorTimeout, c.CollectSystem)
			if err != nil {
				fail(GroupSystem, err)
				return nil
			}
			mu.Lock()
			sample.System = v
			mu.Unlock()
			return nil
		})
	}
	if c := a.collectors.Application; c != nil {
		g.Go(func() error {
			v, err := collect(ctx, a.cfg.CollectorTimeout, c.CollectApplication)
			if err != nil {
				fail(GroupApplication, err)
				return nil
			}
			mu.Lock()
			sample.Application = v
			mu.Unlock()
			return nil
		})
	}
	if c := a.collectors.Datastore; c != nil {
		g.Go(func() error {
			v, err := collect(ctx, a.cfg.CollectorTimeout, c.CollectDatastore)
			if err != nil {
				fail(GroupDatastore, err)
				return nil
			}
			mu.Lock()
			sample.Datastore = v
			mu.Unlock()
			return nil
		})
	}
	if c := a.collectors.Business; c != nil {
		g.Go(func() error {
			v, err := collect(ctx, a.cfg.CollectorTimeout, c.CollectBusiness)
			if err != nil {
				fail(GroupBusiness, err)
				return nil
			}
			mu.Lock()
			sample.Business = v
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	a.mu.Lock()
	a.latest = sample
	a.mu.Unlock()

	if err := a.write(ctx, sample); err != nil {
		a.logger.ErrorCtx(ctx, "metrics sample write failed", zap.Error(err))
		return sample, err
	}
	return sample, nil
}

// collect runs fn in its own goroutine so a collector that ignores
// cancellation cannot hold the tick past timeout
func collect[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				ch <- result{zero, fmt.Errorf("collector panicked: %v", r)}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("collector timed out after %s: %w", timeout, ctx.Err())
	}
}

func (a *Aggregator) write(ctx context.Context, s *Sample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.WriteTimeout)
	defer cancel()
	return errors.Join(
		a.store.PutBlob(ctx, counter.MetricsKey(counter.Minute, s.Timestamp), data, a.cfg.MinuteRetention),
		a.store.PutBlob(ctx, counter.MetricsKey(counter.Hour, s.Timestamp), data, a.cfg.HourRetention),
	)
}

// Latest returns the last collected sample, nil before the first tick
func (a *Aggregator) Latest() *Sample {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// History reads the stored samples of granularity between start and end,
// both inclusive. Missing buckets are omitted.
func (a *Aggregator) History(ctx context.Context, start, end time.Time, granularity counter.Window) ([]Point, error) {
	if granularity != counter.Minute && granularity != counter.Hour {
		return nil, errcode.ErrInvalidRange.WithMsgf("granularity must be minute or hour, got %q", granularity)
	}
	if end.Before(start) {
		return nil, errcode.ErrInvalidRange.WithMsgf("end is before start")
	}
	from := granularity.Start(start)
	to := granularity.Start(end)
	n := int(to.Sub(from)/granularity.Length()) + 1
	if n > a.cfg.MaxHistoryPoints {
		return nil, errcode.ErrInvalidRange.WithMsgf("range spans %d %s buckets, at most %d allowed", n, granularity, a.cfg.MaxHistoryPoints)
	}

	points := make([]Point, 0, n)
	for t := from; !t.After(to); t = t.Add(granularity.Length()) {
		data, ok, err := a.store.GetBlob(ctx, counter.MetricsKey(granularity, t))
		if err != nil {
			return nil, errcode.ErrUnavailable.Wrap(err)
		}
		if !ok {
			continue
		}
		var s Sample
		if err := json.Unmarshal(data, &s); err != nil {
			a.logger.WarnCtx(ctx, "skipping undecodable sample", zap.Time("bucket", t), zap.Error(err))
			continue
		}
		points = append(points, Point{Timestamp: t, Sample: &s})
	}
	return points, nil
}

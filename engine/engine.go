// Package engine assembles the metering, limiting, enforcement, monitoring
// and alerting components into one runnable unit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/KOMKZ/go-yogan-meter/alert"
	"github.com/KOMKZ/go-yogan-meter/breaker"
	"github.com/KOMKZ/go-yogan-meter/counter"
	"github.com/KOMKZ/go-yogan-meter/database"
	"github.com/KOMKZ/go-yogan-meter/entity"
	"github.com/KOMKZ/go-yogan-meter/health"
	"github.com/KOMKZ/go-yogan-meter/httpclient"
	"github.com/KOMKZ/go-yogan-meter/kafka"
	"github.com/KOMKZ/go-yogan-meter/limiter"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/KOMKZ/go-yogan-meter/metrics"
	"github.com/KOMKZ/go-yogan-meter/plan"
	"github.com/KOMKZ/go-yogan-meter/quota"
	"github.com/KOMKZ/go-yogan-meter/redis"
	"github.com/KOMKZ/go-yogan-meter/retry"
	"github.com/KOMKZ/go-yogan-meter/scheduler"
	"github.com/KOMKZ/go-yogan-meter/usage"
	"github.com/KOMKZ/go-yogan-meter/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Loop names registered with the scheduler
const (
	JobMetrics = "metrics"
	JobAlerts  = "alerts"
	JobHealth  = "health"
)

// Engine owns every component and the background loops
type Engine struct {
	cfg      Config
	logger   *logger.CtxZapLogger
	registry *prometheus.Registry

	redis     *redis.Manager
	db        *database.Manager
	store     counter.Store
	entities  entity.Store
	catalog   *plan.Catalog
	pool      *worker.Pool
	publisher *kafka.Publisher
	scheduler *scheduler.Scheduler
	seeds     []entity.Limits
	migrators []func(ctx context.Context) error

	Meter    *usage.Meter
	Limiter  *limiter.Limiter
	Quota    *quota.Builder
	Enforcer *quota.Enforcer
	Requests *metrics.RequestStats
	Metrics  *metrics.Aggregator
	Health   *health.Orchestrator
	Alerts   *alert.Engine
}

type options struct {
	store     counter.Store
	entities  entity.Store
	registry  *prometheus.Registry
	publisher *kafka.Publisher
	now       func() time.Time
}

// Option configures New
type Option func(*options)

// WithCounterStore replaces the configured counter store
func WithCounterStore(s counter.Store) Option {
	return func(o *options) { o.store = s }
}

// WithEntityStore replaces the configured entity store
func WithEntityStore(s entity.Store) Option {
	return func(o *options) { o.entities = s }
}

// WithRegistry sets the Prometheus registry
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithKafkaPublisher replaces the publisher built from alert.kafka
func WithKafkaPublisher(p *kafka.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithClock overrides time.Now in every component
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds the engine. Nothing runs until Start.
func New(cfg Config, opts ...Option) (*Engine, error) {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, logger: logger.GetLogger("engine"), registry: o.registry}
	if e.registry == nil {
		e.registry = prometheus.NewRegistry()
		e.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	if err := e.build(cfg, o); err != nil {
		_ = e.closeResources()
		return nil, err
	}
	return e, nil
}

func (e *Engine) build(cfg Config, o *options) error {
	var err error

	if len(cfg.Redis) > 0 {
		if e.redis, err = redis.NewManager(cfg.Redis, logger.GetLogger("redis")); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if len(cfg.Database) > 0 {
		if e.db, err = database.NewManager(cfg.Database, logger.GetLogger("database")); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	var db *gorm.DB
	if e.db != nil && cfg.Storage.Database != "" {
		db = e.db.DB(cfg.Storage.Database)
	}

	e.store = o.store
	if e.store == nil {
		switch cfg.Counter.Type {
		case counter.StoreTypeMemory:
			e.store = counter.NewMemoryStore(counter.WithClock(o.now))
		case counter.StoreTypeRedis:
			e.store = counter.NewRedisStore(e.redis.Client(cfg.Counter.RedisInstance), cfg.Counter.KeyPrefix)
		}
	}
	if cfg.Counter.Breaker.Enabled {
		e.store = counter.NewGuardedStore(e.store, breaker.New("counter_store", cfg.Counter.Breaker,
			breaker.WithClock(o.now), breaker.WithRegisterer(e.registry)))
	}

	e.entities = o.entities
	if e.entities == nil {
		if db != nil {
			gs := entity.NewGormStore(db)
			e.entities = gs
			e.migrators = append(e.migrators, gs.Migrate)
		} else {
			e.entities = entity.NewMemoryStore()
		}
	}
	if e.catalog, err = cfg.Catalog(); err != nil {
		return err
	}
	if e.seeds, err = cfg.Seeds(); err != nil {
		return err
	}

	if e.pool, err = worker.NewPool(cfg.Worker, logger.GetLogger("worker")); err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	if err := e.buildAlerts(cfg, o, db); err != nil {
		return err
	}

	e.Quota = quota.NewBuilder(e.entities, e.catalog, e.store,
		quota.WithCacheTTL(max(cfg.Quota.CacheTTL, 0)),
		quota.WithOpTimeout(cfg.Quota.OpTimeout),
		quota.WithBuilderClock(o.now),
	)
	e.Enforcer = quota.NewEnforcer(e.Quota, e.entities, e.store,
		quota.WithNotifier(warningAlerts{alerts: e.Alerts}),
		quota.WithSuspensionHook(suspensionAlerts(e.Alerts)),
		quota.WithEnforcerClock(o.now),
		quota.WithEnforcerRegisterer(e.registry),
	)

	meterOpts := []usage.Option{
		usage.WithPool(e.pool),
		usage.WithFollowUp(e.Enforcer.FollowUp),
		usage.WithOpTimeout(cfg.Usage.OpTimeout),
		usage.WithClock(o.now),
		usage.WithRegisterer(e.registry),
	}
	if db != nil {
		ul := usage.NewGormLog(db)
		meterOpts = append(meterOpts, usage.WithLog(ul))
		e.migrators = append(e.migrators, ul.Migrate)
	}
	e.Meter = usage.NewMeter(e.store, meterOpts...)

	if e.Limiter, err = limiter.New(e.store, cfg.Limiter,
		limiter.WithClock(o.now),
		limiter.WithRegisterer(e.registry),
	); err != nil {
		return err
	}

	e.Requests = metrics.NewRequestStats()
	e.Metrics = metrics.NewAggregator(e.store, e.collectors(cfg, db), cfg.Metrics.Config, metrics.WithClock(o.now))

	e.Health = health.NewOrchestrator(cfg.Health.Config, health.WithClock(o.now))
	e.Health.Register(e.probes(cfg)...)
	e.Health.OnReport(e.Alerts.OnHealthReport)

	e.scheduler, err = scheduler.New(
		scheduler.WithLogger(logger.GetLogger("scheduler")),
		scheduler.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

func (e *Engine) buildAlerts(cfg Config, o *options, db *gorm.DB) error {
	rules, err := cfg.AlertRules()
	if err != nil {
		return err
	}

	notifiers := []alert.Notifier{alert.NewLogNotifier(logger.GetLogger("alert"))}
	if cfg.Alert.Webhook.URL != "" {
		client := httpclient.NewClient(httpclient.WithTimeout(cfg.Alert.Webhook.Timeout))
		notifiers = append(notifiers, alert.NewWebhookNotifier(cfg.Alert.Webhook.URL, client))
	}
	e.publisher = o.publisher
	if cfg.Alert.Kafka.Enabled {
		if e.publisher == nil {
			if e.publisher, err = kafka.NewPublisher(cfg.Alert.Kafka.Config); err != nil {
				return fmt.Errorf("kafka: %w", err)
			}
		}
		notifiers = append(notifiers, alert.NewKafkaNotifier(e.publisher))
	}

	dispatcher := alert.NewDispatcher(notifiers,
		alert.WithDispatchPool(e.pool),
		alert.WithDispatchRetry(retry.MaxAttempts(cfg.Alert.DeliveryRetries), retry.WithBackoff(retry.DefaultBackoff())),
		alert.WithDispatchRegisterer(e.registry),
	)

	alertOpts := []alert.Option{
		alert.WithDefaultChannels(cfg.Alert.DefaultChannels...),
		alert.WithHealthCooldown(cfg.Alert.HealthCooldown),
		alert.WithClock(o.now),
		alert.WithRegisterer(e.registry),
	}
	if db != nil {
		h := alert.NewGormHistory(db)
		alertOpts = append(alertOpts, alert.WithHistory(h))
		e.migrators = append(e.migrators, h.Migrate)
	}
	e.Alerts = alert.NewEngine(rules, e.store, dispatcher, alertOpts...)
	return nil
}

func (e *Engine) collectors(cfg Config, db *gorm.DB) metrics.Collectors {
	c := metrics.Collectors{
		System:      metrics.NewRuntimeCollector(cfg.Metrics.DiskPath, cfg.Metrics.MemoryLimit),
		Application: e.Requests,
	}
	var cache goredis.UniversalClient
	if e.redis != nil && cfg.Counter.Type == counter.StoreTypeRedis {
		cache = e.redis.Client(cfg.Counter.RedisInstance)
	}
	if cache != nil || db != nil {
		c.Datastore = metrics.NewDatastoreProbe(cache, db)
	}
	if sc, ok := e.entities.(entity.StatusCounter); ok {
		c.Business = metrics.NewEntityGauges(sc)
	}
	return c
}

func (e *Engine) probes(cfg Config) []health.Checker {
	warn := func(c health.Checker) health.Checker {
		return health.WithLatencyWarning(c, cfg.Health.LatencyWarning)
	}

	out := []health.Checker{warn(health.NewStoreProbe(e.store))}
	if e.redis != nil {
		for _, name := range e.redis.Names() {
			out = append(out, warn(health.NewPingProbe("redis:"+name, func(ctx context.Context) error {
				return e.redis.PingInstance(ctx, name)
			})))
		}
	}
	if e.db != nil {
		for _, name := range e.db.GetDBNames() {
			out = append(out, warn(health.NewPingProbe("database:"+name, func(ctx context.Context) error {
				return e.db.PingInstance(ctx, name)
			})))
		}
	}

	client := httpclient.NewClient(httpclient.WithTimeout(cfg.Health.ProbeTimeout))
	for _, g := range cfg.Health.Gateways {
		out = append(out, warn(health.NewHTTPProbe("gateway:"+g.Name, g.URL, client)))
	}
	if cfg.Health.SelfCheck {
		out = append(out, warn(health.NewHTTPProbe("api", selfURL(cfg.Server.Addr)+"/livez", client)))
	}
	return out
}

func selfURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// Config returns the effective configuration
func (e *Engine) Config() Config { return e.cfg }

// Registry is the Prometheus registry every component reports to
func (e *Engine) Registry() *prometheus.Registry { return e.registry }

// Entities is the entity store in use
func (e *Engine) Entities() entity.Store { return e.entities }

// Store is the counter store in use
func (e *Engine) Store() counter.Store { return e.store }

// Start migrates the relational tables, seeds entities and starts the loops
func (e *Engine) Start(ctx context.Context) error {
	if e.db != nil {
		if dc, ok := e.db.Config(e.cfg.Storage.Database); ok && dc.AutoMigrate {
			for _, m := range e.migrators {
				if err := m(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}
		}
	}
	if err := e.seed(ctx); err != nil {
		return err
	}

	jobs := []struct {
		name      string
		interval  time.Duration
		immediate bool
		task      scheduler.Task
	}{
		{JobMetrics, e.cfg.Metrics.Interval, true, e.collectMetrics},
		{JobAlerts, e.cfg.Alert.Interval, false, e.evaluateAlerts},
		{JobHealth, e.cfg.Health.Interval, true, e.runHealth},
	}
	for _, j := range jobs {
		if err := e.scheduler.Every(j.name, j.interval, j.immediate, j.task); err != nil {
			return err
		}
	}
	e.scheduler.Start()

	e.logger.InfoCtx(ctx, "engine started",
		zap.String("counter_store", string(e.cfg.Counter.Type)),
		zap.Strings("alert_channels", e.cfg.Alert.Channels()),
		zap.Int("rules", len(e.Alerts.Rules())),
		zap.Int("tiers", len(e.catalog.Tiers())),
	)
	return nil
}

type putter interface {
	Put(ctx context.Context, e entity.Limits) error
}

func (e *Engine) seed(ctx context.Context) error {
	for _, s := range e.seeds {
		_, err := e.entities.GetLimits(ctx, s.EntityID)
		if err == nil {
			continue
		}
		if !errors.Is(err, entity.ErrNotFound) {
			return fmt.Errorf("seed %s: %w", s.EntityID, err)
		}
		switch st := e.entities.(type) {
		case *entity.MemoryStore:
			st.Put(s)
		case putter:
			if err := st.Put(ctx, s); err != nil {
				return fmt.Errorf("seed %s: %w", s.EntityID, err)
			}
		default:
			return fmt.Errorf("seed %s: entity store is read-only", s.EntityID)
		}
	}
	return nil
}

func (e *Engine) collectMetrics(ctx context.Context) error {
	_, err := e.Metrics.Collect(ctx)
	return err
}

func (e *Engine) evaluateAlerts(ctx context.Context) error {
	s := e.Metrics.Latest()
	if s == nil {
		return nil
	}
	res := e.Alerts.Evaluate(ctx, s)
	if len(res.Errors) > 0 {
		return fmt.Errorf("alert evaluation: %d errors: %v", len(res.Errors), res.Errors)
	}
	return nil
}

func (e *Engine) runHealth(ctx context.Context) error {
	e.Health.Run(ctx)
	return nil
}

// RunNow triggers one tick of a loop outside its schedule
func (e *Engine) RunNow(job string) error {
	return e.scheduler.RunNow(job)
}

// Flush blocks until queued background work (follow-ups, deliveries) finished
func (e *Engine) Flush() {
	e.pool.Wait()
}

// Stop halts the loops, drains the pool and releases every resource
func (e *Engine) Stop(ctx context.Context) error {
	var errs []error
	if err := e.scheduler.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if err := e.closeResources(); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	if err != nil {
		e.logger.ErrorCtx(ctx, "engine stopped with errors", zap.Error(err))
	} else {
		e.logger.InfoCtx(ctx, "engine stopped")
	}
	return err
}

func (e *Engine) closeResources() error {
	var errs []error
	if e.pool != nil {
		if err := e.pool.Release(); err != nil {
			errs = append(errs, fmt.Errorf("worker: %w", err))
		}
	}
	if e.publisher != nil {
		if err := e.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil && !errors.Is(err, counter.ErrStoreClosed) {
			errs = append(errs, fmt.Errorf("counter: %w", err))
		}
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}

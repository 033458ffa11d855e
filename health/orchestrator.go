package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KOMKZ/go-yogan-meter/logger"
	"go.uber.org/zap"
)

// Config of the orchestrator
type Config struct {
	Interval     time.Duration `mapstructure:"interval"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
}

// Listener receives every report after a run
type Listener func(ctx context.Context, r *Report)

// Orchestrator runs registered checkers concurrently
type Orchestrator struct {
	timeout time.Duration
	now     func() time.Time
	logger  *logger.CtxZapLogger

	mu        sync.RWMutex
	checkers  []Checker
	listeners []Listener
	latest    *Report
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the logger
func WithLogger(l *logger.CtxZapLogger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(cfg Config, opts ...Option) *Orchestrator {
	cfg.ApplyDefaults()
	o := &Orchestrator{timeout: cfg.ProbeTimeout, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.GetLogger("health")
	}
	return o
}

// Register adds checkers
func (o *Orchestrator) Register(checkers ...Checker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checkers = append(o.checkers, checkers...)
}

// OnReport adds a listener
func (o *Orchestrator) OnReport(l Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, l)
}

// Latest returns the cached report, nil before the first run
func (o *Orchestrator) Latest() *Report {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.latest
}

// Run executes every checker, caches the report and notifies listeners
func (o *Orchestrator) Run(ctx context.Context) *Report {
	start := o.now()

	o.mu.RLock()
	checkers := make([]Checker, len(o.checkers))
	copy(checkers, o.checkers)
	listeners := make([]Listener, len(o.listeners))
	copy(listeners, o.listeners)
	o.mu.RUnlock()

	results := make(chan Result, len(checkers))
	for _, c := range checkers {
		go func(c Checker) {
			results <- o.checkOne(ctx, c)
		}(c)
	}

	report := &Report{
		Status:    StatusHealthy,
		Timestamp: start,
		Checks:    make(map[string]Result, len(checkers)),
	}
	for range checkers {
		r := <-results
		report.Checks[r.Name] = r
		report.Status = Worst(report.Status, r.Status)
		if r.Status != StatusHealthy {
			o.logger.WarnCtx(ctx, "probe unhealthy",
				zap.String("probe", r.Name),
				zap.String("status", string(r.Status)),
				zap.String("message", r.Message))
		}
	}
	report.Duration = o.now().Sub(start)

	o.mu.Lock()
	o.latest = report
	o.mu.Unlock()

	for _, l := range listeners {
		l(ctx, report)
	}
	return report
}

// checkOne never blocks longer than the probe timeout, even when the
// checker ignores its context
func (o *Orchestrator) checkOne(ctx context.Context, c Checker) Result {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("probe panicked: %v", r)
			}
		}()
		done <- c.Check(ctx)
	}()

	res := Result{Name: c.Name(), Timestamp: o.now()}
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("probe timed out after %s", o.timeout)
	}
	res.Latency = time.Since(start)

	switch {
	case err == nil:
		res.Status = StatusHealthy
		res.Message = "OK"
	case isDegraded(err):
		res.Status = StatusWarning
		res.Message = err.Error()
	default:
		res.Status = StatusCritical
		res.Message = err.Error()
	}
	return res
}

// Package scheduler runs the periodic engine loops on gocron. Every job is
// a singleton: a tick that is still running when the next is due makes the
// next one reschedule instead of overlapping.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Task is one tick of a loop
type Task func(ctx context.Context) error

// Scheduler owns the gocron scheduler and the context handed to tasks
type Scheduler struct {
	scheduler       gocron.Scheduler
	logger          *logger.CtxZapLogger
	shutdownTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]gocron.Job
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the logger
func WithLogger(l *logger.CtxZapLogger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithShutdownTimeout bounds how long Shutdown waits for running ticks
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// New creates a stopped scheduler
func New(opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		shutdownTimeout: 30 * time.Second,
		jobs:            make(map[string]gocron.Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.GetLogger("scheduler")
	}

	gs, err := gocron.NewScheduler(
		gocron.WithLogger(gocronLogger{s.logger}),
		gocron.WithGlobalJobOptions(
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithEventListeners(
				gocron.AfterJobRunsWithError(func(_ uuid.UUID, name string, err error) {
					s.logger.Warn("scheduled task failed", zap.String("job", name), zap.Error(err))
				}),
				gocron.AfterJobRunsWithPanic(func(_ uuid.UUID, name string, recovered any) {
					s.logger.Error("scheduled task panicked", zap.String("job", name), zap.Any("panic", recovered))
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s.scheduler = gs
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Every registers task to run at a fixed interval. With immediate set the
// first tick runs on Start.
func (s *Scheduler) Every(name string, interval time.Duration, immediate bool, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be > 0, got: %s", name, interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %s already registered", name)
	}

	opts := []gocron.JobOption{gocron.WithName(name)}
	if immediate {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() error { return task(s.ctx) }),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.jobs[name] = job
	return nil
}

// RunNow triggers a registered job outside its schedule
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not registered", name)
	}
	return job.RunNow()
}

// Jobs lists the registered job names
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	return out
}

// Start begins ticking
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Debug("scheduler started", zap.Int("jobs", len(s.Jobs())))
}

// Shutdown cancels the task context and waits for running ticks, up to the
// shutdown timeout
func (s *Scheduler) Shutdown() error {
	s.cancel()

	done := make(chan error, 1)
	go func() { done <- s.scheduler.Shutdown() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("shutdown scheduler: %w", err)
		}
		return nil
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn("scheduler shutdown timed out", zap.Duration("timeout", s.shutdownTimeout))
		return fmt.Errorf("scheduler shutdown timeout (%s)", s.shutdownTimeout)
	}
}

// gocronLogger adapts the module logger to gocron's key/value logger
type gocronLogger struct {
	l *logger.CtxZapLogger
}

func (g gocronLogger) Debug(msg string, args ...any) { g.l.GetZapLogger().Sugar().Debugw(msg, args...) }
func (g gocronLogger) Info(msg string, args ...any)  { g.l.GetZapLogger().Sugar().Infow(msg, args...) }
func (g gocronLogger) Warn(msg string, args ...any)  { g.l.GetZapLogger().Sugar().Warnw(msg, args...) }
func (g gocronLogger) Error(msg string, args ...any) { g.l.GetZapLogger().Sugar().Errorw(msg, args...) }

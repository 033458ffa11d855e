// Package worker runs fire-and-forget work off the request path
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Submitter accepts background tasks. Go never blocks the caller and
// reports false when the task was dropped.
type Submitter interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context)) bool
}

// Config worker pool configuration
type Config struct {
	Size           int           `mapstructure:"size"`
	MaxBlocking    int           `mapstructure:"max_blocking"`
	ReleaseTimeout time.Duration `mapstructure:"release_timeout"`
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	if c.Size <= 0 {
		c.Size = 256
	}
	if c.ReleaseTimeout <= 0 {
		c.ReleaseTimeout = 10 * time.Second
	}
}

// Validate configuration
func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("worker size must be > 0, got: %d", c.Size)
	}
	if c.MaxBlocking < 0 {
		return fmt.Errorf("worker max_blocking must be >= 0, got: %d", c.MaxBlocking)
	}
	return nil
}

// Pool is a bounded goroutine pool. When full it drops tasks instead of
// queueing them, so submitters never wait on background work.
type Pool struct {
	pool           *ants.Pool
	logger         *logger.CtxZapLogger
	releaseTimeout time.Duration
	wg             sync.WaitGroup
	dropped        atomic.Int64
	panics         atomic.Int64
}

// NewPool creates the pool
func NewPool(cfg Config, log *logger.CtxZapLogger) (*Pool, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetLogger("worker")
	}

	opts := []ants.Option{ants.WithNonblocking(cfg.MaxBlocking == 0)}
	if cfg.MaxBlocking > 0 {
		opts = append(opts, ants.WithMaxBlockingTasks(cfg.MaxBlocking))
	}

	pool, err := ants.NewPool(cfg.Size, opts...)
	if err != nil {
		return nil, fmt.Errorf("create worker pool failed: %w", err)
	}

	return &Pool{
		pool:           pool,
		logger:         log,
		releaseTimeout: cfg.ReleaseTimeout,
	}, nil
}

// Go submits fn. ctx values (trace id) are kept but its cancellation is not,
// the task outlives the request that scheduled it.
func (p *Pool) Go(ctx context.Context, name string, fn func(ctx context.Context)) bool {
	taskCtx := context.WithoutCancel(ctx)

	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
				p.logger.ErrorCtx(taskCtx, "background task panicked",
					zap.String("task", name),
					zap.Any("panic", r))
			}
		}()
		fn(taskCtx)
	})
	if err != nil {
		p.wg.Done()
		p.dropped.Add(1)
		p.logger.WarnCtx(ctx, "background task dropped",
			zap.String("task", name),
			zap.Error(err))
		return false
	}
	return true
}

// Wait blocks until every submitted task finished
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Running number of busy workers
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Dropped number of tasks rejected because the pool was full or closed
func (p *Pool) Dropped() int64 {
	return p.dropped.Load()
}

// Panics number of tasks that panicked
func (p *Pool) Panics() int64 {
	return p.panics.Load()
}

// Release waits for in-flight tasks up to the release timeout and closes the pool
func (p *Pool) Release() error {
	return p.pool.ReleaseTimeout(p.releaseTimeout)
}

// Inline runs tasks synchronously on the caller goroutine
type Inline struct{}

// Go runs fn immediately
func (Inline) Go(ctx context.Context, _ string, fn func(ctx context.Context)) bool {
	fn(ctx)
	return true
}

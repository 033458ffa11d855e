package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsTasks(t *testing.T) {
	p, err := NewPool(Config{Size: 4, MaxBlocking: 20}, logger.Nop())
	require.NoError(t, err)
	defer p.Release()

	var n atomic.Int32
	for i := 0; i < 20; i++ {
		p.Go(context.Background(), "count", func(ctx context.Context) { n.Add(1) })
	}
	p.Wait()

	assert.Equal(t, int32(20), n.Load())
}

func TestPool_TaskContextOutlivesCaller(t *testing.T) {
	p, err := NewPool(Config{Size: 1}, logger.Nop())
	require.NoError(t, err)
	defer p.Release()

	ctx, cancel := context.WithCancel(logger.WithTraceID(context.Background(), "t-1"))
	cancel()

	var gotErr error
	var gotTrace string
	p.Go(ctx, "detached", func(ctx context.Context) {
		gotErr = ctx.Err()
		gotTrace = logger.TraceID(ctx)
	})
	p.Wait()

	assert.NoError(t, gotErr)
	assert.Equal(t, "t-1", gotTrace)
}

func TestPool_DropsWhenFull(t *testing.T) {
	log, logs := logger.NewTestLogger("worker")
	p, err := NewPool(Config{Size: 1}, log)
	require.NoError(t, err)
	defer p.Release()

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.Go(context.Background(), "blocker", func(ctx context.Context) {
		close(started)
		<-block
	}))
	<-started

	begin := time.Now()
	ok := p.Go(context.Background(), "overflow", func(ctx context.Context) {})
	assert.False(t, ok)
	assert.Less(t, time.Since(begin), 100*time.Millisecond)
	assert.Equal(t, int64(1), p.Dropped())
	assert.Equal(t, 1, logs.FilterMessage("background task dropped").Len())

	close(block)
	p.Wait()
}

func TestPool_RecoversPanics(t *testing.T) {
	log, logs := logger.NewTestLogger("worker")
	p, err := NewPool(Config{Size: 2}, log)
	require.NoError(t, err)
	defer p.Release()

	p.Go(context.Background(), "boom", func(ctx context.Context) { panic("boom") })
	p.Wait()

	assert.Equal(t, int64(1), p.Panics())
	assert.Equal(t, 1, logs.FilterMessage("background task panicked").Len())

	var ran atomic.Bool
	p.Go(context.Background(), "after", func(ctx context.Context) { ran.Store(true) })
	p.Wait()
	assert.True(t, ran.Load())
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, 256, cfg.Size)
	assert.NoError(t, cfg.Validate())
	assert.Error(t, Config{Size: 1, MaxBlocking: -1}.Validate())
}

func TestInline(t *testing.T) {
	var ran bool
	assert.True(t, Inline{}.Go(context.Background(), "x", func(ctx context.Context) { ran = true }))
	assert.True(t, ran)
}

package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KOMKZ/go-yogan-meter/counter"
	"github.com/KOMKZ/go-yogan-meter/errcode"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/KOMKZ/go-yogan-meter/plan"
	mtest "github.com/KOMKZ/go-yogan-meter/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 6, 7, 30, 0, 0, time.UTC)

type memLog struct {
	mu   sync.Mutex
	rows []LogRecord
	err  error
}

func (l *memLog) Append(ctx context.Context, rec *LogRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.rows = append(l.rows, *rec)
	return nil
}

func newTestMeter(t *testing.T, store counter.Store, opts ...Option) *Meter {
	log, _ := logger.NewTestLogger("usage")
	base := []Option{WithClock(func() time.Time { return fixedNow }), WithLogger(log)}
	return NewMeter(store, append(base, opts...)...)
}

func TestMeter_RecordFlowMetricWritesEveryWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := counter.NewRedisStore(client, "meter:")

	m := newTestMeter(t, store)
	ctx := context.Background()

	_, err := m.Record(ctx, Event{EntityID: "E1", Metric: "api_calls"})
	require.NoError(t, err)
	rec, err := m.Record(ctx, Event{EntityID: "E1", Metric: "api_calls", Amount: 4})
	require.NoError(t, err)

	assert.False(t, rec.Degraded)
	assert.Equal(t, map[counter.Window]int64{counter.Hour: 5, counter.Day: 5, counter.Month: 5}, rec.Counters)

	assert.Equal(t, "5", mustGet(t, mr, "meter:usage:{E1}:api_calls:hour:2024-05-06-07"))
	assert.Equal(t, "5", mustGet(t, mr, "meter:usage:{E1}:api_calls:day:2024-05-06"))
	assert.Equal(t, "5", mustGet(t, mr, "meter:usage:{E1}:api_calls:month:2024-05"))
	assert.Equal(t, counter.Hour.TTL(), mr.TTL("meter:usage:{E1}:api_calls:hour:2024-05-06-07"))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err, key)
	return v
}

func TestMeter_RecordStockMetricUsesTotal(t *testing.T) {
	store := counter.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	m := newTestMeter(t, store)
	ctx := context.Background()

	_, err := m.Record(ctx, Event{EntityID: "E1", Metric: "users", Amount: 3})
	require.NoError(t, err)
	rec, err := m.Record(ctx, Event{EntityID: "E1", Metric: "users", Amount: -1})
	require.NoError(t, err)
	assert.Equal(t, map[counter.Window]int64{counter.Total: 2}, rec.Counters)

	ttl, err := store.TTL(ctx, counter.UsageKey("E1", "users", counter.Total, fixedNow))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)

	// releasing below zero reads as zero
	rec, err = m.Record(ctx, Event{EntityID: "E1", Metric: "users", Amount: -5})
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Counters[counter.Total])
}

func TestMeter_RejectsInvalidEvents(t *testing.T) {
	m := newTestMeter(t, counter.NewMemoryStore())
	ctx := context.Background()

	_, err := m.Record(ctx, Event{EntityID: "E1", Metric: "cpu"})
	assert.ErrorIs(t, err, errcode.ErrUnknownMetric)

	_, err = m.Record(ctx, Event{EntityID: "E1", Metric: "api_calls", Amount: -2})
	assert.ErrorIs(t, err, errcode.ErrInvalidAmount)

	_, err = m.Record(ctx, Event{Metric: "api_calls"})
	assert.ErrorIs(t, err, errcode.ErrInvalidRequest)
}

func TestMeter_AppendsLogAndRunsFollowUps(t *testing.T) {
	log := &memLog{}
	var calls []string
	m := newTestMeter(t, counter.NewMemoryStore(),
		WithLog(log),
		WithFollowUp(func(ctx context.Context, entityID string, metric plan.Metric) {
			calls = append(calls, entityID+"/"+string(metric))
		}))

	_, err := m.Record(context.Background(), Event{
		EntityID: "E1", Metric: "bandwidth", Amount: 512,
		Metadata: map[string]string{"path": "/v1/validate"},
	})
	require.NoError(t, err)

	require.Len(t, log.rows, 1)
	assert.Equal(t, "E1", log.rows[0].EntityID)
	assert.Equal(t, int64(512), log.rows[0].Amount)
	assert.JSONEq(t, `{"path":"/v1/validate"}`, log.rows[0].Metadata)
	assert.Equal(t, fixedNow, log.rows[0].RecordedAt)
	assert.Equal(t, []string{"E1/bandwidth"}, calls)
}

func TestMeter_LogFailureIsSwallowed(t *testing.T) {
	reg := prometheus.NewRegistry()
	log, logs := logger.NewTestLogger("usage")
	m := NewMeter(counter.NewMemoryStore(),
		WithLogger(log),
		WithRegisterer(reg),
		WithLog(&memLog{err: errors.New("db down")}))

	rec, err := m.Record(context.Background(), Event{EntityID: "E1", Metric: "api_calls"})
	require.NoError(t, err)
	assert.False(t, rec.Degraded)
	assert.Equal(t, 1, logs.FilterMessage("usage log write failed").Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.logFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.recorded.WithLabelValues("api_calls")))
}

func TestMeter_StoreFailureIsDegraded(t *testing.T) {
	store := counter.NewMemoryStore()
	require.NoError(t, store.Close())

	log := &memLog{}
	followed := false
	l, logs := logger.NewTestLogger("usage")
	m := NewMeter(store, WithLogger(l), WithLog(log),
		WithFollowUp(func(context.Context, string, plan.Metric) { followed = true }))

	rec, err := m.Record(context.Background(), Event{EntityID: "E1", Metric: "api_calls"})
	require.NoError(t, err)
	assert.True(t, rec.Degraded)
	assert.Nil(t, rec.Counters)
	assert.False(t, followed)
	assert.Len(t, log.rows, 1, "the durable log still receives the event")
	assert.Equal(t, 1, logs.FilterMessage("usage counter write failed").Len())
}

func TestGormLog_AppendAndList(t *testing.T) {
	db := mtest.SQLite(t)

	gl := NewGormLog(db)
	ctx := context.Background()
	require.NoError(t, gl.Migrate(ctx))

	m := newTestMeter(t, counter.NewMemoryStore(), WithLog(gl))
	for i := 0; i < 3; i++ {
		_, err := m.Record(ctx, Event{EntityID: "E1", Metric: "validations"})
		require.NoError(t, err)
	}
	_, err := m.Record(ctx, Event{EntityID: "E2", Metric: "validations"})
	require.NoError(t, err)

	rows, err := gl.ListByEntity(ctx, "E1", fixedNow.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, "validations", r.Metric)
		assert.NotZero(t, r.ID)
	}
}

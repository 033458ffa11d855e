package alert

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KOMKZ/go-yogan-meter/counter"
	"github.com/KOMKZ/go-yogan-meter/errcode"
	"github.com/KOMKZ/go-yogan-meter/health"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/KOMKZ/go-yogan-meter/metrics"
	"github.com/KOMKZ/go-yogan-meter/retry"
	mtest "github.com/KOMKZ/go-yogan-meter/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	name string
	mu   sync.Mutex
	got  []Alert
	fail int
}

func (n *recordingNotifier) Name() string { return n.name }

func (n *recordingNotifier) Notify(ctx context.Context, a Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail > 0 {
		n.fail--
		return errors.New("channel down")
	}
	n.got = append(n.got, a)
	return nil
}

func (n *recordingNotifier) alerts() []Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Alert(nil), n.got...)
}

type memHistory struct {
	mu   sync.Mutex
	rows []EventRecord
}

func (h *memHistory) Append(ctx context.Context, rec *EventRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows = append(h.rows, *rec)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRedisStore(t *testing.T) (counter.Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return counter.NewRedisStore(client, "meter:"), mr
}

type harness struct {
	engine  *Engine
	log     *recordingNotifier
	history *memHistory
	clock   *clock
	reg     *prometheus.Registry
}

func newHarness(t *testing.T, store counter.Store, cfgs []RuleConfig) *harness {
	rules, err := LoadRules(cfgs, []string{ChannelLog})
	require.NoError(t, err)

	log, _ := logger.NewTestLogger("alert")
	h := &harness{
		log:     &recordingNotifier{name: ChannelLog},
		history: &memHistory{},
		clock:   &clock{now: time.Date(2024, 5, 6, 7, 30, 0, 0, time.UTC)},
		reg:     prometheus.NewRegistry(),
	}
	d := NewDispatcher([]Notifier{h.log}, WithDispatchLogger(log), WithDispatchRetry(fastRetry(1)...))
	h.engine = NewEngine(rules, store, d,
		WithHistory(h.history),
		WithClock(h.clock.Now),
		WithLogger(log),
		WithRegisterer(h.reg))
	return h
}

func fastRetry(attempts int) []retry.Option {
	return []retry.Option{
		retry.MaxAttempts(attempts),
		retry.WithBackoff(retry.Exponential{Base: time.Millisecond, Multiplier: 1, Max: time.Millisecond}),
	}
}

func hotSample(cpu float64) *metrics.Sample {
	return &metrics.Sample{System: &metrics.SystemMetrics{CPUUsage: cpu}}
}

var cpuRule = RuleConfig{ID: "cpu", Name: "High CPU", Condition: "cpu_usage", Threshold: 80, Severity: "error", Cooldown: 10 * time.Minute}

func TestEngine_CooldownSuppressesRepeats(t *testing.T) {
	store, mr := newRedisStore(t)
	h := newHarness(t, store, []RuleConfig{cpuRule})
	ctx := context.Background()

	res := h.engine.Evaluate(ctx, hotSample(95))
	require.Len(t, res.Fired, 1)
	a := res.Fired[0]
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "cpu", a.RuleID)
	assert.Equal(t, SeverityError, a.Severity)
	assert.Equal(t, CategorySystem, a.Category)
	assert.Contains(t, a.Message, "95.00%")
	assert.True(t, mr.Exists("meter:cooldown:cpu"))

	res = h.engine.Evaluate(ctx, hotSample(97))
	assert.Empty(t, res.Fired)
	assert.Equal(t, []string{"cpu"}, res.Suppressed)
	assert.Len(t, h.engine.ListActive(Filter{}), 1)
	assert.Len(t, h.log.alerts(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.engine.suppressed.WithLabelValues("rule:cpu")))

	mr.FastForward(11 * time.Minute)
	res = h.engine.Evaluate(ctx, hotSample(97))
	assert.Len(t, res.Fired, 1)
	assert.Len(t, h.engine.ListActive(Filter{}), 2)
}

func TestEngine_ConcurrentEvaluateRaisesOnce(t *testing.T) {
	store, _ := newRedisStore(t)
	h := newHarness(t, store, []RuleConfig{cpuRule})

	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := h.engine.Evaluate(context.Background(), hotSample(99))
			fired.Add(int32(len(res.Fired)))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, fired.Load())
	assert.Len(t, h.engine.ListActive(Filter{}), 1)
}

func TestEngine_SkipsDisabledAndMissingGroups(t *testing.T) {
	disabled := false
	off := cpuRule
	off.ID = "cpu_off"
	off.Enabled = &disabled
	susp := RuleConfig{ID: "susp", Condition: "active_suspensions", Threshold: 1, Cooldown: time.Minute}

	h := newHarness(t, counter.NewMemoryStore(), []RuleConfig{off, susp})
	res := h.engine.Evaluate(context.Background(), hotSample(99))
	assert.Empty(t, res.Fired)
	assert.Empty(t, res.Suppressed)
	assert.Empty(t, res.Errors)
}

func TestEngine_StoreFailureIsolatesRule(t *testing.T) {
	store := counter.NewMemoryStore()
	h := newHarness(t, store, []RuleConfig{cpuRule})
	require.NoError(t, store.Close())

	res := h.engine.Evaluate(context.Background(), hotSample(99))
	assert.Empty(t, res.Fired)
	assert.Contains(t, res.Errors, "cpu")
	assert.Empty(t, h.engine.ListActive(Filter{}))
}

func TestEngine_ResolveLifecycle(t *testing.T) {
	h := newHarness(t, counter.NewMemoryStore(), []RuleConfig{cpuRule})
	ctx := context.Background()

	a := h.engine.Evaluate(ctx, hotSample(99)).Fired[0]

	_, err := h.engine.Resolve(ctx, a.ID, "")
	assert.ErrorIs(t, err, errcode.ErrInvalidRequest)

	resolved, err := h.engine.Resolve(ctx, a.ID, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)
	assert.True(t, resolved.Resolved())
	assert.Empty(t, h.engine.ListActive(Filter{}))

	_, err = h.engine.Resolve(ctx, a.ID, "ops@example.com")
	assert.ErrorIs(t, err, errcode.ErrAlertAlreadyResolved)

	_, err = h.engine.Resolve(ctx, "missing", "ops@example.com")
	assert.ErrorIs(t, err, errcode.ErrAlertNotFound)

	got, err := h.engine.Get(a.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved())

	require.Len(t, h.history.rows, 2)
	assert.Equal(t, EventCreated, h.history.rows[0].Kind)
	assert.Equal(t, EventResolved, h.history.rows[1].Kind)
	assert.Equal(t, "ops@example.com", h.history.rows[1].ResolvedBy)
}

func TestEngine_ListActiveOrdering(t *testing.T) {
	h := newHarness(t, counter.NewMemoryStore(), nil)
	ctx := context.Background()

	raise := func(title string, sev Severity, cat Category) {
		_, ok, err := h.engine.Raise(ctx, Alert{Title: title, Severity: sev, Category: cat, Source: "test"}, RaiseOptions{})
		require.NoError(t, err)
		require.True(t, ok)
		h.clock.Advance(time.Second)
	}
	raise("old warning", SeverityWarning, CategorySystem)
	raise("critical", SeverityCritical, CategoryBusiness)
	raise("new warning", SeverityWarning, CategoryPerformance)
	raise("info", SeverityInfo, CategorySecurity)

	titles := func(as []Alert) []string {
		out := make([]string, len(as))
		for i, a := range as {
			out[i] = a.Title
		}
		return out
	}
	assert.Equal(t, []string{"critical", "new warning", "old warning", "info"}, titles(h.engine.ListActive(Filter{})))
	assert.Equal(t, []string{"new warning", "old warning"}, titles(h.engine.ListActive(Filter{Severity: SeverityWarning})))
	assert.Equal(t, []string{"critical"}, titles(h.engine.ListActive(Filter{Category: CategoryBusiness})))
	assert.Equal(t, 4.0, testutil.ToFloat64(h.engine.activeG))
}

func TestEngine_AutoResolve(t *testing.T) {
	rule := cpuRule
	rule.AutoResolveTicks = 3
	h := newHarness(t, counter.NewMemoryStore(), []RuleConfig{rule})
	ctx := context.Background()

	a := h.engine.Evaluate(ctx, hotSample(99)).Fired[0]

	h.engine.Evaluate(ctx, hotSample(10))
	h.engine.Evaluate(ctx, hotSample(10))
	// a hot tick resets the streak
	h.engine.Evaluate(ctx, hotSample(99))
	h.engine.Evaluate(ctx, hotSample(10))
	h.engine.Evaluate(ctx, hotSample(10))
	assert.Len(t, h.engine.ListActive(Filter{}), 1)

	res := h.engine.Evaluate(ctx, hotSample(10))
	require.Len(t, res.Resolved, 1)
	assert.Equal(t, a.ID, res.Resolved[0].ID)
	assert.Equal(t, AutoResolver, res.Resolved[0].ResolvedBy)
	assert.Empty(t, h.engine.ListActive(Filter{}))
}

func TestEngine_NoAutoResolveByDefault(t *testing.T) {
	h := newHarness(t, counter.NewMemoryStore(), []RuleConfig{cpuRule})
	ctx := context.Background()

	h.engine.Evaluate(ctx, hotSample(99))
	for i := 0; i < 10; i++ {
		h.engine.Evaluate(ctx, hotSample(10))
	}
	assert.Len(t, h.engine.ListActive(Filter{}), 1)
}

func TestEngine_OnHealthReport(t *testing.T) {
	store, _ := newRedisStore(t)
	h := newHarness(t, store, nil)
	ctx := context.Background()

	report := &health.Report{
		Status: health.StatusCritical,
		Checks: map[string]health.Result{
			"redis":    {Name: "redis", Status: health.StatusCritical, Message: "connection refused"},
			"database": {Name: "database", Status: health.StatusWarning},
		},
	}
	h.engine.OnHealthReport(ctx, report)
	h.engine.OnHealthReport(ctx, report)

	active := h.engine.ListActive(Filter{})
	require.Len(t, active, 1)
	assert.Equal(t, "health:redis", active[0].Source)
	assert.Equal(t, SeverityCritical, active[0].Severity)
	assert.Equal(t, CategorySystem, active[0].Category)
	assert.Equal(t, "connection refused", active[0].Message)
}

func TestEngine_NotifyDoesNotRegister(t *testing.T) {
	h := newHarness(t, counter.NewMemoryStore(), nil)
	a := h.engine.Notify(context.Background(), Alert{Title: "api_calls at 85%", Severity: SeverityWarning, Category: CategoryBusiness})
	assert.NotEmpty(t, a.ID)
	assert.Empty(t, h.engine.ListActive(Filter{}))
	require.Len(t, h.log.alerts(), 1)
	assert.Equal(t, a.ID, h.log.alerts()[0].ID)
}

func TestGormHistory(t *testing.T) {
	db := mtest.SQLite(t)
	hist := NewGormHistory(db)
	require.NoError(t, hist.Migrate(context.Background()))

	rules, err := LoadRules([]RuleConfig{cpuRule}, []string{ChannelLog})
	require.NoError(t, err)
	log, _ := logger.NewTestLogger("alert")
	e := NewEngine(rules, counter.NewMemoryStore(), nil, WithHistory(hist), WithLogger(log))

	ctx := context.Background()
	a := e.Evaluate(ctx, hotSample(99)).Fired[0]
	_, err = e.Resolve(ctx, a.ID, "ops")
	require.NoError(t, err)

	rows, err := hist.ListByAlert(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, EventCreated, rows[0].Kind)
	assert.Equal(t, "cpu", rows[0].RuleID)
	assert.Contains(t, rows[0].Context, `"threshold":80`)
	assert.Equal(t, EventResolved, rows[1].Kind)
	assert.Equal(t, "ops", rows[1].ResolvedBy)
}

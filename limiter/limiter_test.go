package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KOMKZ/go-yogan-meter/counter"
	"github.com/KOMKZ/go-yogan-meter/errcode"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/KOMKZ/go-yogan-meter/plan"
	"github.com/alicebob/miniredis/v2"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 6, 7, 30, 0, 0, time.UTC)

// hangingStore never answers before the context expires
type hangingStore struct {
	counter.Store
}

func (hangingStore) GetMany(ctx context.Context, keys ...string) ([]int64, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingStore) IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func newLimiter(t *testing.T, store counter.Store, mutate ...func(*Config)) *Limiter {
	t.Helper()
	cfg := Config{
		Operations: map[string]OperationConfig{
			"validate": {Metric: "validations"},
			"payout":   {Metric: "api_calls", HighRisk: true},
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	log, _ := logger.NewTestLogger("limiter")
	l, err := New(store, cfg, WithClock(func() time.Time { return now }), WithLogger(log))
	require.NoError(t, err)
	return l
}

func seed(t *testing.T, s counter.Store, entity string, m plan.Metric, w counter.Window, n int64) {
	t.Helper()
	_, err := s.IncrBy(context.Background(), counter.UsageKey(entity, string(m), w, now), n, w.TTL())
	require.NoError(t, err)
}

func memStore(t *testing.T) *counter.MemoryStore {
	s := counter.NewMemoryStore(counter.WithClock(func() time.Time { return now }))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCheckEntity_MostRestrictiveWins(t *testing.T) {
	store := memStore(t)
	l := newLimiter(t, store)
	seed(t, store, "E1", plan.APICalls, counter.Hour, 50)
	seed(t, store, "E1", plan.APICalls, counter.Day, 990)

	limits := map[counter.Window]plan.Limit{
		counter.Hour:  plan.Of(100),
		counter.Day:   plan.Of(1000),
		counter.Month: plan.Unlimited(),
	}
	d := l.CheckEntity(context.Background(), Request{EntityID: "E1", Authenticated: true}, limits)

	assert.True(t, d.Allowed)
	assert.Equal(t, counter.Day, d.Window)
	assert.Equal(t, int64(10), d.Remaining)
	assert.Equal(t, int64(1000), d.Limit)
	assert.Equal(t, time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC), d.ResetAt)
}

func TestCheckEntity_FirstDenialByWindowLength(t *testing.T) {
	store := memStore(t)
	l := newLimiter(t, store)
	seed(t, store, "E1", plan.APICalls, counter.Hour, 100)
	seed(t, store, "E1", plan.APICalls, counter.Day, 1000)

	limits := map[counter.Window]plan.Limit{
		counter.Hour: plan.Of(100),
		counter.Day:  plan.Of(1000),
	}
	d := l.CheckEntity(context.Background(), Request{EntityID: "E1", Authenticated: true}, limits)

	assert.False(t, d.Allowed)
	assert.Equal(t, counter.Hour, d.Window)
	assert.Equal(t, errcode.ReasonRateLimited, d.Reason)
	assert.Equal(t, 30*time.Minute, d.RetryAfter)
	assert.Equal(t, int64(0), d.Remaining)
}

func TestCheckEntity_CanonicalWindowDenialIsQuota(t *testing.T) {
	store := memStore(t)
	l := newLimiter(t, store)
	seed(t, store, "E1", plan.Validations, counter.Day, 500)

	d := l.CheckEntity(context.Background(),
		Request{EntityID: "E1", Operation: "validate", Authenticated: true},
		map[counter.Window]plan.Limit{counter.Hour: plan.Of(1000), counter.Day: plan.Of(500)})

	assert.False(t, d.Allowed)
	assert.Equal(t, counter.Day, d.Window)
	assert.Equal(t, errcode.ReasonQuotaExceeded, d.Reason)
	assert.Equal(t, 16*time.Hour+30*time.Minute, d.RetryAfter)
}

func TestCheckEntity_TiesGoToShorterWindow(t *testing.T) {
	store := memStore(t)
	l := newLimiter(t, store)

	d := l.CheckEntity(context.Background(), Request{EntityID: "E1", Authenticated: true},
		map[counter.Window]plan.Limit{counter.Month: plan.Of(10), counter.Hour: plan.Of(10)})
	assert.True(t, d.Allowed)
	assert.Equal(t, counter.Hour, d.Window)
	assert.Equal(t, int64(10), d.Remaining)
}

func TestCheckEntity_UnlimitedSentinel(t *testing.T) {
	store := memStore(t)
	l := newLimiter(t, store)
	seed(t, store, "E1", plan.APICalls, counter.Day, 1_000_000_000)

	d := l.CheckEntity(context.Background(), Request{EntityID: "E1"},
		map[counter.Window]plan.Limit{counter.Day: plan.Unlimited(), counter.Month: plan.Unlimited()})
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(-1), d.Remaining)
	assert.Equal(t, int64(-1), d.Limit)

	// unlimited windows never become the restricting window
	d = l.CheckEntity(context.Background(), Request{EntityID: "E1"},
		map[counter.Window]plan.Limit{counter.Day: plan.Unlimited(), counter.Hour: plan.Of(5)})
	assert.True(t, d.Allowed)
	assert.Equal(t, counter.Hour, d.Window)
}

func TestCheckOrigin_DeniesAboveCeiling(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := counter.NewRedisStore(client, "meter:")

	l := newLimiter(t, store, func(c *Config) { c.OriginLimit = 3 })
	ctx := context.Background()
	req := Request{EntityID: "E1", Origin: "10.0.0.1", Authenticated: true}
	limits := map[counter.Window]plan.Limit{counter.Day: plan.Unlimited()}

	for i := 0; i < 3; i++ {
		assert.True(t, l.Check(ctx, req, limits).Allowed)
	}
	d := l.Check(ctx, req, limits)
	assert.False(t, d.Allowed)
	assert.Equal(t, errcode.ReasonRateLimited, d.Reason)
	assert.Equal(t, counter.Minute, d.Window)
	assert.Equal(t, time.Minute, d.RetryAfter)

	// other origins are unaffected
	assert.True(t, l.Check(ctx, Request{EntityID: "E1", Origin: "10.0.0.2"}, limits).Allowed)
	assert.Equal(t, counter.Minute.TTL(), mr.TTL("meter:origin:{10.0.0.1}:minute:2024-05-06-07-30"))
}

func TestCheckOrigin_Disabled(t *testing.T) {
	l := newLimiter(t, memStore(t), func(c *Config) { c.OriginLimit = 1; c.DisableOrigin = true })
	for i := 0; i < 3; i++ {
		_, denied := l.CheckOrigin(context.Background(), Request{Origin: "10.0.0.1"})
		assert.False(t, denied)
	}
}

func TestFailurePolicy(t *testing.T) {
	closed := counter.NewMemoryStore()
	require.NoError(t, closed.Close())

	stores := map[string]counter.Store{
		"store error":   closed,
		"store timeout": hangingStore{},
	}
	cases := []struct {
		name          string
		req           Request
		wantAllowed   bool
		wantReason    string
		wantPolicyKey string
	}{
		{"authenticated low risk fails open", Request{EntityID: "E1", Authenticated: true, Operation: "validate"}, true, "", "open"},
		{"authenticated default operation fails open", Request{EntityID: "E1", Authenticated: true}, true, "", "open"},
		{"authenticated high risk fails closed", Request{EntityID: "E1", Authenticated: true, Operation: "payout"}, false, errcode.ReasonUnavailable, "closed"},
		{"unauthenticated fails closed", Request{EntityID: "E1", Operation: "validate"}, false, errcode.ReasonUnavailable, "closed"},
		{"unauthenticated origin fails closed", Request{Origin: "10.0.0.9"}, false, errcode.ReasonUnavailable, "closed"},
	}
	for storeName, store := range stores {
		for _, tc := range cases {
			t.Run(storeName+"/"+tc.name, func(t *testing.T) {
				reg := prometheus.NewRegistry()
				log, _ := logger.NewTestLogger("limiter")
				l, err := New(store, Config{
					OpTimeout: 5 * time.Millisecond,
					Operations: map[string]OperationConfig{
						"validate": {Metric: "validations"},
						"payout":   {Metric: "api_calls", HighRisk: true},
					},
				}, WithLogger(log), WithRegisterer(reg), WithClock(func() time.Time { return now }))
				require.NoError(t, err)

				d := l.Check(context.Background(), tc.req, map[counter.Window]plan.Limit{counter.Day: plan.Of(10)})
				assert.Equal(t, tc.wantAllowed, d.Allowed)
				assert.Equal(t, tc.wantReason, d.Reason)
				assert.True(t, d.Degraded)
				if !tc.wantAllowed {
					assert.Equal(t, 5*time.Second, d.RetryAfter)
				}
				assert.GreaterOrEqual(t, testutil.ToFloat64(l.metrics.degraded.WithLabelValues(tc.wantPolicyKey)), float64(1))
			})
		}
	}
}

func TestFailOpen(t *testing.T) {
	assert.True(t, FailOpen(Request{Authenticated: true}, Operation{}))
	assert.False(t, FailOpen(Request{Authenticated: true}, Operation{HighRisk: true}))
	assert.False(t, FailOpen(Request{}, Operation{}))
}

func TestDecisionMetrics(t *testing.T) {
	store := memStore(t)
	reg := prometheus.NewRegistry()
	l, err := New(store, Config{}, WithRegisterer(reg), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	seed(t, store, "E1", plan.APICalls, counter.Day, 5)

	limits := map[counter.Window]plan.Limit{counter.Day: plan.Of(5)}
	l.CheckEntity(context.Background(), Request{EntityID: "E1"}, limits)
	l.CheckEntity(context.Background(), Request{EntityID: "E2"}, limits)

	assert.Equal(t, float64(1), testutil.ToFloat64(l.metrics.decisions.WithLabelValues("denied", errcode.ReasonQuotaExceeded)))
	assert.Equal(t, float64(1), testutil.ToFloat64(l.metrics.decisions.WithLabelValues("allowed", "none")))
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 50*time.Millisecond, cfg.OpTimeout)
	assert.Equal(t, int64(600), cfg.OriginLimit)
	assert.Equal(t, "api_calls", cfg.Operations[DefaultOperation].Metric)
	require.NoError(t, cfg.Validate())

	_, err := New(memStore(t), Config{Operations: map[string]OperationConfig{"x": {Metric: "cpu"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "operation 'x'")

	bad := DefaultConfig()
	bad.OpTimeout = time.Microsecond
	err = bad.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	var fieldErrs validation.Errors
	require.ErrorAs(t, err, &fieldErrs, "the ozzo cause stays reachable")
	assert.Contains(t, fieldErrs, "OpTimeout")

	cause := errors.New("boom")
	assert.ErrorIs(t, &ValidationError{Field: "op_timeout", Err: cause}, cause)
	assert.ErrorIs(t, &ValidationError{Message: "no cause"}, ErrInvalidConfig)
}

func TestOperationFallsBackToDefault(t *testing.T) {
	l := newLimiter(t, memStore(t))
	assert.Equal(t, plan.Validations, l.Operation("validate").Metric)
	assert.Equal(t, plan.APICalls, l.Operation("unknown").Metric)
	assert.Equal(t, DefaultOperation, l.Operation("").Name)
}

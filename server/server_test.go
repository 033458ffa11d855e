package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KOMKZ/go-yogan-meter/counter"
	"github.com/KOMKZ/go-yogan-meter/engine"
	"github.com/KOMKZ/go-yogan-meter/entity"
	"github.com/KOMKZ/go-yogan-meter/errcode"
	"github.com/KOMKZ/go-yogan-meter/plan"
	"github.com/KOMKZ/go-yogan-meter/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

type fixture struct {
	engine   *engine.Engine
	entities *entity.MemoryStore
	handler  http.Handler
}

func newFixture(t *testing.T, mutate func(*engine.Config)) *fixture {
	t.Helper()
	entities := entity.NewMemoryStore(entity.Limits{
		EntityID: "acme",
		Tier:     plan.Free,
		Status:   entity.Active,
		Overrides: plan.Limits{
			plan.APICalls: {counter.Hour: plan.Unlimited(), counter.Day: plan.Of(100)},
		},
	})
	cfg := engine.DefaultConfig()
	cfg.Server.Mode = "test"
	if mutate != nil {
		mutate(&cfg)
	}
	eng, err := engine.New(cfg,
		engine.WithClock(func() time.Time { return now }),
		engine.WithEntityStore(entities),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })
	return &fixture{engine: eng, entities: entities, handler: New(eng).Handler()}
}

func (f *fixture) post(t *testing.T, path string, body interface{}) *testutil.Response {
	t.Helper()
	return testutil.POST(path).JSON(body).Do(t, f.handler)
}

func (f *fixture) get(t *testing.T, path string) *testutil.Response {
	t.Helper()
	return testutil.GET(path).Do(t, f.handler)
}

func TestCheck_Allowed(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.post(t, "/usage/check", map[string]interface{}{
		"entity_id": "acme", "operation": "default", "authenticated": true,
	})
	require.Equal(t, http.StatusOK, resp.Status())
	d := resp.Data()
	assert.Equal(t, true, d["allowed"])
	assert.Equal(t, float64(100), d["remaining"])
	assert.Equal(t, "day", d["window"])
	assert.NotEmpty(t, d["reset_at"])
}

func TestCheck_QuotaExceeded(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.Store().IncrBy(context.Background(), counter.UsageKey("acme", "api_calls", counter.Day, now), 100, counter.Day.TTL())
	require.NoError(t, err)

	resp := f.post(t, "/usage/check", map[string]interface{}{"entity_id": "acme", "authenticated": true})
	require.Equal(t, http.StatusTooManyRequests, resp.Status())
	assert.Equal(t, errcode.ErrQuotaExceeded.Code(), resp.Envelope().Code)
	d := resp.Data()
	assert.Equal(t, "quota_exceeded", d["reason"])
	assert.Equal(t, float64(11*3600+30*60), d["retry_after"])
	assert.Equal(t, "41400", resp.Header("Retry-After"))
}

func TestCheck_RateLimitedByOrigin(t *testing.T) {
	f := newFixture(t, func(c *engine.Config) { c.Limiter.OriginLimit = 1 })
	body := map[string]interface{}{"entity_id": "acme", "origin": "203.0.113.9", "authenticated": true}

	require.Equal(t, http.StatusOK, f.post(t, "/usage/check", body).Status())

	resp := f.post(t, "/usage/check", body)
	require.Equal(t, http.StatusTooManyRequests, resp.Status())
	assert.Equal(t, "rate_limited", resp.Data()["reason"])
	assert.NotEmpty(t, resp.Header("Retry-After"))
}

func TestCheck_RateLimitedByClientIPWithoutOrigin(t *testing.T) {
	f := newFixture(t, func(c *engine.Config) { c.Limiter.OriginLimit = 1 })
	body := map[string]interface{}{"entity_id": "acme", "authenticated": true}

	require.Equal(t, http.StatusOK, f.post(t, "/usage/check", body).Status())

	resp := f.post(t, "/usage/check", body)
	require.Equal(t, http.StatusTooManyRequests, resp.Status())
	assert.Equal(t, "rate_limited", resp.Data()["reason"])

	resp = testutil.POST("/usage/check").JSON(body).Header("X-Forwarded-For", "198.51.100.7").Do(t, f.handler)
	assert.Equal(t, http.StatusOK, resp.Status(), "another client has its own bucket")
}

func TestCheck_Errors(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.post(t, "/usage/check", map[string]interface{}{"entity_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, resp.Status())
	assert.Equal(t, errcode.ErrEntityNotFound.Code(), resp.Envelope().Code)

	resp = f.post(t, "/usage/check", map[string]interface{}{"operation": "default"})
	assert.Equal(t, http.StatusBadRequest, resp.Status())
	assert.Equal(t, errcode.ErrInvalidRequest.Code(), resp.Envelope().Code)
}

func TestUsageLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	record := func(amount int) {
		resp := f.post(t, "/usage/record", map[string]interface{}{
			"entity_id": "acme", "metric": "api_calls", "amount": amount,
		})
		require.Equal(t, http.StatusAccepted, resp.Status(), resp.Body())
		f.engine.Flush()
	}

	record(79)
	resp := f.get(t, "/usage/status/acme")
	require.Equal(t, http.StatusOK, resp.Status())
	assert.Empty(t, resp.Data()["violations"])

	record(1)
	violations := f.get(t, "/usage/status/acme").Data()["violations"].([]interface{})
	require.Len(t, violations, 1)
	assert.Equal(t, "warning", violations[0].(map[string]interface{})["severity"])
	assert.Equal(t, 0, f.entities.Suspensions("acme"))

	record(20)
	record(3)
	assert.Equal(t, 1, f.entities.Suspensions("acme"))

	resp = f.post(t, "/usage/check", map[string]interface{}{"entity_id": "acme", "authenticated": true})
	assert.Equal(t, http.StatusForbidden, resp.Status())
	assert.Equal(t, errcode.ErrEntitySuspended.Code(), resp.Envelope().Code)
	assert.Equal(t, "entity_suspended", resp.Data()["reason"])

	resp = testutil.GET("/alerts").Query("category", "business").Do(t, f.handler)
	require.Equal(t, http.StatusOK, resp.Status())
	list := resp.Data()
	require.Equal(t, float64(1), list["count"])
	id := list["alerts"].([]interface{})[0].(map[string]interface{})["id"].(string)

	resp = f.post(t, "/alerts/"+id+"/resolve", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.Status())

	resp = f.post(t, "/alerts/"+id+"/resolve", map[string]interface{}{"resolved_by": "ops@acme"})
	require.Equal(t, http.StatusOK, resp.Status())
	assert.Equal(t, "ops@acme", resp.Data()["resolved_by"])

	resp = f.post(t, "/alerts/"+id+"/resolve", map[string]interface{}{"resolved_by": "ops@acme"})
	assert.Equal(t, http.StatusConflict, resp.Status())
	assert.Equal(t, errcode.ErrAlertAlreadyResolved.Code(), resp.Envelope().Code)

	resp = f.post(t, "/alerts/nope/resolve", map[string]interface{}{"resolved_by": "ops@acme"})
	assert.Equal(t, http.StatusNotFound, resp.Status())
}

func TestRecord_Invalid(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.post(t, "/usage/record", map[string]interface{}{"entity_id": "acme", "metric": "coffee"})
	assert.Equal(t, http.StatusBadRequest, resp.Status())
	assert.Equal(t, errcode.ErrUnknownMetric.Code(), resp.Envelope().Code)

	resp = f.post(t, "/usage/record", map[string]interface{}{"metric": "api_calls"})
	assert.Equal(t, http.StatusBadRequest, resp.Status())
}

func TestAlerts_InvalidFilter(t *testing.T) {
	f := newFixture(t, nil)

	resp := testutil.GET("/alerts").Query("severity", "loud").Do(t, f.handler)
	assert.Equal(t, http.StatusBadRequest, resp.Status())
	assert.Equal(t, errcode.ErrInvalidRequest.Code(), resp.Envelope().Code)

	resp = f.get(t, "/alerts")
	require.Equal(t, http.StatusOK, resp.Status())
	assert.Equal(t, float64(0), resp.Data()["count"])
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.get(t, "/health")
	require.Equal(t, http.StatusServiceUnavailable, resp.Status(), "no report before the first run")
	assert.Equal(t, errcode.ErrUnavailable.Code(), resp.Envelope().Code)

	f.engine.Health.Run(context.Background())
	resp = f.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.Status())
	assert.Equal(t, "healthy", resp.Data()["status"])

	gone := httptest.NewServer(http.NotFoundHandler())
	gone.Close()
	f = newFixture(t, func(c *engine.Config) {
		c.Health.Gateways = []engine.GatewayConfig{{Name: "billing", URL: gone.URL}}
	})
	f.engine.Health.Run(context.Background())
	resp = f.get(t, "/health")
	require.Equal(t, http.StatusServiceUnavailable, resp.Status())
	report := resp.Data()
	assert.Equal(t, "critical", report["status"])
	checks := report["checks"].(map[string]interface{})
	require.Contains(t, checks, "gateway:billing")
	assert.Equal(t, "critical", checks["gateway:billing"].(map[string]interface{})["status"])
}

func TestMetricsHistory(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.Metrics.Collect(context.Background())
	require.NoError(t, err)

	resp := testutil.GET("/metrics/history").
		Query("start", now.Add(-10*time.Minute).Format(time.RFC3339)).
		Query("end", now.Format(time.RFC3339)).
		Query("granularity", "minute").
		Do(t, f.handler)
	require.Equal(t, http.StatusOK, resp.Status())
	assert.Len(t, resp.Data()["points"], 1)

	resp = testutil.GET("/metrics/history").Query("granularity", "day").Do(t, f.handler)
	assert.Equal(t, http.StatusBadRequest, resp.Status())
	assert.Equal(t, errcode.ErrInvalidRange.Code(), resp.Envelope().Code)

	resp = testutil.GET("/metrics/history").Query("start", "yesterday").Do(t, f.handler)
	assert.Equal(t, http.StatusBadRequest, resp.Status())
}

func TestOperationalEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusOK, f.get(t, "/livez").Status())

	resp := f.get(t, "/nowhere")
	assert.Equal(t, http.StatusNotFound, resp.Status())
	assert.Equal(t, errcode.ErrNotFound.Code(), resp.Envelope().Code)

	resp = f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.Status())
	assert.Contains(t, resp.Body(), "meter_http_request_duration_seconds")
	assert.Contains(t, resp.Body(), `route="unmatched"`)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, int64(0), retryAfterSeconds(0))
	assert.Equal(t, int64(1), retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, int64(2), retryAfterSeconds(2*time.Second))
	assert.Equal(t, int64(3), retryAfterSeconds(2001*time.Millisecond))
}

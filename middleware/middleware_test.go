package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/KOMKZ/go-yogan-meter/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(r http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTraceID(t *testing.T) {
	r := gin.New()
	r.Use(TraceID())
	var fromCtx, fromGin string
	r.GET("/x", func(c *gin.Context) {
		fromCtx = logger.TraceID(c.Request.Context())
		fromGin = GetTraceID(c)
	})

	w := do(r, "/x", map[string]string{TraceIDHeader: "abc-123"})
	assert.Equal(t, "abc-123", w.Header().Get(TraceIDHeader))
	assert.Equal(t, "abc-123", fromCtx)
	assert.Equal(t, "abc-123", fromGin)

	w = do(r, "/x", nil)
	generated := w.Header().Get(TraceIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, fromCtx)
}

func TestRequestLog(t *testing.T) {
	log, logs := logger.NewTestLogger("http")
	r := gin.New()
	r.Use(TraceID(), RequestLog(DefaultRequestLogConfig(), log))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })
	r.GET("/livez", func(c *gin.Context) { c.Status(http.StatusOK) })

	do(r, "/ok", map[string]string{TraceIDHeader: "t-1"})
	do(r, "/missing", nil)
	do(r, "/boom", nil)
	do(r, "/livez", nil)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "t-1", entries[0].ContextMap()["trace_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestRecovery(t *testing.T) {
	log, logs := logger.NewTestLogger("http")
	r := gin.New()
	r.Use(Recovery(log))
	r.GET("/panic", func(c *gin.Context) { panic("secret detail") })

	w := do(r, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret detail")
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestMetrics(t *testing.T) {
	stats := metrics.NewRequestStats()
	reg := prometheus.NewRegistry()
	r := gin.New()
	r.Use(Metrics(stats, reg))
	r.GET("/usage/status/:entity_id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	do(r, "/usage/status/E1", nil)
	do(r, "/usage/status/E2", nil)
	do(r, "/fail", nil)

	app, err := stats.CollectApplication(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, app.Requests)
	assert.EqualValues(t, 1, app.Errors)

	n, err := testutil.GatherAndCount(reg, "meter_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

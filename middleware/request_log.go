package middleware

import (
	"time"

	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogConfig configures RequestLog
type RequestLogConfig struct {
	// SkipPaths are never logged (probes, scrapes)
	SkipPaths []string `mapstructure:"skip_paths"`
}

// DefaultRequestLogConfig skips the liveness and scrape endpoints
func DefaultRequestLogConfig() RequestLogConfig {
	return RequestLogConfig{SkipPaths: []string{"/livez", "/metrics"}}
}

// RequestLog writes one structured entry per request. 5xx logs at error,
// 4xx at warn, the rest at info.
func RequestLog(cfg RequestLogConfig, log *logger.CtxZapLogger) gin.HandlerFunc {
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}
	if log == nil {
		log = logger.GetLogger("http")
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("body_size", c.Writer.Size()),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			fields = append(fields, zap.String("error", errs))
		}

		ctx := c.Request.Context()
		switch {
		case status >= 500:
			log.ErrorCtx(ctx, "http request", fields...)
		case status >= 400:
			log.WarnCtx(ctx, "http request", fields...)
		default:
			log.InfoCtx(ctx, "http request", fields...)
		}
	}
}

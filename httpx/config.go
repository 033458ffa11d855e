// Package httpx holds the JSON envelope, error mapping and typed handler
// wrapper shared by the HTTP surface.
package httpx

import (
	"context"

	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorLoggingConfig controls how HandleError logs failures
type ErrorLoggingConfig struct {
	Enable bool `mapstructure:"enable" json:"enable"`

	// IgnoreHTTPStatus lists statuses that are never logged
	IgnoreHTTPStatus []int `mapstructure:"ignore_http_status" json:"ignore_http_status"`

	// FullErrorChain adds the wrapped cause to the log entry
	FullErrorChain bool `mapstructure:"full_error_chain" json:"full_error_chain"`

	// LogLevel is error, warn or info
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// DefaultErrorLoggingConfig logs server-side failures and skips expected
// client outcomes such as denials and validation errors
func DefaultErrorLoggingConfig() ErrorLoggingConfig {
	return ErrorLoggingConfig{
		Enable:           true,
		IgnoreHTTPStatus: []int{400, 403, 404, 409, 429},
		FullErrorChain:   true,
		LogLevel:         "error",
	}
}

const errorPolicyKey = "httpx:error_policy"

// errorPolicy is the resolved form of ErrorLoggingConfig
type errorPolicy struct {
	enabled bool
	ignore  map[int]bool
	chain   bool
	level   string
}

var defaultErrorPolicy = errorPolicy{level: "error"}

func (c ErrorLoggingConfig) policy() errorPolicy {
	ignore := make(map[int]bool, len(c.IgnoreHTTPStatus))
	for _, status := range c.IgnoreHTTPStatus {
		ignore[status] = true
	}
	return errorPolicy{enabled: c.Enable, ignore: ignore, chain: c.FullErrorChain, level: c.LogLevel}
}

func (p errorPolicy) logs(status int) bool {
	return p.enabled && !p.ignore[status]
}

func (p errorPolicy) write(ctx context.Context, msg string, fields ...zap.Field) {
	log := logger.GetLogger("httpx")
	switch p.level {
	case "warn":
		log.WarnCtx(ctx, msg, fields...)
	case "info":
		log.InfoCtx(ctx, msg, fields...)
	default:
		log.ErrorCtx(ctx, msg, fields...)
	}
}

// ErrorLoggingMiddleware makes cfg visible to HandleError
func ErrorLoggingMiddleware(cfg ErrorLoggingConfig) gin.HandlerFunc {
	p := cfg.policy()
	return func(c *gin.Context) {
		c.Set(errorPolicyKey, p)
		c.Next()
	}
}

func policyOf(c *gin.Context) errorPolicy {
	if v, ok := c.Get(errorPolicyKey); ok {
		if p, ok := v.(errorPolicy); ok {
			return p
		}
	}
	return defaultErrorPolicy
}

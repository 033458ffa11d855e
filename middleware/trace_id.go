// Package middleware holds the gin middleware of the HTTP surface
package middleware

import (
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TraceIDKey is the gin.Context key holding the trace id
	TraceIDKey = "trace_id"

	// TraceIDHeader carries the trace id in and out
	TraceIDHeader = "X-Trace-ID"
)

// TraceID takes the trace id from an active OpenTelemetry span, else from
// the X-Trace-ID header, else generates one. The id is stored on the
// request context for the loggers and echoed in the response header.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		var traceID string
		if sc := trace.SpanFromContext(c.Request.Context()).SpanContext(); sc.IsValid() {
			traceID = sc.TraceID().String()
		} else if traceID = c.GetHeader(TraceIDHeader); traceID == "" || len(traceID) > 128 {
			traceID = uuid.NewString()
		}

		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), traceID))
		c.Set(TraceIDKey, traceID)
		c.Writer.Header().Set(TraceIDHeader, traceID)
		c.Next()
	}
}

// GetTraceID returns the trace id set by TraceID
func GetTraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}

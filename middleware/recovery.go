package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/KOMKZ/go-yogan-meter/errcode"
	"github.com/KOMKZ/go-yogan-meter/httpx"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery turns a handler panic into a 500 envelope and logs the stack.
// The panic value is never sent to the client.
func Recovery(log *logger.CtxZapLogger) gin.HandlerFunc {
	if log == nil {
		log = logger.GetLogger("http")
	}
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.ErrorCtx(c.Request.Context(), "panic recovered",
					zap.Any("panic", r),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("stack", string(debug.Stack())))
				c.AbortWithStatusJSON(http.StatusInternalServerError, httpx.Response{
					Code: errcode.ErrInternal.Code(),
					Msg:  errcode.ErrInternal.Message(),
				})
			}
		}()
		c.Next()
	}
}

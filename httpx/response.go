package httpx

import (
	"errors"
	"net/http"

	"github.com/KOMKZ/go-yogan-meter/errcode"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the JSON envelope of every API answer
type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// OkJson writes a 200 success envelope
func OkJson(c *gin.Context, data interface{}) {
	JSON(c, http.StatusOK, data)
}

// JSON writes a success envelope with the given status
func JSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Code: 0, Msg: "success", Data: data})
}

// NoRouteHandler answers unknown routes
func NoRouteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusNotFound, Response{
			Code: errcode.ErrNotFound.Code(),
			Msg:  "route not found: " + c.Request.Method + " " + c.Request.URL.Path,
		})
	}
}

// NoMethodHandler answers known routes called with the wrong method
func NoMethodHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, Response{
			Code: http.StatusMethodNotAllowed,
			Msg:  "method not allowed: " + c.Request.Method + " " + c.Request.URL.Path,
		})
	}
}

// HandleError maps err to a response. A LayeredError carries its own status,
// code, message and data; anything else is a 500 whose cause is only logged.
func HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	ctx := c.Request.Context()
	policy := policyOf(c)

	var layered *errcode.LayeredError
	if !errors.As(err, &layered) {
		if policy.enabled {
			logger.GetLogger("httpx").ErrorCtx(ctx, "unhandled error", zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, Response{
			Code: errcode.ErrInternal.Code(),
			Msg:  errcode.ErrInternal.Message(),
		})
		return
	}

	if policy.logs(layered.HTTPStatus()) {
		fields := []zap.Field{
			zap.Int("error_code", layered.Code()),
			zap.String("error_msg", layered.Message()),
		}
		if policy.chain {
			fields = append(fields, zap.String("error_chain", layered.String()), zap.Error(err))
		}
		policy.write(ctx, "request failed", fields...)
	}

	c.JSON(layered.HTTPStatus(), Response{
		Code: layered.Code(),
		Msg:  layered.Message(),
		Data: layered.Data(),
	})
}

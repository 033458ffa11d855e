package httpx

import (
	"net/http"

	"github.com/KOMKZ/go-yogan-meter/validator"
	"github.com/gin-gonic/gin"
)

// HandlerFunc is a typed handler. Req uses uri, form and json tags.
type HandlerFunc[Req any, Resp any] func(c *gin.Context, req *Req) (*Resp, error)

// Wrap binds and validates the request, runs handler and writes a 200
func Wrap[Req any, Resp any](handler HandlerFunc[Req, Resp]) gin.HandlerFunc {
	return WrapStatus(http.StatusOK, handler)
}

// WrapStatus is Wrap with a custom success status
func WrapStatus[Req any, Resp any](status int, handler HandlerFunc[Req, Resp]) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Req
		if err := Parse(c, &req); err != nil {
			HandleError(c, err)
			return
		}
		if v, ok := any(&req).(validator.Validatable); ok {
			if err := validator.ValidateRequest(v); err != nil {
				HandleError(c, err)
				return
			}
		}

		resp, err := handler(c, &req)
		if err != nil {
			HandleError(c, err)
			return
		}
		JSON(c, status, resp)
	}
}

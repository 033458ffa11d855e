package httpx

import (
	"github.com/KOMKZ/go-yogan-meter/errcode"
	"github.com/gin-gonic/gin"
)

// Parse binds path, query and JSON body parameters into req. Path and query
// binding are best effort; a malformed body is an invalid request.
func Parse(c *gin.Context, req interface{}) error {
	_ = c.ShouldBindUri(req)
	_ = c.ShouldBindQuery(req)

	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(req); err != nil {
			return errcode.ErrInvalidRequest.WithMsgf("invalid request body: %v", err).Wrap(err)
		}
	}
	return nil
}

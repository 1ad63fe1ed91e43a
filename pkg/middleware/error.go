package middleware

import (
	"net/http"

	"ecoquest/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse is the failure envelope shared by every endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

// Error renders the last error attached with c.Error. Authentication
// failures are always 401; everything else is 500 unless strict is set, in
// which case the errutil status decides.
func Error(strict bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		status := errutil.StatusOf(last.Err)
		code := http.StatusInternalServerError
		switch {
		case status == errutil.StatusUnauthorized:
			code = http.StatusUnauthorized
		case strict:
			code = status.HTTPStatus()
		}

		log := zap.L().With(
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("status", string(status)),
		)
		switch status {
		case errutil.StatusInternal, errutil.StatusBadGateway, errutil.StatusUnknown:
			log.Error("request failed", zap.Error(last.Err))
		default:
			log.Info("request rejected", zap.Error(last.Err))
		}

		c.AbortWithStatusJSON(code, ErrorResponse{
			Error:   errutil.MessageOf(last.Err),
			Success: false,
		})
	}
}

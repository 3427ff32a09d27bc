package middleware

import (
	"net/http"

	"github.com/arencloud/s3keeper/internal/logging"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
)

func Recoverer(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered", "error", rec, "method", c.Request.Method, "path", c.Request.URL.Path, "requestId", requestid.Get(c))
				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "internal error"})
					return
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}

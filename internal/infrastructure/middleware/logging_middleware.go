package middleware

import (
	"time"

	"pixelrelay/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequestLogMiddleware logs every REST request once it completes, tagged
// with the trace id when TracingMiddleware ran first.
func RequestLogMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		cl.LogRequest(c.Request.Context(), c.Request.Method, path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}

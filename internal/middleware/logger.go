package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/towndir/pkg/logger"
)

// Logger returns a middleware that logs HTTP requests. The route pattern
// is logged rather than the raw path so link tokens never reach the logs.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		statusCode := c.Writer.Status()
		fields := []interface{}{
			"request_id", c.GetString(ContextRequestID),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"status", statusCode,
			"duration", time.Since(start).String(),
			"user_agent", c.Request.UserAgent(),
		}

		// Log based on status code
		switch {
		case statusCode >= 500:
			log.Error(c.Errors.Last(), "Server error", fields...)
		case statusCode >= 400:
			log.Warn("Client error", fields...)
		default:
			log.Info("Request processed", fields...)
		}
	}
}

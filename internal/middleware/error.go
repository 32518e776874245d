package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/towndir/internal/handler"
	"github.com/jwalitptl/towndir/pkg/logger"
)

// ErrorHandler logs server failures attached with c.Error and renders the
// envelope when the handler did not write a response itself.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only handle errors if they exist
		if len(c.Errors) == 0 {
			return
		}

		lastErr := c.Errors.Last().Err
		appErr := handler.AsAppError(lastErr)
		status := appErr.StatusCode()

		if status >= http.StatusInternalServerError {
			log.WithContext(c.Request.Context()).Error(lastErr, "Request error",
				"path", c.FullPath(),
				"method", c.Request.Method,
			)
		}

		if c.Writer.Written() {
			return
		}
		c.JSON(status, handler.NewErrorResponse(appErr.Message))
	}
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"unitwork/internal/core/apperror"
	"unitwork/pkg/logger"
)

// Logger logs every request with timing and status, and makes log available to
// handlers through the request context. Conflicts are logged at warn; they are an
// expected outcome of optimistic concurrency, not a server fault.
func Logger(log *logger.Logger) gin.HandlerFunc {
	log = log.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logger.WithLogger(c.Request.Context(), log))

		c.Next()

		status := c.Writer.Status()
		kv := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"query", c.Request.URL.RawQuery,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		entry := log.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			entry.Errorw("http request", append(kv, "error", c.Errors.String())...)
		case len(c.Errors) > 0 && apperror.IsConflict(c.Errors.Last().Err):
			entry.Warnw("http request", append(kv, "conflict", c.Errors.Last().Error())...)
		default:
			entry.Infow("http request", kv...)
		}
	}
}

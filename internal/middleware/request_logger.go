package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ukuvago/contractdesk/internal/logger"
)

// RequestLogger logs incoming requests and their responses. Token-bearing
// public paths are logged by route pattern so secrets stay out of the logs.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		attrs := []any{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}

		log := logger.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			log.Error("request completed", attrs...)
		case status >= 400:
			log.Warn("request completed", attrs...)
		default:
			log.Info("request completed", attrs...)
		}
	}
}

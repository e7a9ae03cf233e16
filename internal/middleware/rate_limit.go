package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ukuvago/contractdesk/internal/logger"
)

// RateLimiter is a fixed-window request counter per client IP.
type RateLimiter struct {
	mu        sync.Mutex
	counts    map[string]int
	lastReset time.Time
	rate      int
	window    time.Duration
	now       func() time.Time
}

func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counts:    make(map[string]int),
		lastReset: time.Now(),
		rate:      rate,
		window:    window,
		now:       time.Now,
	}
}

// Allow counts one request from key and reports whether it is within the limit.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now := l.now(); now.Sub(l.lastReset) > l.window {
		l.counts = make(map[string]int)
		l.lastReset = now
	}

	if l.counts[key] >= l.rate {
		return false
	}
	l.counts[key]++
	return true
}

// RateLimit middleware limits requests per IP
func RateLimit(rate int, window time.Duration) gin.HandlerFunc {
	limiter := NewRateLimiter(rate, window)

	return func(c *gin.Context) {
		if rate <= 0 {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		if !limiter.Allow(clientIP) {
			logger.Warn(c.Request.Context(), "rate limit exceeded", "client_ip", clientIP)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			return
		}

		c.Next()
	}
}

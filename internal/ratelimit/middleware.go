package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Middleware rejects requests over the category limit with 429. The
// X-RateLimit headers are set on every response.
func (l *Limiter) Middleware(category string) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := l.Check(c.ClientIP(), category)

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(d.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Too many requests. Try again later.",
				"retryAfter": d.RetryAfter,
			})
			return
		}
		c.Next()
	}
}

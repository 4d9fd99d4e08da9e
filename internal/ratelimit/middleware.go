package ratelimit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// LocalGuard creates an in-process burst guard in front of the
// distributed check. It protects this instance from local overload even
// when the store-backed limiter is failing open.
func LocalGuard(requestsPerSecond, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Middleware creates rate limiting middleware evaluating the named
// policies, each keyed by its own scope: global policies share one
// counter across all callers, per-IP uses the client IP, per-user the
// X-User-Id header, per-endpoint the matched route. Any denial aborts
// with 429 and Retry-After; successful responses carry the headers of
// the policy with the least remaining capacity.
func Middleware(m *Manager, policies ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := Identity{
			IP:       c.ClientIP(),
			User:     c.GetHeader("X-User-Id"),
			Endpoint: c.FullPath(),
		}
		check := m.CheckScoped(c.Request.Context(), identity, policies...)

		for key, value := range Headers(check) {
			c.Header(key, value)
		}

		if check.Result == ResultDenied {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": int64(check.RetryAfter.Seconds()),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

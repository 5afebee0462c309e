package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/logger"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/ratelimit"
)

// SecurityHeaders adds security-related headers to all responses
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Referrer-Policy", "no-referrer")

		// Approval links must never be served from a cache
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")

		c.Next()
	}
}

// RateLimiter is what RateLimit needs from a limiter.
type RateLimiter interface {
	Allow(key string) (bool, time.Duration)
	RetryAfterSeconds(wait time.Duration) int
}

var _ RateLimiter = (*ratelimit.Limiter)(nil)

// RateLimit throttles requests per client IP. Rejected requests get 429 with
// a Retry-After header. onLimited may be nil.
func RateLimit(limiter RateLimiter, scope string, log *zap.Logger, onLimited func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		ok, wait := limiter.Allow(ip)
		if ok {
			c.Next()
			return
		}

		retryAfter := limiter.RetryAfterSeconds(wait)
		log.Warn("Rate limit exceeded",
			logger.SecurityEvent(logger.EventRateLimited),
			zap.String("scope", scope),
			zap.String("client_ip", ip),
			zap.String("path", c.Request.URL.Path),
			zap.Int("retry_after", retryAfter),
		)
		if onLimited != nil {
			onLimited()
		}

		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "Rate limit exceeded. Please try again later.",
			"code":        http.StatusTooManyRequests,
			"retry_after": retryAfter,
		})
	}
}

package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/goranbacvar/Cyviz/internal/cmap"
)

// APIKeyAuth rejects requests whose X-Api-Key header does not match
// key, using a constant-time comparison to avoid timing side channels
// on the shared secret.
func APIKeyAuth(key string) gin.HandlerFunc {
	want := []byte(key)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("X-Api-Key"))
		if len(got) != len(want) || subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

// rateLimiters is a per-IP registry of token-bucket limiters guarding
// the submission facade from a single abusive caller.
var rateLimiters = cmap.New[*rate.Limiter]()

// RateLimit allows perSecond requests per second per client IP,
// bursting up to burst.
func RateLimit(perSecond float64, burst int) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter, ok := rateLimiters.Get(ip)
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
			if !rateLimiters.SetIfAbsent(ip, limiter) {
				limiter, _ = rateLimiters.Get(ip)
			}
		}
		if !limiter.Allow() {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}

func init() {
	// Keep the per-IP limiter registry from growing without bound
	// across a long-running process.
	go func() {
		for range time.NewTicker(time.Hour).C {
			if rateLimiters.Count() > 10000 {
				rateLimiters = cmap.New[*rate.Limiter]()
			}
		}
	}()
}

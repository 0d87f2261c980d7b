package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jellydator/ttlcache/v2"
	"golang.org/x/time/rate"
)

type RateLimiterConfig struct {
	RequestsPerSecond int
	Burst             int
	// TTL is how long an idle visitor's limiter is kept
	TTL time.Duration
}

// RateLimiterMiddleware limits requests per client IP.
func RateLimiterMiddleware(config RateLimiterConfig) gin.HandlerFunc {
	if config.TTL == 0 {
		config.TTL = 3 * time.Minute
	}

	if config.Burst == 0 {
		config.Burst = config.RequestsPerSecond * 2
	}

	visitors := ttlcache.NewCache()
	visitors.SetTTL(config.TTL)
	visitors.SkipTTLExtensionOnHit(false)
	visitors.SetLoaderFunction(func(string) (any, time.Duration, error) {
		return rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst), config.TTL, nil
	})

	return func(c *gin.Context) {
		v, err := visitors.Get(c.ClientIP())
		if err != nil {
			c.Next()
			return
		}

		if !v.(*rate.Limiter).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":     "Too many requests",
				"requestID": c.GetString("requestID"),
			})
			return
		}

		c.Next()
	}
}

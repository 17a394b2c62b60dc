package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/flowdesk/backend/pkg/auth"
	"github.com/flowdesk/backend/pkg/constants"
)

// clientLimiter holds one token bucket per client key (IP before auth).
// Entries are never evicted; the key space is bounded by active clients and
// a restart clears it.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func (cl *clientLimiter) get(key string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	limiter, ok := cl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(cl.r, cl.burst)
		cl.limiters[key] = limiter
	}
	return limiter
}

// RateLimit returns a per-client-IP rate limiting middleware. Used on the
// auth endpoints to slow down credential stuffing.
func RateLimit(perSecond float64, burst int) gin.HandlerFunc {
	cl := &clientLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(perSecond),
		burst:    burst,
	}

	return func(c *gin.Context) {
		if !cl.get(c.ClientIP()).Allow() {
			rejectRateLimited(c)
			return
		}
		c.Next()
	}
}

// RateLimitPerUser returns a rate limiting middleware keyed by the
// authenticated user ID. Must run after the auth middleware; requests with
// no user fall back to the client IP.
func RateLimitPerUser(perSecond float64, burst int) gin.HandlerFunc {
	cl := &clientLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(perSecond),
		burst:    burst,
	}

	return func(c *gin.Context) {
		key := c.ClientIP()
		if v, exists := c.Get(constants.ContextKeyUser); exists {
			if user, ok := v.(*auth.UserSession); ok {
				key = user.ID
			}
		}
		if !cl.get(key).Allow() {
			rejectRateLimited(c)
			return
		}
		c.Next()
	}
}

func rejectRateLimited(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, gin.H{
		constants.ResponseError: "Too Many Requests",
		constants.FieldMessage:  "Rate limit exceeded, slow down",
		"code":                  "RATE_LIMITED",
		"data":                  nil,
	})
	c.Abort()
}

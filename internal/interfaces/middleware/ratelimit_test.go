package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/flowdesk/backend/pkg/auth"
	"github.com/flowdesk/backend/pkg/constants"
)

func newUserLimitedRouter(perSecond float64, burst int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			c.Set(constants.ContextKeyUser, &auth.UserSession{ID: id})
		}
		c.Next()
	})
	router.Use(RateLimitPerUser(perSecond, burst))
	router.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func doPing(router *gin.Engine, userID string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
	}
	router.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimitPerUserThrottlesSingleUser(t *testing.T) {
	router := newUserLimitedRouter(1, 2)

	assert.Equal(t, http.StatusOK, doPing(router, "u-1"))
	assert.Equal(t, http.StatusOK, doPing(router, "u-1"))
	assert.Equal(t, http.StatusTooManyRequests, doPing(router, "u-1"))
}

func TestRateLimitPerUserIsolatesUsers(t *testing.T) {
	router := newUserLimitedRouter(1, 1)

	assert.Equal(t, http.StatusOK, doPing(router, "u-1"))
	assert.Equal(t, http.StatusTooManyRequests, doPing(router, "u-1"))

	// A second user has their own bucket
	assert.Equal(t, http.StatusOK, doPing(router, "u-2"))
}

func TestRateLimitPerUserFallsBackToIP(t *testing.T) {
	router := newUserLimitedRouter(1, 1)

	assert.Equal(t, http.StatusOK, doPing(router, ""))
	assert.Equal(t, http.StatusTooManyRequests, doPing(router, ""))
}

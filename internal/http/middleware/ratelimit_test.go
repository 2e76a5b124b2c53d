package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestDeviceThrottleAllowsOnePerWindow(t *testing.T) {
	throttle := NewDeviceThrottle(time.Minute)

	require.True(t, throttle.Allow("device-a"))
	require.False(t, throttle.Allow("device-a"))

	// Other keys have their own budget.
	require.True(t, throttle.Allow("device-b"))
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var throttle *RateLimiter
	require.True(t, throttle.Allow("anything"))

	require.Nil(t, NewDeviceThrottle(0))
	require.Nil(t, NewIPRateLimiter(0))
}

func TestIPRateLimiterHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := NewIPRateLimiter(60) // 1 rps, burst 6
	router := gin.New()
	router.Use(limiter.Handler())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	var tooMany bool
	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "203.0.113.5:1234"
		router.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			tooMany = true
			break
		}
	}
	require.True(t, tooMany, "burst exhaustion must return 429")
}

package middleware

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(window time.Duration) *rateLimiter {
	return &rateLimiter{
		window:        window,
		sweepInterval: window,
		last:          make(map[string]time.Time),
		now:           time.Now,
	}
}

func TestRateLimiterHandle_BlocksWithinWindow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := newTestLimiter(10 * time.Second)

	c1, _ := gin.CreateTestContext(httptest.NewRecorder())
	c1.Request = httptest.NewRequest("POST", "/api/v1/pipeline/trigger", nil)
	limiter.handle(c1)
	require.False(t, c1.IsAborted())

	c2, _ := gin.CreateTestContext(httptest.NewRecorder())
	c2.Request = httptest.NewRequest("POST", "/api/v1/pipeline/trigger", nil)
	limiter.handle(c2)
	require.True(t, c2.IsAborted())
}

func TestRateLimiterHandle_DistinctPathsIndependent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := newTestLimiter(10 * time.Second)

	c1, _ := gin.CreateTestContext(httptest.NewRecorder())
	c1.Request = httptest.NewRequest("POST", "/api/v1/pipeline/trigger", nil)
	limiter.handle(c1)
	require.False(t, c1.IsAborted())

	c2, _ := gin.CreateTestContext(httptest.NewRecorder())
	c2.Request = httptest.NewRequest("POST", "/api/v1/articles", nil)
	limiter.handle(c2)
	require.False(t, c2.IsAborted())
}

func TestRateLimiterCleanupExpiredLocked_RemovesExpiredEntries(t *testing.T) {
	limiter := newTestLimiter(10 * time.Second)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	limiter.last["1.2.3.4|/api/v1/articles"] = base.Add(-time.Minute)
	limiter.last["5.6.7.8|/api/v1/articles"] = base.Add(-time.Second)

	limiter.mu.Lock()
	limiter.cleanupExpiredLocked(base)
	limiter.mu.Unlock()

	require.NotContains(t, limiter.last, "1.2.3.4|/api/v1/articles")
	require.Contains(t, limiter.last, "5.6.7.8|/api/v1/articles")
	require.Equal(t, base, limiter.lastSweep)
}

func TestRateLimiterHandle_MapDoesNotGrowUnbounded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := newTestLimiter(10 * time.Second)
	current := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	// Distinct clients trickling in a minute apart leave behind only the
	// entries still inside the window.
	for i := 0; i < 100; i++ {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("POST", "/api/v1/articles", nil)
		c.Request.RemoteAddr = fmt.Sprintf("10.0.0.%d:1234", i)
		limiter.handle(c)
		require.False(t, c.IsAborted())
		current = current.Add(time.Minute)
	}

	require.LessOrEqual(t, len(limiter.last), 2)
}

package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestLimiter(cfg Config) (*Limiter, *time.Time) {
	l := New(cfg)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllow_BurstThenRefill(t *testing.T) {
	l, now := newTestLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("client"), "request %d", i)
	}
	assert.False(t, l.Allow("client"))
	assert.True(t, l.Allow("other"))

	*now = now.Add(time.Second)
	assert.True(t, l.Allow("client"))
	assert.False(t, l.Allow("client"))
}

func TestEvictIdle(t *testing.T) {
	l, now := newTestLimiter(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	l.Allow("client")
	*now = now.Add(3 * time.Minute)
	l.evictIdle()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.clients)
}

func TestStop_Idempotent(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	l.Stop()
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(Config{RequestsPerMinute: 60, BurstSize: 1, ExemptPrefixes: []string{"/payment/paybox/"}})
	defer l.Stop()

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/v1/payments", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/payment/paybox/ipn", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(path, apiKey string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get("/v1/payments", ""))
	assert.Equal(t, http.StatusTooManyRequests, get("/v1/payments", ""))
	assert.Equal(t, http.StatusOK, get("/v1/payments", "sk_one"))
	assert.Equal(t, http.StatusTooManyRequests, get("/v1/payments", "sk_one"))

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get("/payment/paybox/ipn", ""))
	}
}

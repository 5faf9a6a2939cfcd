package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bothost/config"
	"bothost/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewLimiter(NewMemoryStore(), config.DefaultLimits().RateLimits, logging.Discard())
	l.now = clock.Now
	return l, clock
}

func TestCheckDeployBoundary(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 1; i <= 5; i++ {
		d := l.Check("1.2.3.4", "deploy")
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 5-i, d.Remaining)
	}

	d := l.Check("1.2.3.4", "deploy")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 60, d.RetryAfter)

	clock.Advance(45 * time.Second)
	d = l.Check("1.2.3.4", "deploy")
	assert.False(t, d.Allowed)
	assert.Equal(t, 15, d.RetryAfter)

	clock.Advance(16 * time.Second)
	d = l.Check("1.2.3.4", "deploy")
	assert.True(t, d.Allowed, "next window starts fresh")
	assert.Equal(t, 4, d.Remaining)
}

func TestCheckKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 5; i++ {
		l.Check("1.2.3.4", "deploy")
	}
	assert.False(t, l.Check("1.2.3.4", "deploy").Allowed)
	assert.True(t, l.Check("5.6.7.8", "deploy").Allowed, "other ip")
	assert.True(t, l.Check("1.2.3.4", "exec").Allowed, "other category")
}

func TestCheckUnknownCategoryUsesGlobal(t *testing.T) {
	l, _ := newTestLimiter()
	d := l.Check("1.2.3.4", "nope")
	assert.Equal(t, 100, d.Limit)
}

func TestSweep(t *testing.T) {
	l, clock := newTestLimiter()
	l.Check("a", "global")
	clock.Advance(30 * time.Second)
	l.Check("b", "global")

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.store.Len())
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter()

	r := gin.New()
	r.POST("/deploy", l.Middleware("deploy"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	var w *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		w = httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPost, "/deploy", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		t.Logf("request %d -> %d", i+1, w.Code)
	}

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1700000060", w.Header().Get("X-RateLimit-Reset"))
	assert.JSONEq(t, `{"error":"Too many requests. Try again later.","retryAfter":60}`, w.Body.String())
}

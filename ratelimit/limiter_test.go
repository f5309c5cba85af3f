package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter(t *testing.T, authLimit, guestLimit int) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewLimiter(rdb, time.Minute, authLimit, guestLimit), mr
}

func TestLimiterCountsPerBucket(t *testing.T) {
	limiter, _ := testLimiter(t, 10, 2)
	ctx := context.Background()

	first, err := limiter.Check(ctx, "analyze", IdentityGuest, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 2, first.Limit)
	assert.Equal(t, 1, first.Remaining)

	second, err := limiter.Check(ctx, "analyze", IdentityGuest, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	third, err := limiter.Check(ctx, "analyze", IdentityGuest, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Equal(t, 0, third.Remaining)
	assert.Greater(t, third.RetryAfter, 0)
}

func TestLimiterBucketsAreIndependent(t *testing.T) {
	limiter, _ := testLimiter(t, 10, 1)
	ctx := context.Background()

	blocked, err := limiter.Check(ctx, "analyze", IdentityGuest, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, blocked.Allowed)
	blockedAgain, err := limiter.Check(ctx, "analyze", IdentityGuest, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, blockedAgain.Allowed)

	otherIdentity, err := limiter.Check(ctx, "analyze", IdentityGuest, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, otherIdentity.Allowed)

	otherScope, err := limiter.Check(ctx, "chat", IdentityGuest, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, otherScope.Allowed)
}

func TestLimiterAuthGetsHigherBudget(t *testing.T) {
	limiter, _ := testLimiter(t, 5, 1)
	ctx := context.Background()

	result, err := limiter.Check(ctx, "chat", IdentityAuth, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, result.Limit)
	assert.Equal(t, 4, result.Remaining)
}

func TestLimiterWindowResets(t *testing.T) {
	limiter, mr := testLimiter(t, 10, 1)
	ctx := context.Background()

	_, err := limiter.Check(ctx, "analyze", IdentityGuest, "1.2.3.4")
	require.NoError(t, err)
	blocked, err := limiter.Check(ctx, "analyze", IdentityGuest, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, blocked.Allowed)

	mr.FastForward(61 * time.Second)

	fresh, err := limiter.Check(ctx, "analyze", IdentityGuest, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, fresh.Allowed)
}

func newLimitedEcho(t *testing.T, limiter *Limiter) *echo.Echo {
	t.Helper()
	e := echo.New()
	identityOf := func(c echo.Context) (string, string) {
		return IdentityGuest, ClientIdentity(c)
	}
	log := logrus.NewEntry(logrus.New())
	e.Use(Middleware(limiter, DefaultScope, identityOf, log))
	e.POST("/api/v1/repos/analyze", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/api/v1/repos/abc", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return e
}

func TestMiddlewareSetsHeadersAndBlocks(t *testing.T) {
	limiter, _ := testLimiter(t, 10, 1)
	e := newLimitedEcho(t, limiter)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/repos/analyze", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
	assert.Contains(t, rec.Body.String(), `"scope":"analyze"`)
}

func TestMiddlewareIgnoresUnscopedRoutes(t *testing.T) {
	limiter, _ := testLimiter(t, 10, 1)
	e := newLimitedEcho(t, limiter)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/repos/abc", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestMiddlewareFailsOpenWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewLimiter(rdb, time.Minute, 10, 1)
	e := newLimitedEcho(t, limiter)
	mr.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/repos/analyze", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "redis outage fails open")
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEcho(mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	g := e.Group("/v1", mw...)
	g.GET("/ping", func(c echo.Context) error {
		id, _ := AdminKeyFromCtx(c)
		return c.String(http.StatusOK, id)
	})
	return e
}

func do(e *echo.Echo, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAdminKeyMiddleware(t *testing.T) {
	e := newEcho(AdminKeyMiddleware([]string{"alpha", " ", "beta"}))

	assert.Equal(t, http.StatusUnauthorized, do(e, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, "gamma").Code)

	rec := do(e, "beta")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fingerprint("beta"), rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "beta")
}

func TestAdminKeyMiddlewareNoKeysConfigured(t *testing.T) {
	e := newEcho(AdminKeyMiddleware(nil))
	assert.Equal(t, http.StatusUnauthorized, do(e, "anything").Code)
}

func TestRateLimitPerKey(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 250*int(time.Millisecond), time.UTC)
	e := newEcho(
		AdminKeyMiddleware([]string{"alpha", "beta"}),
		RateLimitMiddleware(RateLimitConfig{
			Redis:          rdb,
			RPS:            2,
			RetryAfterHint: true,
			Now:            func() time.Time { return now },
		}),
	)

	assert.Equal(t, http.StatusOK, do(e, "alpha").Code)
	assert.Equal(t, http.StatusOK, do(e, "alpha").Code)

	rec := do(e, "alpha")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// separate budget per key
	assert.Equal(t, http.StatusOK, do(e, "beta").Code)

	// next window
	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, do(e, "alpha").Code)
}

func TestRateLimitRedisDownPassesThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	e := newEcho(
		AdminKeyMiddleware([]string{"alpha"}),
		RateLimitMiddleware(RateLimitConfig{Redis: rdb, RPS: 1}),
	)
	for range 3 {
		assert.Equal(t, http.StatusOK, do(e, "alpha").Code)
	}
}

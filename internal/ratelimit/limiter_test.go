package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewLimiter(rdb, "test-salt"), mr
}

func TestCheck_CountsWithinWindow(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()
	limit := Limit{Rate: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		d, err := l.Check(ctx, "rl:test", limit)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 3-(i+1), d.Remaining)
	}

	d, err := l.Check(ctx, "rl:test", limit)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestCheck_WindowResets(t *testing.T) {
	l, mr := newLimiter(t)
	ctx := context.Background()
	limit := Limit{Rate: 1, Window: time.Second}

	d, err := l.Check(ctx, "rl:test", limit)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Check(ctx, "rl:test", limit)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	mr.FastForward(2 * time.Second)

	d, err = l.Check(ctx, "rl:test", limit)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestClientKey_PrefersAPIKey(t *testing.T) {
	l, _ := newLimiter(t)

	withKey := httptest.NewRequest("POST", "/api/v1/signals", nil)
	withKey.Header.Set("X-API-Key", "device-a")
	withKey.RemoteAddr = "10.0.0.1:1234"

	sameKeyOtherIP := httptest.NewRequest("POST", "/api/v1/signals", nil)
	sameKeyOtherIP.Header.Set("X-API-Key", "device-a")
	sameKeyOtherIP.RemoteAddr = "10.0.0.2:5678"

	noKey := httptest.NewRequest("POST", "/api/v1/signals", nil)
	noKey.RemoteAddr = "10.0.0.1:1234"

	assert.Equal(t, l.ClientKey(withKey), l.ClientKey(sameKeyOtherIP))
	assert.NotEqual(t, l.ClientKey(withKey), l.ClientKey(noKey))
	// Raw identifiers never appear in the key.
	assert.NotContains(t, l.ClientKey(withKey), "device-a")
}

func TestMiddleware_RejectsOverLimit(t *testing.T) {
	l, _ := newLimiter(t)

	handler := l.Middleware(Limit{Rate: 2, Window: time.Minute})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/v1/signals", nil)
		req.Header.Set("X-API-Key", "device-a")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do().Code)
	assert.Equal(t, http.StatusOK, do().Code)

	blocked := do()
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))
	assert.Equal(t, "0", blocked.Header().Get("X-RateLimit-Remaining"))
}

func TestMiddleware_FailsOpenOnRedisError(t *testing.T) {
	l, mr := newLimiter(t)
	mr.Close()

	handler := l.Middleware(Limit{Rate: 1, Window: time.Minute})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/api/v1/signals", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestMiddleware_DisabledWithZeroRate(t *testing.T) {
	l, _ := newLimiter(t)

	handler := l.Middleware(Limit{})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("POST", "/api/v1/signals", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

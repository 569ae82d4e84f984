package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telecare/telecare/internal/platform/auth"
)

func serve(t *testing.T, h echo.HandlerFunc, e *echo.Echo, ip string, actor uuid.UUID) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":1234"
	if actor != uuid.Nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), actor, nil))
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_WithinBurst(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 5})(ok)

	for i := 0; i < 5; i++ {
		rec, err := serve(t, h, e, "10.0.0.1", uuid.Nil)
		require.NoError(t, err, "request %d", i+1)
		assert.Equal(t, "0.5", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(4-i), rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(ok)

	for i := 0; i < 2; i++ {
		_, err := serve(t, h, e, "10.0.0.2", uuid.Nil)
		require.NoError(t, err)
	}

	rec, err := serve(t, h, e, "10.0.0.2", uuid.Nil)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	retry, convErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, convErr)
	assert.GreaterOrEqual(t, retry, 1)
}

func TestRateLimit_KeysByActorThenIP(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})(ok)
	actorA, actorB := uuid.New(), uuid.New()

	_, err := serve(t, h, e, "10.0.0.3", actorA)
	require.NoError(t, err)
	_, err = serve(t, h, e, "10.0.0.3", actorB)
	require.NoError(t, err, "different actor behind the same IP has its own bucket")
	_, err = serve(t, h, e, "10.0.0.3", uuid.Nil)
	require.NoError(t, err, "anonymous callers are keyed by IP")

	_, err = serve(t, h, e, "10.0.0.4", actorA)
	require.Error(t, err, "same actor from another IP shares the bucket")
}

func TestRateLimit_DisabledWhenZero(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{})(ok)
	for i := 0; i < 50; i++ {
		_, err := serve(t, h, e, "10.0.0.5", uuid.Nil)
		require.NoError(t, err)
	}
}

func TestLimiterStore_EvictsIdle(t *testing.T) {
	store := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	now := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	store.get("a")
	store.get("b")
	assert.Equal(t, 2, store.size())

	now = now.Add(2 * time.Minute)
	store.get("c")
	assert.Equal(t, 1, store.size())
}

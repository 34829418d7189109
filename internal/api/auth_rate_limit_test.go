package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAuthLimiter(t *testing.T) (*authRateLimiter, *time.Time) {
	t.Helper()
	l := newAuthRateLimiter(nil, zap.NewNop())
	now := time.Now()
	l.now = func() time.Time { return now }
	l.counter = newSlidingWindowCounter()
	return l, &now
}

func TestLockoutDuration(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{3, 60 * time.Second},
		{4, 120 * time.Second},
		{5, 240 * time.Second},
		{6, 480 * time.Second},
		{7, 900 * time.Second},
		{10, 900 * time.Second},
		{100, 900 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, lockoutDuration(tc.failures), "failures=%d", tc.failures)
	}
}

func TestAuthLimiterUntrackedPathPassesThrough(t *testing.T) {
	l, _ := newTestAuthLimiter(t)
	h := l.middleware(okHandler())

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 0, l.counter.size())
}

func TestAuthLimiterThrottlesWithoutFailures(t *testing.T) {
	l, _ := newTestAuthLimiter(t)
	h := l.middleware(okHandler())

	// Login allows 5 attempts per window.
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"detail":"Too many requests. Limit: 5 per 15 minutes"}`, rec.Body.String())

	// Volume alone never locks; lockout requires an actual failure pattern.
	key := limiterKey("192.0.2.1", "/auth/login")
	_, locked := l.lockedUntil(key, l.now())
	assert.False(t, locked)
}

func TestAuthLimiterLockoutScenario(t *testing.T) {
	l, now := newTestAuthLimiter(t)
	h := l.middleware(okHandler())
	key := limiterKey("192.0.2.1", "/auth/login")

	// Three admitted attempts, each reported failed afterward. The third
	// failure crosses the threshold and triggers a 60s lockout.
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		l.RecordFailure("192.0.2.1", "/auth/login")
	}

	until, locked := l.lockedUntil(key, *now)
	require.True(t, locked)
	assert.Equal(t, now.Add(60*time.Second), until)

	// While locked, requests are rejected with zeroed rate-limit headers
	// and consume no window capacity.
	before := l.counter.count(key, *now, 15*time.Minute)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, before, l.counter.count(key, *now, 15*time.Minute))

	// Unlock happens exactly when now reaches lockout_until, never before.
	*now = now.Add(59 * time.Second)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Limit"))

	*now = now.Add(1 * time.Second)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "fresh evaluation once the lockout expires")
}

func TestAuthLimiterEscalatingBackoff(t *testing.T) {
	l, now := newTestAuthLimiter(t)
	h := l.middleware(okHandler())
	key := limiterKey("192.0.2.1", "/auth/login")

	admitAndFail := func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		l.RecordFailure("192.0.2.1", "/auth/login")
	}

	for i := 0; i < 3; i++ {
		admitAndFail()
	}
	until, _ := l.lockedUntil(key, *now)
	assert.Equal(t, 60*time.Second, until.Sub(*now))

	// Wait out the lockout; the fourth failure doubles the duration.
	*now = now.Add(60 * time.Second)
	admitAndFail()
	until, locked := l.lockedUntil(key, *now)
	require.True(t, locked)
	assert.Equal(t, 120*time.Second, until.Sub(*now))

	*now = now.Add(120 * time.Second)
	admitAndFail()
	until, _ = l.lockedUntil(key, *now)
	assert.Equal(t, 240*time.Second, until.Sub(*now))
}

func TestRecordFailureKeepsHourWindowAttempts(t *testing.T) {
	l, now := newTestAuthLimiter(t)
	h := l.middleware(okHandler())
	key := limiterKey("192.0.2.1", "/auth/register")

	// Two admitted register attempts, then a third 20 minutes later that
	// is reported failed. The failure recount looks at a 15m window, but
	// attempts outside it still count toward the endpoint's hour budget.
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/register", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	*now = now.Add(20 * time.Minute)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/register", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	l.RecordFailure("192.0.2.1", "/auth/register")

	require.Equal(t, 3, l.counter.count(key, *now, time.Hour))

	// The hour budget of 3 is spent, so a fourth attempt is rejected.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/register", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRecordFailureWithoutAttemptIsNoop(t *testing.T) {
	l, now := newTestAuthLimiter(t)

	l.RecordFailure("192.0.2.1", "/auth/login")
	_, locked := l.lockedUntil(limiterKey("192.0.2.1", "/auth/login"), *now)
	assert.False(t, locked)
}

func TestAuthLimiterRateLimitHeadersOnAllow(t *testing.T) {
	l, _ := newTestAuthLimiter(t)
	h := l.middleware(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/register", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Remaining"))
}

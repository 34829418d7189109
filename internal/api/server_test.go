package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fingerflow/backend/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Config{
		JWTSecret:                "test-secret",
		AccessTokenExpireMinutes: 30,
		RefreshTokenExpireDays:   7,
		RateLimitEnabled:         true,
		RateLimitRequests:        100,
		RateLimitWindowSeconds:   60,
		AuthRateLimitEnabled:     true,
		CSRFProtectionEnabled:    true,
		CSRFTokenMaxAgeSeconds:   3600,
		SecurityHeadersEnabled:   true,
		EmailProvider:            "console",
	}
	return NewServer(nil, cfg, zap.NewNop())
}

func TestChainCSRFRunsBeforeAuthLimiter(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	// Even with the key locked, a mutating request without a CSRF token is
	// answered by the CSRF layer, not charged to any limiter.
	s.authLimiter.lock(limiterKey("192.0.2.1", "/api/users/change-password"), time.Now().Add(time.Hour))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/users/change-password", nil))

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"detail":"CSRF token missing or invalid"}`, rec.Body.String())
}

func TestChainLockoutNotChargedToGeneralQuota(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	s.authLimiter.lock(limiterKey("192.0.2.1", "/auth/login"), time.Now().Add(time.Hour))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// The rejected request never reached the general limiter.
	assert.Equal(t, 0, s.limiter.counter.size())
}

func TestChainHealthBypassesLimitsAndCSRF(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	for i := 0; i < 200; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, 0, s.limiter.counter.size())
}

func TestChainSecurityHeadersOnEveryResponse(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	// Present on a normal response and on a CSRF rejection alike.
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodPost, "/api/sessions", nil),
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	}
}

func TestCSRFTokenRoute(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.CSRFToken)
	assert.True(t, s.csrf.ValidateToken(out.CSRFToken, "", time.Hour))

	// The issued token is accepted by the enforcement layer.
	req := httptest.NewRequest(http.MethodPut, "/api/sessions/1/end", nil)
	req.Header.Set(csrfHeader, out.CSRFToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusForbidden, rec.Code)
}

func TestCSRFTokenRouteIgnoresStaleBearerToken(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	// A client holding an expired or garbage access token is still served
	// an unbound CSRF token instead of a 401.
	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	req.Header.Set("Authorization", "Bearer not-a-valid-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, s.csrf.ValidateToken(out.CSRFToken, "", time.Hour))
}

func TestChainDisabledStages(t *testing.T) {
	cfg := config.Config{
		JWTSecret:                "test-secret",
		AccessTokenExpireMinutes: 30,
		RefreshTokenExpireDays:   7,
		RateLimitRequests:        1,
		RateLimitWindowSeconds:   60,
		CSRFTokenMaxAgeSeconds:   3600,
		EmailProvider:            "console",
	}
	s := NewServer(nil, cfg, zap.NewNop())
	h := s.Handler()

	// With every admission stage disabled, mutating requests are not
	// CSRF-checked and repeated requests are not throttled.
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
		require.Empty(t, rec.Header().Get("X-Content-Type-Options"))
	}
}

package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"fingerflow/backend/internal/config"
)

type Server struct {
	db              *pgxpool.Pool
	jwtSecret       []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	allowedOrigins  map[string]struct{}
	logger          *zap.Logger
	mailer          Mailer
	frontendBaseURL string

	cfg         config.Config
	limiter     *rateLimiter
	authLimiter *authRateLimiter
	csrf        *csrfService
}

type authContextKey string

const userIDContextKey authContextKey = "user_id"
const userEmailContextKey authContextKey = "user_email"

func NewServer(db *pgxpool.Pool, cfg config.Config, logger *zap.Logger) *Server {
	origins := make(map[string]struct{}, len(cfg.CORSAllowedOrigins))
	for _, o := range cfg.CORSAllowedOrigins {
		origins[o] = struct{}{}
	}

	s := &Server{
		db:              db,
		jwtSecret:       []byte(cfg.JWTSecret),
		accessTokenTTL:  time.Duration(cfg.AccessTokenExpireMinutes) * time.Minute,
		refreshTokenTTL: time.Duration(cfg.RefreshTokenExpireDays) * 24 * time.Hour,
		allowedOrigins:  origins,
		logger:          logger,
		mailer:          NewMailer(cfg, logger),
		frontendBaseURL: cfg.FrontendBaseURL,
		cfg:             cfg,
		limiter: newRateLimiter(
			cfg.RateLimitRequests,
			time.Duration(cfg.RateLimitWindowSeconds)*time.Second,
			logger,
		),
		authLimiter: newAuthRateLimiter(nil, logger),
		csrf: newCSRFService(
			[]byte(cfg.JWTSecret),
			time.Duration(cfg.CSRFTokenMaxAgeSeconds)*time.Second,
			logger,
		),
	}
	return s
}

func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			respondJSON(w, http.StatusNotFound, map[string]string{"detail": "not found"})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "app": "FingerFlow", "version": "1.0.0"})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "connected"})
	})

	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.Handle("GET /auth/me", s.authRequired(http.HandlerFunc(s.handleMe)))

	mux.Handle("GET /api/csrf-token", s.authOptional(http.HandlerFunc(s.handleCSRFToken)))

	mux.HandleFunc("POST /api/users/forgot-password", s.handleForgotPassword)
	mux.HandleFunc("POST /api/users/reset-password", s.handleResetPassword)
	mux.Handle("POST /api/users/change-password", s.authRequired(http.HandlerFunc(s.handleChangePassword)))

	mux.Handle("POST /api/sessions", s.authRequired(http.HandlerFunc(s.handleCreateSession)))
	mux.Handle("GET /api/sessions", s.authRequired(http.HandlerFunc(s.handleListSessions)))
	mux.Handle("GET /api/sessions/{id}", s.authRequired(http.HandlerFunc(s.handleGetSession)))
	mux.Handle("PUT /api/sessions/{id}/end", s.authRequired(http.HandlerFunc(s.handleEndSession)))

	return mux
}

// Handler wraps the route mux in the fixed admission chain, outermost first:
// https-redirect, security-headers, CSRF, auth rate limit, general rate
// limit. The auth limiter runs before the general one so a lockout rejection
// is never also charged against the general quota.
func (s *Server) Handler() http.Handler {
	h := s.withCORS(s.Mux())

	if s.cfg.RateLimitEnabled {
		h = s.limiter.middleware(h)
	}
	if s.cfg.AuthRateLimitEnabled {
		h = s.authLimiter.middleware(h)
	}
	if s.cfg.CSRFProtectionEnabled {
		h = newCSRFProtect(s.csrf).middleware(h)
	}
	if s.cfg.SecurityHeadersEnabled {
		h = securityHeaders(0)(h)
	}
	if s.cfg.HTTPSRedirectEnabled {
		h = httpsRedirect(s.logger)(h)
	}

	return h
}

// authOptional decodes a bearer token when one verifies and otherwise
// serves the request anonymously. The CSRF token route uses it so tokens
// can be session-bound for authenticated clients while anonymous clients,
// including ones holding a stale token, still get one.
func (s *Server) authOptional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			if uid, email, err := s.parseAccessToken(strings.TrimPrefix(header, "Bearer ")); err == nil {
				authCtx := context.WithValue(r.Context(), userIDContextKey, uid)
				authCtx = context.WithValue(authCtx, userEmailContextKey, email)
				r = r.WithContext(authCtx)
			}
		}
		next.ServeHTTP(w, r)
	})
}

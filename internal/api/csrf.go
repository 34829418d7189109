package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	csrfSalt   = "csrf-protection"
	csrfHeader = "X-CSRF-Token"
)

// Paths exempt from CSRF checks. The initial auth endpoints precede token
// issuance, so no token can exist yet at that point in the flow. Entries
// match by prefix; the bare root path matches exactly.
var defaultCSRFExemptPaths = []string{
	"/health",
	"/docs",
	"/redoc",
	"/openapi.json",
	"/auth/login",
	"/auth/register",
	"/auth/refresh",
	"/auth/google/callback",
}

// csrfService issues and validates stateless signed CSRF tokens, optionally
// bound to a session id. Validity is determined purely by signature and age;
// nothing is stored server-side. The signing key is salted apart from other
// token uses sharing the server secret.
type csrfService struct {
	key    []byte
	maxAge time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func newCSRFService(secret []byte, maxAge time.Duration, logger *zap.Logger) *csrfService {
	return &csrfService{
		key:    saltedKey(secret, csrfSalt),
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

// GenerateToken returns a signed token embedding the optional session id.
func (c *csrfService) GenerateToken(sessionID string) (string, error) {
	claims := jwt.MapClaims{"iat": c.now().Unix()}
	if sessionID != "" {
		claims["sid"] = sessionID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

// ValidateToken reports whether token carries a valid signature, is younger
// than maxAge and, when both sides supply a session id, is bound to
// sessionID. Tokens issued without a session id validate against any
// session. Failure reasons are only distinguished in logs; callers get a
// plain boolean.
func (c *csrfService) ValidateToken(token, sessionID string, maxAge time.Duration) bool {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return c.key, nil
	})
	if err != nil || !parsed.Valid {
		reason := "invalid_signature"
		if errors.Is(err, jwt.ErrTokenMalformed) {
			reason = "malformed"
		}
		c.logger.Warn("csrf_validation_failed", zap.String("reason", reason))
		return false
	}

	issued, err := claims.GetIssuedAt()
	if err != nil || issued == nil {
		c.logger.Warn("csrf_validation_failed", zap.String("reason", "malformed"))
		return false
	}
	if c.now().Sub(issued.Time) > maxAge {
		c.logger.Warn("csrf_validation_failed", zap.String("reason", "token_expired"))
		return false
	}

	if sessionID != "" {
		if sid, ok := claims["sid"].(string); ok && sid != "" && sid != sessionID {
			c.logger.Warn("csrf_validation_failed", zap.String("reason", "session_mismatch"))
			return false
		}
	}

	return true
}

// csrfProtect rejects state-changing requests that lack a valid CSRF token.
type csrfProtect struct {
	service *csrfService
	exempt  []string
}

func newCSRFProtect(service *csrfService, extraExempt ...string) *csrfProtect {
	return &csrfProtect{
		service: service,
		exempt:  append(append([]string{}, defaultCSRFExemptPaths...), extraExempt...),
	}
}

func (p *csrfProtect) isExempt(path string) bool {
	if path == "/" {
		return true
	}
	for _, prefix := range p.exempt {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (p *csrfProtect) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}

		if p.isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get(csrfHeader)
		if token == "" {
			p.service.logger.Warn("csrf_missing_token",
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method),
			)
			respondJSON(w, http.StatusForbidden, map[string]string{"detail": "CSRF token missing or invalid"})
			return
		}

		if !p.service.ValidateToken(token, "", p.service.maxAge) {
			p.service.logger.Warn("csrf_invalid_token",
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method),
			)
			respondJSON(w, http.StatusForbidden, map[string]string{"detail": "CSRF token invalid or expired"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request payload"})
		return
	}

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Email == "" || len(in.Password) < 8 {
		respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "email and password (min 8) are required"})
		return
	}
	if !emailRe.MatchString(in.Email) {
		respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid email format"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "password processing failed"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var id int64
	err = s.db.QueryRow(ctx, `
		INSERT INTO users(email, password_hash, auth_provider, created_at)
		VALUES ($1, $2, 'local', $3)
		RETURNING id
	`, in.Email, string(hash), time.Now().UnixMilli()).Scan(&id)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			s.logger.Warn("registration_failed", zap.String("email", in.Email), zap.String("reason", "email_already_exists"))
			respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "Email already registered"})
			return
		}
		respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to create user"})
		return
	}

	s.logger.Info("user_registered", zap.Int64("user_id", id), zap.String("email", in.Email))

	token, err := s.signToken(id, in.Email)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to sign token"})
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request payload"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	email := strings.ToLower(strings.TrimSpace(in.Email))

	var id int64
	var passwordHash string
	err := s.db.QueryRow(ctx, `
		SELECT id, password_hash FROM users WHERE email = $1
	`, email).Scan(&id, &passwordHash)
	if err != nil {
		s.authLimiter.RecordFailure(clientIP(r), "/auth/login")
		respondJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid email or password"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(in.Password)); err != nil {
		s.logger.Warn("login_failed", zap.String("email", email), zap.String("ip", clientIP(r)))
		s.authLimiter.RecordFailure(clientIP(r), "/auth/login")
		respondJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid email or password"})
		return
	}

	token, err := s.signToken(id, email)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to sign token"})
		return
	}

	refresh, err := s.issueRefreshToken(ctx, id)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to issue refresh token"})
		return
	}

	s.logger.Info("user_logged_in", zap.Int64("user_id", id))
	respondJSON(w, http.StatusOK, map[string]any{
		"access_token":  token,
		"refresh_token": refresh,
		"token_type":    "bearer",
	})
}

func (s *Server) issueRefreshToken(ctx context.Context, userID int64) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `
		INSERT INTO refresh_tokens(token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, id, userID, time.Now().Add(s.refreshTokenTTL).UnixMilli())
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.RefreshToken) == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "refresh_token is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var userID int64
	var email string
	var expiresAt int64
	err := s.db.QueryRow(ctx, `
		SELECT rt.user_id, u.email, rt.expires_at
		FROM refresh_tokens rt
		JOIN users u ON u.id = rt.user_id
		WHERE rt.token = $1 AND rt.revoked = false
	`, in.RefreshToken).Scan(&userID, &email, &expiresAt)
	if err != nil || time.Now().UnixMilli() >= expiresAt {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid or expired refresh token"})
		return
	}

	// Rotate: the presented token is revoked and a fresh one issued.
	if _, err := s.db.Exec(ctx, `UPDATE refresh_tokens SET revoked = true WHERE token = $1`, in.RefreshToken); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to rotate refresh token"})
		return
	}
	refresh, err := s.issueRefreshToken(ctx, userID)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to issue refresh token"})
		return
	}

	token, err := s.signToken(userID, email)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to sign token"})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token":  token,
		"refresh_token": refresh,
		"token_type":    "bearer",
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(userIDContextKey).(int64)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid auth context"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var out struct {
		ID           int64  `json:"id"`
		Email        string `json:"email"`
		AuthProvider string `json:"auth_provider"`
		CreatedAt    int64  `json:"created_at"`
	}
	err := s.db.QueryRow(ctx, `SELECT id, email, auth_provider, created_at FROM users WHERE id = $1`, userID).
		Scan(&out.ID, &out.Email, &out.AuthProvider, &out.CreatedAt)
	if err != nil {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"detail": "user not found"})
		return
	}

	respondJSON(w, http.StatusOK, out)
}

// handleCSRFToken hands a fresh CSRF token to the client. Authenticated
// callers get a token bound to their user id; anonymous callers get an
// unbound token that validates against any session.
func (s *Server) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if userID, ok := r.Context().Value(userIDContextKey).(int64); ok {
		sessionID = strconv.FormatInt(userID, 10)
	}

	token, err := s.csrf.GenerateToken(sessionID)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to generate token"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const resetTokenTTL = time.Hour

// handleForgotPassword always answers 200 so the endpoint cannot be used to
// enumerate registered addresses.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request payload"})
		return
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	reply := map[string]string{"detail": "If the email exists, a reset link has been sent"}
	if email == "" || !emailRe.MatchString(email) {
		respondJSON(w, http.StatusOK, reply)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var id int64
	if err := s.db.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&id); err != nil {
		respondJSON(w, http.StatusOK, reply)
		return
	}

	token, err := s.signResetToken(email, resetTokenTTL)
	if err != nil {
		s.logger.Error("reset_token_sign_failed", zap.Error(err))
		respondJSON(w, http.StatusOK, reply)
		return
	}

	link := s.frontendBaseURL + "/reset-password?token=" + token
	body := fmt.Sprintf("A password reset was requested for your account.\n\nReset your password: %s\n\nThis link expires in 1 hour. If you did not request this, ignore this email.", link)
	if err := s.mailer.Send(email, "Reset your password", body); err != nil {
		s.logger.Error("reset_email_send_failed", zap.String("email", email), zap.Error(err))
	} else {
		s.logger.Info("reset_email_sent", zap.Int64("user_id", id))
	}

	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request payload"})
		return
	}
	if len(in.NewPassword) < 8 {
		respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "password must be at least 8 characters"})
		return
	}

	email, err := s.parseResetToken(in.Token)
	if err != nil {
		s.authLimiter.RecordFailure(clientIP(r), "/api/users/reset-password")
		respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid or expired reset token"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "password processing failed"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	tag, err := s.db.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE email = $2`, string(hash), email)
	if err != nil || tag.RowsAffected() == 0 {
		respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid or expired reset token"})
		return
	}

	// A reset invalidates every outstanding refresh token for the account.
	if _, err := s.db.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true
		WHERE user_id = (SELECT id FROM users WHERE email = $1)
	`, email); err != nil {
		s.logger.Error("refresh_token_revoke_failed", zap.Error(err))
	}

	s.logger.Info("password_reset_completed", zap.String("email", email))
	respondJSON(w, http.StatusOK, map[string]string{"detail": "Password has been reset"})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(userIDContextKey).(int64)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid auth context"})
		return
	}

	var in struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request payload"})
		return
	}
	if len(in.NewPassword) < 8 {
		respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "password must be at least 8 characters"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var passwordHash string
	if err := s.db.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1`, userID).Scan(&passwordHash); err != nil {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"detail": "user not found"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(in.CurrentPassword)); err != nil {
		s.authLimiter.RecordFailure(clientIP(r), "/api/users/change-password")
		respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "Current password is incorrect"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "password processing failed"})
		return
	}

	if _, err := s.db.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, string(hash), userID); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to update password"})
		return
	}

	s.logger.Info("password_changed", zap.Int64("user_id", userID))
	respondJSON(w, http.StatusOK, map[string]string{"detail": "Password updated"})
}

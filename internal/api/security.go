package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const resetTokenSalt = "password-reset"

// saltedKey derives a purpose-specific signing key so tokens signed for one
// use (CSRF, password reset) never validate for another even though they
// share the server secret.
func saltedKey(secret []byte, salt string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(salt))
	return mac.Sum(nil)
}

func (s *Server) signToken(userID int64, email string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"exp":   now.Add(s.accessTokenTTL).Unix(),
		"iat":   now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func (s *Server) signResetToken(email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"email": email,
		"exp":   now.Add(ttl).Unix(),
		"iat":   now.Unix(),
	}
	key := saltedKey(s.jwtSecret, resetTokenSalt)
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// parseResetToken returns the email embedded in a password-reset token, or
// an error if the token is expired, malformed or signed for another purpose.
func (s *Server) parseResetToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return saltedKey(s.jwtSecret, resetTokenSalt), nil
	})
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid or expired reset token")
	}
	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return "", errors.New("invalid reset token subject")
	}
	return email, nil
}

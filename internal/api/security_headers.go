package api

import (
	"fmt"
	"net/http"
)

const defaultHSTSMaxAge = 31536000 // one year

const cspPolicy = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline'; " +
	"style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data: https:; " +
	"font-src 'self' data:; " +
	"connect-src 'self'; " +
	"frame-ancestors 'none'; " +
	"base-uri 'self'; " +
	"form-action 'self'"

const permissionsPolicy = "geolocation=(), microphone=(), camera=(), payment=(), " +
	"usb=(), magnetometer=(), gyroscope=(), accelerometer=()"

// securityHeaders adds browser security headers to every response and strips the
// Server header.
func securityHeaders(hstsMaxAge int) func(http.Handler) http.Handler {
	if hstsMaxAge <= 0 {
		hstsMaxAge = defaultHSTSMaxAge
	}
	hsts := fmt.Sprintf("max-age=%d; includeSubDomains; preload", hstsMaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "1; mode=block")
			h.Set("Strict-Transport-Security", hsts)
			h.Set("Content-Security-Policy", cspPolicy)
			h.Set("Referrer-Policy", "no-referrer-when-downgrade")
			h.Set("Permissions-Policy", permissionsPolicy)
			h.Del("Server")

			next.ServeHTTP(w, r)
		})
	}
}

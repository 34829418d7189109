package api

import (
	"net/http"

	"go.uber.org/zap"
)

// httpsRedirect sends a permanent redirect to the https scheme for any plain
// HTTP request. X-Forwarded-Proto is honored so the check works behind a
// reverse proxy that terminates TLS.
func httpsRedirect(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
				next.ServeHTTP(w, r)
				return
			}

			target := "https://" + r.Host + r.URL.Path
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}

			logger.Info("https_redirect",
				zap.String("host", r.Host),
				zap.String("path", r.URL.Path),
				zap.String("ip", clientIP(r)),
			)
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		})
	}
}

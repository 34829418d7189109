package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// maxTrackedIdentities is the high-water mark above which the general
// limiter opportunistically evicts identities with no traffic in the
// current window.
const maxTrackedIdentities = 10000

// rateLimiter applies a uniform sliding-window limit per client IP across
// all routes except health probes.
type rateLimiter struct {
	counter *slidingWindowCounter
	limit   int
	window  time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func newRateLimiter(limit int, window time.Duration, logger *zap.Logger) *rateLimiter {
	return &rateLimiter{
		counter: newSlidingWindowCounter(),
		limit:   limit,
		window:  window,
		logger:  logger,
		now:     time.Now,
	}
}

func (l *rateLimiter) exempt(path string) bool {
	return path == "/" || path == "/health"
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		now := l.now()

		if l.counter.count(ip, now, l.window) >= l.limit {
			l.logger.Warn("rate_limit_exceeded",
				zap.String("ip", ip),
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method),
			)
			w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			respondJSON(w, http.StatusTooManyRequests, map[string]string{
				"detail": fmt.Sprintf("Too many requests. Limit: %d per %ds", l.limit, int(l.window.Seconds())),
			})
			return
		}

		l.counter.record(ip, now)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(l.counter.remaining(ip, now, l.window, l.limit)))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(l.window).Unix(), 10))

		if l.counter.size() > maxTrackedIdentities {
			removed := l.counter.evictIdle(now, l.window)
			l.logger.Info("rate_limit_cleanup", zap.Int("removed_ips", removed))
		}

		next.ServeHTTP(w, r)
	})
}

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ratePolicy is the attempt budget for a security-sensitive endpoint.
type ratePolicy struct {
	maxAttempts int
	window      time.Duration
}

const (
	// Three failed attempts inside the failure window trigger a lockout.
	lockoutFailureThreshold = 3
	lockoutBase             = 60 * time.Second
	lockoutMax              = 15 * time.Minute
	failureWindow           = 15 * time.Minute
)

func defaultAuthRatePolicies() map[string]ratePolicy {
	return map[string]ratePolicy{
		"/auth/login":                {maxAttempts: 5, window: 15 * time.Minute},
		"/auth/register":             {maxAttempts: 3, window: time.Hour},
		"/auth/2fa-verify":           {maxAttempts: 5, window: 15 * time.Minute},
		"/api/users/forgot-password": {maxAttempts: 3, window: time.Hour},
		"/api/users/reset-password":  {maxAttempts: 3, window: time.Hour},
		"/api/users/change-password": {maxAttempts: 5, window: 30 * time.Minute},
	}
}

// authRateLimiter enforces strict per-(IP, endpoint) attempt budgets for
// authentication endpoints and escalates repeated failures into temporary
// lockouts with exponential backoff. Endpoints absent from the policy table
// pass through untouched.
type authRateLimiter struct {
	counter  *slidingWindowCounter
	policies map[string]ratePolicy

	mu       sync.Mutex
	lockouts map[string]time.Time

	logger *zap.Logger
	now    func() time.Time
}

func newAuthRateLimiter(policies map[string]ratePolicy, logger *zap.Logger) *authRateLimiter {
	if policies == nil {
		policies = defaultAuthRatePolicies()
	}
	return &authRateLimiter{
		counter:  newSlidingWindowCounter(),
		policies: policies,
		lockouts: make(map[string]time.Time),
		logger:   logger,
		now:      time.Now,
	}
}

// limiterKey joins identity and endpoint with a separator that cannot occur
// in either part.
func limiterKey(identity, endpoint string) string {
	return identity + "\x00" + endpoint
}

// lockoutDuration implements min(15m, 60s * 2^(failures-3)).
func lockoutDuration(failures int) time.Duration {
	n := failures - lockoutFailureThreshold
	if n < 0 {
		n = 0
	}
	if n >= 4 {
		// 60s << 4 already exceeds the cap.
		return lockoutMax
	}
	d := lockoutBase << n
	if d > lockoutMax {
		return lockoutMax
	}
	return d
}

// lockedUntil reports the active lockout deadline for key, deleting expired
// entries on read.
func (l *authRateLimiter) lockedUntil(key string, now time.Time) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.lockouts[key]
	if !ok {
		return time.Time{}, false
	}
	if !now.Before(until) {
		delete(l.lockouts, key)
		return time.Time{}, false
	}
	return until, true
}

func (l *authRateLimiter) lock(key string, until time.Time) {
	l.mu.Lock()
	l.lockouts[key] = until
	l.mu.Unlock()
}

func (l *authRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		policy, tracked := l.policies[r.URL.Path]
		if !tracked {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		key := limiterKey(ip, r.URL.Path)
		now := l.now()

		// A locked key is rejected outright and consumes no window capacity.
		if until, locked := l.lockedUntil(key, now); locked {
			remaining := int(until.Sub(now).Seconds())
			if remaining < 1 {
				remaining = 1
			}
			l.logger.Warn("auth_rate_limit_lockout",
				zap.String("ip", ip),
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method),
				zap.Int("remaining_seconds", remaining),
			)
			w.Header().Set("Retry-After", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Limit", "0")
			w.Header().Set("X-RateLimit-Remaining", "0")
			respondJSON(w, http.StatusTooManyRequests, map[string]string{
				"detail": fmt.Sprintf("Too many failed attempts. Account temporarily locked. Try again in %d seconds.", remaining),
			})
			return
		}

		if l.counter.count(key, now, policy.window) >= policy.maxAttempts {
			if failures := l.counter.countFailed(key, now, policy.window); failures >= lockoutFailureThreshold {
				d := lockoutDuration(failures)
				l.lock(key, now.Add(d))
				l.logger.Warn("auth_lockout_triggered",
					zap.String("ip", ip),
					zap.String("path", r.URL.Path),
					zap.Int("failed_attempts", failures),
					zap.Duration("lockout", d),
				)
			}
			l.logger.Warn("auth_rate_limit_exceeded",
				zap.String("ip", ip),
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method),
				zap.Int("limit", policy.maxAttempts),
				zap.Duration("window", policy.window),
			)
			w.Header().Set("Retry-After", strconv.Itoa(int(policy.window.Seconds())))
			respondJSON(w, http.StatusTooManyRequests, map[string]string{
				"detail": fmt.Sprintf("Too many requests. Limit: %d per %d minutes", policy.maxAttempts, int(policy.window.Minutes())),
			})
			return
		}

		l.counter.record(key, now)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(policy.maxAttempts))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(l.counter.remaining(key, now, policy.window, policy.maxAttempts)))

		next.ServeHTTP(w, r)
	})
}

// RecordFailure marks the most recent attempt for (identity, endpoint) as a
// failed authentication and enters lockout once the failure threshold is
// crossed. Handlers call this after rejecting credentials; the attempt
// itself was already counted at admission time.
func (l *authRateLimiter) RecordFailure(identity, endpoint string) {
	key := limiterKey(identity, endpoint)
	if !l.counter.markLastFailed(key) {
		return
	}

	now := l.now()
	failures := l.counter.countFailed(key, now, failureWindow)
	if failures < lockoutFailureThreshold {
		return
	}

	d := lockoutDuration(failures)
	l.lock(key, now.Add(d))
	l.logger.Warn("auth_lockout_triggered",
		zap.String("ip", identity),
		zap.String("path", endpoint),
		zap.Int("failed_attempts", failures),
		zap.Duration("lockout", d),
	)
}

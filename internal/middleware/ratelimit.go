package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// window counts one caller's requests in the current fixed window.
type window struct {
	count int
	reset time.Time
}

type limiter struct {
	limit int
	per   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// allow records one request for key and reports how long the caller must
// wait when the window is already full.
func (l *limiter) allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) > l.per {
		for k, w := range l.windows {
			if now.After(w.reset) {
				delete(l.windows, k)
			}
		}
		l.lastSweep = now
	}
	w, ok := l.windows[key]
	if !ok || now.After(w.reset) {
		w = &window{reset: now.Add(l.per)}
		l.windows[key] = w
	}
	if w.count >= l.limit {
		return false, w.reset.Sub(now)
	}
	w.count++
	return true, 0
}

// RateLimit allows limit requests per caller in each window of length per.
// Authenticated callers are keyed by user ID, everyone else by client IP.
// Rejected requests get 429 with Retry-After. A non-positive limit disables
// the check.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	l := &limiter{limit: limit, per: per, now: time.Now, windows: map[string]*window{}, lastSweep: time.Now()}
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := l.allow(rateKey(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(wait.Round(time.Second)/time.Second))))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateKey(r *http.Request) string {
	if uid := UserIDFromContext(r.Context()); uid != "" {
		return "user:" + uid
	}
	return "ip:" + ClientIP(r)
}

package proxy

import (
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

// sessionLimiter hands out one token-bucket limiter per x-session-id, configured from the
// YAML rate_limit.requests_per_second and rate_limit.burst settings. RATE_MAX and
// RATE_WINDOW_SEC are not read.
type sessionLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newSessionLimiter(perSecond float64, burst int) *sessionLimiter {
	if perSecond <= 0 {
		perSecond = 2
	}
	if burst <= 0 {
		burst = 10
	}
	return &sessionLimiter{limiters: make(map[string]*rate.Limiter), r: rate.Limit(perSecond), burst: burst}
}

func (sl *sessionLimiter) forSession(sessionID string) *rate.Limiter {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	l, ok := sl.limiters[sessionID]
	if !ok {
		l = rate.NewLimiter(sl.r, sl.burst)
		sl.limiters[sessionID] = l
	}
	return l
}

// allow reports whether the request identified by sessionID may proceed, and sets the
// standard rate-limit response headers regardless of the outcome.
func (sl *sessionLimiter) allow(w http.ResponseWriter, sessionID string) bool {
	limiter := sl.forSession(sessionID)
	reservation := limiter.Reserve()
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(sl.burst))

	if !reservation.OK() || reservation.Delay() > 0 {
		reservation.Cancel()
		remaining := int(limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("Retry-After", strconv.Itoa(1))
		return false
	}

	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	return true
}

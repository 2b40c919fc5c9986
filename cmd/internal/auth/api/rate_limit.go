package authapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// maxLimiterKeys caps tracked clients; beyond it idle windows are pruned.
const maxLimiterKeys = 10000

// slidingWindow counts events inside a trailing window.
type slidingWindow struct {
	events []time.Time
	limit  int
	window time.Duration
}

func (s *slidingWindow) allow(now time.Time) bool {
	cut := now.Add(-s.window)
	dst := s.events[:0]
	for _, t := range s.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	s.events = dst

	if len(s.events) >= s.limit {
		return false
	}
	s.events = append(s.events, now)
	return true
}

// retryAfter is how long until the oldest event leaves the window.
func (s *slidingWindow) retryAfter(now time.Time) time.Duration {
	if len(s.events) == 0 {
		return 0
	}
	d := s.events[0].Add(s.window).Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}

// IPRateLimiter is a per-client sliding-window limiter.
type IPRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*slidingWindow
	limit   int
	window  time.Duration
}

// NewIPRateLimiter constructs a limiter allowing limit events per window per
// client. A non-positive limit disables limiting.
func NewIPRateLimiter(limit int, window time.Duration) *IPRateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &IPRateLimiter{
		clients: make(map[string]*slidingWindow),
		limit:   limit,
		window:  window,
	}
}

// Allow reports whether an event for ip at now is permitted, and if not, how
// long the client should wait.
func (l *IPRateLimiter) Allow(ip net.IP, now time.Time) (bool, time.Duration) {
	if l == nil || l.limit <= 0 {
		return true, 0
	}
	key := "unknown"
	if ip != nil {
		key = ip.String()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= maxLimiterKeys {
			l.pruneLocked(now)
		}
		w = &slidingWindow{limit: l.limit, window: l.window}
		l.clients[key] = w
	}
	if w.allow(now) {
		return true, 0
	}
	return false, w.retryAfter(now)
}

func (l *IPRateLimiter) pruneLocked(now time.Time) {
	cut := now.Add(-l.window)
	for k, w := range l.clients {
		if len(w.events) == 0 || !w.events[len(w.events)-1].After(cut) {
			delete(l.clients, k)
		}
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	setRetryAfter(w, retryAfter)
	writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many attempts")
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	if d <= 0 {
		return
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
}

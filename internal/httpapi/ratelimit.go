package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type ipEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ipLimiter throttles request bursts per client IP. It is separate from
// the per-username login lockout kept by authstore.
type ipLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	idle    time.Duration
	entries map[string]*ipEntry
	stopCh  chan struct{}
	stop    sync.Once
}

// newIPLimiter returns nil when rps is not positive, which disables
// throttling.
func newIPLimiter(rps float64, burst int, idle time.Duration) *ipLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	l := &ipLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		idle:    idle,
		entries: make(map[string]*ipEntry),
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether key may proceed, and otherwise how long until
// the next token.
func (l *ipLimiter) Allow(key string) (bool, time.Duration) {
	now := time.Now()
	l.mu.Lock()
	e := l.entries[key]
	if e == nil {
		e = &ipEntry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	res := e.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (l *ipLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

func (l *ipLimiter) cleanup() {
	cutoff := time.Now().Add(-l.idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}

func (l *ipLimiter) Stop() {
	l.stop.Do(func() { close(l.stopCh) })
}

// throttle rejects clients that exceed the per-IP request rate.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ok, wait := s.limiter.Allow(clientIP(r))
		if !ok {
			w.Header().Set("Retry-After", retryAfterSeconds(wait))
			writeError(w, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "too many requests, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds rounds d up to whole seconds, at least one.
func retryAfterSeconds(d time.Duration) string {
	if d <= 0 {
		return "1"
	}
	return strconv.Itoa(int((d + time.Second - 1) / time.Second))
}

package auth

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterPool keeps one token bucket per identity. Entries unseen for ttl
// are dropped by a background loop started on first use.
type limiterPool struct {
	mu            sync.Mutex
	m             map[string]*limiterEntry
	rps           float64
	burst         int
	startCleanup  sync.Once
	ttl           time.Duration
	cleanupPeriod time.Duration
}

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 5
	}
	return &limiterPool{
		m:             make(map[string]*limiterEntry),
		rps:           rps,
		burst:         burst,
		ttl:           10 * time.Minute,
		cleanupPeriod: time.Minute,
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.startCleanup.Do(func() { go p.cleanupLoop() })

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[key]; ok {
		e.lastSeen = time.Now()
		return e.l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: time.Now()}
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

func (p *limiterPool) cleanupLoop() {
	ticker := time.NewTicker(p.cleanupPeriod)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-p.ttl)
		p.mu.Lock()
		for k, e := range p.m {
			if e.lastSeen.Before(cutoff) {
				delete(p.m, k)
			}
		}
		p.mu.Unlock()
	}
}

// RateLimit throttles per authenticated user, falling back to the remote
// address. Must run after Require.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	pool := newLimiterPool(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := UserID(r.Context())
			if key == "" {
				key = r.RemoteAddr
			}
			if !pool.Allow(key) {
				writeError(w, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package myMiddleware

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/opsihab660/realtime-chat-sub001/internal/config"
)

// limiterPool keeps one token bucket per remote IP. Guards the
// unauthenticated endpoints (register, login) against brute force; the
// websocket traffic has its own per-user limiter.
type limiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg config.HTTPLimitConfig
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	burst := p.cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// clientIP expects a direct connection; X-Forwarded-For is deliberately
// ignored because anyone can forge it.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit returns a middleware throttling requests per client IP.
func RateLimit(cfg config.HTTPLimitConfig) func(http.Handler) http.Handler {
	pool := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !pool.Allow(clientIP(r)) {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

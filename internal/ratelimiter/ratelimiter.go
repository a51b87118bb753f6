package ratelimiter

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/0xReLogic/recettes/internal/logging"
	"github.com/0xReLogic/recettes/internal/utils"
)

// RateLimiter defines the interface for rate limiting
type RateLimiter interface {
	Allow(clientIP string) bool
}

// Recorder receives a notification for each rejected request
type Recorder interface {
	RecordRateLimited()
}

// ClientRateLimiter keeps one token bucket per client
type ClientRateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	clients map[string]*client
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a per-client limiter allowing rps requests per second with the given burst
func New(rps float64, burst int) *ClientRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ClientRateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: time.Hour,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Allow checks if a request from the given client IP is allowed
func (rl *ClientRateLimiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	now := rl.now()
	c, ok := rl.clients[clientIP]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[clientIP] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Len returns the number of tracked clients
func (rl *ClientRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Run evicts idle clients every interval until ctx is done
func (rl *ClientRateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup removes clients that have not been seen within idleTTL
func (rl *ClientRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// Middleware wraps an http.Handler with rate limiting keyed by the address
// ips resolves; a nil resolver keys by socket peer.
func Middleware(rl RateLimiter, rec Recorder, ips *utils.ClientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := ips.ClientIP(r)
			if !rl.Allow(clientIP) {
				if rec != nil {
					rec.RecordRateLimited()
				}
				logging.WithContext(r.Context()).Warn().
					Str("client_ip", clientIP).
					Str("path", r.URL.Path).
					Msg("rate limit exceeded")
				w.Header().Set("Retry-After", strconv.Itoa(1))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

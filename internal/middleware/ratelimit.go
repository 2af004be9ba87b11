package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// defaultMaxClients caps how many client buckets the limiter tracks so a
// flood of spoofed source addresses cannot exhaust memory.
const defaultMaxClients = 100_000

// RateLimiter applies a token bucket per client address. Liveness probes and
// agent-card fetches hit their endpoints constantly, so the paths that bypass
// auth bypass the limiter too.
type RateLimiter struct {
	rate  float64 // sustained tokens per second
	burst float64

	mu         sync.Mutex
	clients    map[string]*clientBucket
	maxClients int
}

type clientBucket struct {
	tokens   float64
	refilled time.Time
	lastSeen time.Time
}

// NewRateLimiter creates a limiter with the given sustained rate (requests
// per second) and burst size.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		rate:       rate,
		burst:      float64(burst),
		clients:    make(map[string]*clientBucket),
		maxClients: defaultMaxClients,
	}
}

// Handler enforces the limit per client address.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		remaining, wait, ok := rl.allow(clientAddr(r))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allow consumes one token for addr. It returns the remaining tokens, how
// many seconds until the next token when denied, and the verdict.
func (rl *RateLimiter) allow(addr string) (remaining int, retryAfter float64, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b := rl.clients[addr]
	if b == nil {
		if len(rl.clients) >= rl.maxClients {
			// At capacity unknown addresses are rejected outright; known
			// clients keep their buckets.
			return 0, 1 / rl.rate, false
		}
		b = &clientBucket{tokens: rl.burst, refilled: now}
		rl.clients[addr] = b
	} else {
		b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.refilled).Seconds()*rl.rate)
		b.refilled = now
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return 0, (1 - b.tokens) / rl.rate, false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// StartCleanup evicts idle buckets every interval until the returned stop
// function is called.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for addr, b := range rl.clients {
		if b.lastSeen.Before(cutoff) {
			delete(rl.clients, addr)
		}
	}
}

// Len reports how many client buckets are tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// clientAddr extracts the client address from RemoteAddr. X-Forwarded-For
// and friends are caller-controlled and would let one client mint unlimited
// buckets, so they are never consulted here.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

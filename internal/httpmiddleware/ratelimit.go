// Package httpmiddleware holds cross-cutting gin middleware: per-IP rate
// limiting for the verification-code endpoints, CORS, and security headers.
package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter is an in-memory per-client token bucket. It guards the
// code-request and code-consuming endpoints against brute force and email
// spam; state is per-process, which is enough for a single-node deployment.
type RateLimiter struct {
	burst     int
	perMinute int

	mu      sync.Mutex
	clients map[string]*clientBucket
}

type clientBucket struct {
	tokens float64
	seen   time.Time
}

// staleAfter is how long an idle client entry survives before the sweep
// drops it.
const staleAfter = 10 * time.Minute

// NewRateLimiter allows perMinute requests sustained with bursts up to
// burst. A non-positive burst defaults to perMinute.
func NewRateLimiter(burst, perMinute int) *RateLimiter {
	if burst <= 0 {
		burst = perMinute
	}
	return &RateLimiter{
		burst:     burst,
		perMinute: perMinute,
		clients:   make(map[string]*clientBucket),
	}
}

// Handler enforces the limit keyed by client IP.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if key == "" {
			key = "unknown"
		}
		if !rl.allow(key, time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[key]
	if !ok {
		rl.sweep(now)
		b = &clientBucket{tokens: float64(rl.burst)}
		rl.clients[key] = b
	} else {
		b.tokens += now.Sub(b.seen).Minutes() * float64(rl.perMinute)
		if b.tokens > float64(rl.burst) {
			b.tokens = float64(rl.burst)
		}
	}
	b.seen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops idle entries. Called only when a new client shows up, so a
// steady set of clients costs nothing.
func (rl *RateLimiter) sweep(now time.Time) {
	for key, b := range rl.clients {
		if now.Sub(b.seen) > staleAfter {
			delete(rl.clients, key)
		}
	}
}

// CORS answers preflights and tags responses for the static check-in page,
// which is typically served from a different origin than the API.
func CORS(allowOrigin string) gin.HandlerFunc {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowOrigin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// SecurityHeaders sets the usual hardening headers on every response.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

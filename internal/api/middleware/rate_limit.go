package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	Enabled       bool
	MaxRequests   int
	WindowSeconds int
	ExemptPaths   []string
}

// DefaultRateLimitConfig returns the default rate limit configuration.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled:       true,
		MaxRequests:   100,
		WindowSeconds: 60,
		ExemptPaths: []string{
			"/healthz",
		},
	}
}

// clientLimiter pairs a token-bucket limiter with the time it was last touched.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// perClientLimiter hands out one token-bucket limiter per client IP,
// refilling at maxRequests/windowSeconds tokens per second with a burst
// equal to maxRequests, replacing the teacher's hand-rolled sliding
// window with golang.org/x/time/rate.
type perClientLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	rate     rate.Limit
	burst    int
}

func newPerClientLimiter(maxRequests, windowSeconds int) *perClientLimiter {
	return &perClientLimiter{
		clients: make(map[string]*clientLimiter),
		rate:    rate.Limit(float64(maxRequests) / float64(windowSeconds)),
		burst:   maxRequests,
	}
}

func (p *perClientLimiter) allow(clientID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	cl, ok := p.clients[clientID]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(p.rate, p.burst)}
		p.clients[clientID] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter.Allow()
}

func (p *perClientLimiter) cleanup(maxIdle time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for id, cl := range p.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(p.clients, id)
		}
	}
}

// RateLimit returns a per-client-IP token-bucket rate limiting middleware.
func RateLimit(cfg *RateLimitConfig) gin.HandlerFunc {
	if cfg == nil {
		cfg = DefaultRateLimitConfig()
	}
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := newPerClientLimiter(cfg.MaxRequests, cfg.WindowSeconds)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			limiter.cleanup(10 * time.Minute)
		}
	}()

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, exempt := range cfg.ExemptPaths {
			if strings.HasPrefix(path, exempt) {
				c.Next()
				return
			}
		}

		clientIP := getClientIP(c)
		if !limiter.allow(clientIP) {
			c.Header("Retry-After", strconv.Itoa(cfg.WindowSeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"type":    "rate_limit_error",
					"message": "Too many requests",
				},
			})
			return
		}

		c.Next()
	}
}

// getClientIP extracts the client IP, respecting reverse proxy headers.
func getClientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}
	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return xri
	}
	return c.ClientIP()
}

package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

// RateLimiterConfig configures the in-memory token bucket limiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the rate of token refill per key
	RequestsPerSecond float64

	// BurstSize is the bucket capacity
	BurstSize int

	// CleanupInterval is how often idle buckets are discarded
	CleanupInterval time.Duration

	// KeyFunc extracts the rate limit key from the request.
	// Default: gateway user id when present, client IP otherwise.
	KeyFunc func(r *http.Request) string
}

// DefaultRateLimiterConfig returns defaults sized for the client API.
// Entitlement reads are cheap; sync and usage reports are the endpoints
// a misbehaving client hammers, and 10 rps per user absorbs any sane
// retry schedule.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		CleanupInterval:   time.Minute,
		KeyFunc:           RateLimitKey,
	}
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// RateLimiter is a per-key token bucket limiter held in process memory.
// State is per instance; behind a load balancer each replica enforces
// its own share, which is acceptable for abuse protection.
type RateLimiter struct {
	config  RateLimiterConfig
	buckets map[string]*tokenBucket
	mu      sync.RWMutex
	stop    chan struct{}
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = RateLimitKey
	}

	rl := &RateLimiter{
		config:  config,
		buckets: make(map[string]*tokenBucket),
		stop:    make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow reports whether a request under key may proceed, consuming a token.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	bucket, exists := rl.buckets[key]
	if !exists {
		bucket = &tokenBucket{
			tokens:     float64(rl.config.BurstSize),
			lastRefill: time.Now(),
		}
		rl.buckets[key] = bucket
	}
	rl.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(bucket.lastRefill).Seconds()
	bucket.tokens += elapsed * rl.config.RequestsPerSecond
	if bucket.tokens > float64(rl.config.BurstSize) {
		bucket.tokens = float64(rl.config.BurstSize)
	}
	bucket.lastRefill = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}

	return false
}

// cleanup discards buckets that refilled completely and sat idle for a
// full cleanup interval.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, bucket := range rl.buckets {
				bucket.mu.Lock()
				if bucket.tokens >= float64(rl.config.BurstSize) &&
					now.Sub(bucket.lastRefill) > rl.config.CleanupInterval {
					delete(rl.buckets, key)
				}
				bucket.mu.Unlock()
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

// Stop terminates the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stop)
}

// Middleware applies the limiter, answering 429 with the standard error body.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.config.KeyFunc(r)

		if !rl.Allow(key) {
			w.Header().Set("Retry-After", "1")
			respondWithError(w, r, domain.Errorf(domain.ERATELIMIT, "", "Too many requests"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimitKey keys authenticated traffic by the gateway user id so one
// user cannot starve others sharing a NAT, and anonymous traffic
// (webhooks, health checks) by client IP.
func RateLimitKey(r *http.Request) string {
	if raw := r.Header.Get(UserIDHeader); raw != "" {
		return "user:" + raw
	}
	return "ip:" + clientIP(r)
}

// clientIP resolves the originating address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

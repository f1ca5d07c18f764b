package server

import (
	"context"
	"sync"
	"time"

	"github.com/raaihank/browser-sentinel/internal/config"
	"golang.org/x/time/rate"
)

// RateLimiter hands every client its own token bucket
type RateLimiter struct {
	config  config.RateLimitConfig
	buckets map[string]*clientBucket
	mu      sync.Mutex
	now     func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  cfg,
		buckets: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

// Allow checks if a request from the given client is allowed
func (r *RateLimiter) Allow(clientIP string) bool {
	if !r.config.Enabled {
		return true
	}
	now := r.now()
	return r.bucket(clientIP, now).AllowN(now, 1)
}

// bucket gets or creates the limiter for a client
func (r *RateLimiter) bucket(clientIP string, now time.Time) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[clientIP]
	if !ok {
		perSecond := rate.Limit(float64(r.config.RequestsPerMinute) / 60.0)
		b = &clientBucket{limiter: rate.NewLimiter(perSecond, r.config.Burst)}
		r.buckets[clientIP] = b
	}
	b.lastSeen = now
	return b.limiter
}

// CleanupOldBuckets removes buckets idle for longer than maxIdle
func (r *RateLimiter) CleanupOldBuckets(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxIdle)
	removed := 0
	for ip, b := range r.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(r.buckets, ip)
			removed++
		}
	}
	return removed
}

// Run periodically drops idle buckets until ctx is cancelled
func (r *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CleanupOldBuckets(time.Hour)
		}
	}
}

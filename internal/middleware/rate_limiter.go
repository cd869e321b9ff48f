package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/troy12x/si-copilot/internal/metrics"
)

// bucket is the token state of one caller
type bucket struct {
	tokens     int
	lastRefill time.Time
}

// RateLimiter is a per-caller token bucket. Callers are keyed by user ID
// when authenticated and by client IP otherwise.
type RateLimiter struct {
	name         string
	mu           sync.Mutex
	buckets      map[string]*bucket
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
	now          func() time.Time
}

// NewRateLimiter creates a limiter holding up to maxTokens per caller and
// adding refillRate tokens every refillPeriod
func NewRateLimiter(name string, maxTokens, refillRate int, refillPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		name:         name,
		buckets:      make(map[string]*bucket),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		now:          time.Now,
	}
}

// refill must be called with mu held
func (rl *RateLimiter) refill(key string) *bucket {
	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.maxTokens, lastRefill: now}
		rl.buckets[key] = b
		return b
	}
	if refills := int(now.Sub(b.lastRefill) / rl.refillPeriod); refills > 0 {
		b.tokens = min(rl.maxTokens, b.tokens+refills*rl.refillRate)
		b.lastRefill = b.lastRefill.Add(time.Duration(refills) * rl.refillPeriod)
	}
	return b
}

// Take consumes one token for key and reports whether it was available
// along with the tokens left
func (rl *RateLimiter) Take(key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b := rl.refill(key)
	if b.tokens == 0 {
		return false, 0
	}
	b.tokens--
	return true, b.tokens
}

// Allow consumes one token for key
func (rl *RateLimiter) Allow(key string) bool {
	ok, _ := rl.Take(key)
	return ok
}

// Remaining returns the tokens key has left without consuming one
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.refill(key).tokens
}

// Sweep drops buckets that have been idle long enough to be full again
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	periods := int(math.Ceil(float64(rl.maxTokens) / float64(max(rl.refillRate, 1))))
	idle := time.Duration(periods) * rl.refillPeriod
	now := rl.now()
	removed := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastRefill) >= idle {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// RateLimitMiddleware rejects callers that ran out of tokens with 429
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if userID, ok := GetUserID(c); ok {
			key = userID
		}

		ok, remaining := rl.Take(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.maxTokens))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			metrics.RateLimitedTotal.WithLabelValues(rl.name).Inc()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rl.refillPeriod.Seconds()))))
			RespondErrorWithRetry(c, http.StatusTooManyRequests, ErrCodeRateLimited,
				"Too many requests, please try again later", int(rl.refillPeriod.Milliseconds()))
			c.Abort()
			return
		}

		c.Next()
	}
}

// DefaultRateLimiter allows 100 requests per caller, refilling 10 a minute
var DefaultRateLimiter = NewRateLimiter("default", 100, 10, time.Minute)

// StrictRateLimiter guards run starts, which fan out into many upstream calls
var StrictRateLimiter = NewRateLimiter("strict", 20, 2, time.Minute)

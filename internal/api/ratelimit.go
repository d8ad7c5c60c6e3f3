package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// nodeBurstFactor widens the bucket for API-key traffic. Accountability
// nodes batch-submit entries, so their bursts run well past what a browser
// session ever produces.
const nodeBurstFactor = 4

// limiterRegistry is a token-bucket table keyed per caller. Anonymous and
// session traffic is bucketed by client IP; node traffic is bucketed by its
// API key, so one NAT'd node cannot starve another behind the same address.
type limiterRegistry struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rps     rate.Limit
	burst   int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterRegistry(rps, burst int) *limiterRegistry {
	reg := &limiterRegistry{
		buckets: make(map[string]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
	go reg.evictLoop()
	return reg
}

// allow takes one token from the caller's bucket, creating it on first
// sight. Node buckets get the wider burst.
func (reg *limiterRegistry) allow(key string, node bool) bool {
	reg.mu.Lock()
	b, ok := reg.buckets[key]
	if !ok {
		burst := reg.burst
		if node {
			burst *= nodeBurstFactor
		}
		b = &bucket{limiter: rate.NewLimiter(reg.rps, burst)}
		reg.buckets[key] = b
	}
	b.lastSeen = time.Now()
	reg.mu.Unlock()

	return b.limiter.Allow()
}

func (reg *limiterRegistry) evictLoop() {
	for {
		time.Sleep(5 * time.Minute)
		reg.mu.Lock()
		for key, b := range reg.buckets {
			if time.Since(b.lastSeen) > 10*time.Minute {
				delete(reg.buckets, key)
			}
		}
		reg.mu.Unlock()
	}
}

// RateLimiter returns a Gin middleware enforcing per-caller token-bucket
// rate limiting. rps is the steady-state requests per second; burst is the
// maximum burst for IP-keyed callers.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	reg := newLimiterRegistry(rps, burst)

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		node := false
		if apiKey := c.GetHeader(headerAPIKey); apiKey != "" {
			key = "key:" + apiKey
			node = true
		}

		if !reg.allow(key, node) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/attestia/attestia/internal/api"
)

func rateLimitedRouter(rps, burst int) *gin.Engine {
	r := gin.New()
	r.Use(api.RateLimiter(rps, burst))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func ping(r *gin.Engine, apiKey string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "203.0.113.7:4242"
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiter_ipBucket(t *testing.T) {
	r := rateLimitedRouter(1, 2)

	for i := 0; i < 2; i++ {
		if code := ping(r, ""); code != http.StatusOK {
			t.Fatalf("request %d: %d, want 200", i+1, code)
		}
	}
	if code := ping(r, ""); code != http.StatusTooManyRequests {
		t.Errorf("burst exceeded: %d, want 429", code)
	}
}

func TestRateLimiter_nodeKeysBucketIndependently(t *testing.T) {
	r := rateLimitedRouter(1, 1)

	// Node buckets are wider than the IP burst.
	allowed := 0
	for i := 0; i < 10; i++ {
		if ping(r, "aln_first") == http.StatusOK {
			allowed++
		}
	}
	if allowed < 2 || allowed == 10 {
		t.Errorf("node allowed %d of 10, want more than the IP burst but not all", allowed)
	}

	// Exhausting one key leaves a sibling key (same source IP) untouched.
	if code := ping(r, "aln_first"); code != http.StatusTooManyRequests {
		t.Fatalf("exhausted key: %d, want 429", code)
	}
	if code := ping(r, "aln_second"); code != http.StatusOK {
		t.Errorf("sibling key: %d, want 200", code)
	}

	// And plain IP traffic from the same address still has its own bucket.
	if code := ping(r, ""); code != http.StatusOK {
		t.Errorf("ip traffic after node exhaustion: %d, want 200", code)
	}
}

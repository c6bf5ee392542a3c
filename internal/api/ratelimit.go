package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/forumcore/internal/session"
	"golang.org/x/time/rate"
)

const (
	bucketSweepEvery = 5 * time.Minute
	bucketIdleAfter  = 10 * time.Minute
)

// ClientKey names the bucket a request draws from.
type ClientKey func(c *gin.Context) string

// IPKey buckets every request by client IP.
func IPKey(c *gin.Context) string { return "ip:" + c.ClientIP() }

// SessionKey buckets requests carrying a valid session token by account,
// so members behind one NAT do not share a bucket and a member keeps the
// same bucket across networks. Anonymous requests and unverifiable tokens
// fall back to IPKey; a forged token never earns a fresh bucket.
func SessionKey(tokens *session.Issuer) ClientKey {
	return func(c *gin.Context) string {
		auth := c.GetHeader("Authorization")
		if tokens == nil || !strings.HasPrefix(auth, "Bearer ") {
			return IPKey(c)
		}
		claims, err := tokens.Verify(strings.TrimPrefix(auth, "Bearer "))
		if err != nil || claims.UserID == "" {
			return IPKey(c)
		}
		return "user:" + claims.UserID
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns a Gin middleware granting each client key a token
// bucket of rps requests per second with the given burst. A nil key means
// IPKey. Idle buckets are swept until ctx is done.
func RateLimiter(ctx context.Context, rps, burst int, key ClientKey) gin.HandlerFunc {
	if key == nil {
		key = IPKey
	}
	var mu sync.Mutex
	buckets := make(map[string]*bucket)

	go func() {
		ticker := time.NewTicker(bucketSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				mu.Lock()
				for k, b := range buckets {
					if now.Sub(b.lastSeen) > bucketIdleAfter {
						delete(buckets, k)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(c *gin.Context) {
		k := key(c)

		mu.Lock()
		b, ok := buckets[k]
		if !ok {
			b = &bucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			buckets[k] = b
		}
		b.lastSeen = time.Now()
		mu.Unlock()

		if !b.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

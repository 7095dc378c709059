package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/feedsync/pkg/response"
)

// RateLimiter 按会话用户（无会话时按 IP）的令牌桶限流
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*visitor
}

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limit: rate.Limit(perSecond), burst: burst, limiters: make(map[string]*visitor)}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	v, ok := rl.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = v
	}
	v.seen = now
	// 顺手清理长时间不活跃的桶
	if len(rl.limiters) > 10000 {
		for k, old := range rl.limiters {
			if now.Sub(old.seen) > 10*time.Minute {
				delete(rl.limiters, k)
			}
		}
	}
	return v.limiter
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := UserID(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !rl.get(key).Allow() {
			response.TooManyRequests(c)
			return
		}
		c.Next()
	}
}

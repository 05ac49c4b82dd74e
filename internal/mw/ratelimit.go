package mw

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyLimiter struct {
	lim *rate.Limiter
	ts  time.Time
}

type RL struct {
	mu   sync.Mutex
	once sync.Once
	m    map[string]*keyLimiter
	r    rate.Limit
	b    int
	ttl  time.Duration
	stop chan struct{}
}

// NewRateLimiter 创建限速器并启动过期 key 的清理 goroutine。
func NewRateLimiter(r rate.Limit, burst int, ttl time.Duration) *RL {
	rl := &RL{m: make(map[string]*keyLimiter), r: r, b: burst, ttl: ttl, stop: make(chan struct{})}
	go rl.gc()
	return rl
}

func (rl *RL) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	kl, ok := rl.m[key]
	if ok {
		kl.ts = time.Now()
		return kl.lim
	}
	lim := rate.NewLimiter(rl.r, rl.b)
	rl.m[key] = &keyLimiter{lim: lim, ts: time.Now()}
	return lim
}

func (rl *RL) gc() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep(time.Now())
		}
	}
}

func (rl *RL) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, v := range rl.m {
		if now.Sub(v.ts) > rl.ttl {
			delete(rl.m, k)
		}
	}
}

// Stop 停止 GC goroutine，用于优雅停服。
func (rl *RL) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// Len 返回当前跟踪的 key 数量。
func (rl *RL) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.m)
}

// RateLimit 返回一个基于 IP+路由的令牌桶限速中间件，rl 由调用方创建并在停服时 Stop。
func RateLimit(rl *RL) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := clientIP(c.Request.RemoteAddr)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if !rl.get(ip + "|" + route).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"status": http.StatusTooManyRequests, "message": "too many requests"})
			return
		}
		c.Next()
	}
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

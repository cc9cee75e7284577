package mw

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"directchat/internal/metrics"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const sweepEvery = 30 * time.Second

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter 为每个客户端 IP+路由维护一个令牌桶，空闲超过 idle 的桶由后台清理。
type Limiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRateLimiter 会启动清理 goroutine，停服时需调用 Stop。
func NewRateLimiter(rps float64, burst int, idle time.Duration) *Limiter {
	rl := &Limiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idle:    idle,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go rl.loop()
	return rl
}

func (rl *Limiter) bucketFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// sweep drops buckets not used since now-idle and returns how many remain.
func (rl *Limiter) sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.idle {
			delete(rl.buckets, k)
		}
	}
	return len(rl.buckets)
}

func (rl *Limiter) loop() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

// Stop 停止清理 goroutine，用于优雅停服，可重复调用。
func (rl *Limiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Middleware 对令牌耗尽的请求返回 429，并通过 Retry-After 提示重试时间。
func (rl *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		now := time.Now()
		lim := rl.bucketFor(clientIP(c.Request.RemoteAddr)+"|"+route, now)

		r := lim.ReserveN(now, 1)
		if delay := r.DelayFrom(now); delay > 0 || !r.OK() {
			r.CancelAt(now)
			if r.OK() {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			}
			metrics.RateLimitedTotal.WithLabelValues(route).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"statusCode": http.StatusTooManyRequests, "success": false, "message": "too many requests", "data": nil})
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

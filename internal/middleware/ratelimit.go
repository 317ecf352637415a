// 包 middleware：本地 API 的入口限流
package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"region-sync/internal/logger"
)

// 文档注释：令牌桶
// 背景：本地 API 的每个操作都会转发到上游服务，入口限速可避免把突发流量放大到上游。
// 约束：按秒速率连续补充，容量为 burst；不排队，拒绝时返回 429。
type TokenBucket struct {
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
	now      func() time.Time
	mu       sync.Mutex
}

func NewTokenBucket(qps float64, burst int) *TokenBucket {
	if qps <= 0 {
		qps = 20
	}
	if burst <= 0 {
		burst = int(qps)
		if burst < 1 {
			burst = 1
		}
	}
	tb := &TokenBucket{rate: qps, capacity: float64(burst), tokens: float64(burst), now: time.Now}
	tb.last = tb.now()
	return tb
}

func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := tb.now()
	if el := now.Sub(tb.last).Seconds(); el > 0 {
		tb.tokens += el * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
	}
	tb.last = now
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wrap：enabled 为 false 时原样返回；exempt 前缀（如 /metrics、直播通道）不计入限流
func Wrap(next http.Handler, enabled bool, qps float64, burst int, exempt ...string) http.Handler {
	if !enabled {
		return next
	}
	tb := NewTokenBucket(qps, burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, p := range exempt {
			if strings.HasPrefix(r.URL.Path, p) {
				next.ServeHTTP(w, r)
				return
			}
		}
		if !tb.Allow() {
			logger.L().Debug("rate_limited", "path", r.URL.Path, "ip", r.RemoteAddr)
			w.Header().Set("retry-after", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

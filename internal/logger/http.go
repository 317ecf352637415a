// 包 logger：本地 API 访问日志，按路由标签记录状态、耗时与实时通道升级
package logger

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

type accessKey struct{}

// accessEntry：一次请求的访问记录；路由标签由下游的路由层回填
type accessEntry struct {
	route    string
	status   int
	bytes    int
	upgraded bool
}

// SetRoute：在访问日志中标注命中的路由；请求未经 AccessMiddleware 时无操作
func SetRoute(ctx context.Context, route string) {
	if e, ok := ctx.Value(accessKey{}).(*accessEntry); ok {
		e.route = route
	}
}

type accessWriter struct {
	http.ResponseWriter
	e *accessEntry
}

func (w *accessWriter) WriteHeader(code int) {
	w.e.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack：/live 需要升级为 WebSocket，透传底层 Hijacker
func (w *accessWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	w.e.status = http.StatusSwitchingProtocols
	w.e.upgraded = true
	return hj.Hijack()
}

func (w *accessWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.e.bytes += n
	return n, err
}

// 文档注释：访问日志中间件
// 背景：导航与打击请求多为短请求，/live 为长连接；长连接在断开时才记录，duration 即在线时长。
// 约束：不读取请求体；5xx 以 Warn 记录，其余为 Debug；未命中路由时 route 为空。
func AccessMiddleware(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			e := &accessEntry{status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(&accessWriter{ResponseWriter: w, e: e}, r.WithContext(context.WithValue(r.Context(), accessKey{}, e)))
			level := slog.LevelDebug
			if e.status >= 500 {
				level = slog.LevelWarn
			}
			l.Log(r.Context(), level, "http_access",
				"route", e.route,
				"method", r.Method,
				"path", r.URL.Path,
				"status", e.status,
				"bytes", e.bytes,
				"upgraded", e.upgraded,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", r.RemoteAddr,
			)
		})
	}
}

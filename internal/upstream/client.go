// 包 upstream：后端 REST 服务的薄客户端（区域、用户、打击、补给、活动轨迹）
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"region-sync/internal/geometry"
	"region-sync/internal/logger"
	"region-sync/internal/metrics"
	"region-sync/internal/tracing"
)

// 响应体读取上限，区域边界可能较大
const maxBody = 32 << 20

var ErrNotFound = errors.New("not found")

// StatusError：非 2xx 响应
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %d", e.Op, e.Code)
}

// Unwrap：404 可用 errors.Is(err, ErrNotFound) 判定
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Client：共享 HTTP 客户端与边界归一化器
type Client struct {
	base   string
	hc     *http.Client
	norm   *geometry.Normalizer
	tracer trace.Tracer
}

// New：base 形如 http://host:port/api；hc 为空时使用 10s 超时的默认客户端
func New(base string, hc *http.Client, norm *geometry.Normalizer) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	if norm == nil {
		norm = geometry.NewNormalizer(nil)
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		hc:     hc,
		norm:   norm,
		tracer: tracing.Tracer("upstream"),
	}
}

// call：一次请求的公共流程：span、指标、日志、状态码判定；decode 为空时丢弃响应体
func (c *Client) call(ctx context.Context, op, method, path string, q url.Values, decode func([]byte) error) error {
	return c.send(ctx, op, method, path, q, nil, decode)
}

// send：in 非空时以 JSON 作为请求体
func (c *Client) send(ctx context.Context, op, method, path string, q url.Values, in any, decode func([]byte) error) error {
	ctx, span := c.tracer.Start(ctx, "upstream."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.url", u))

	t0 := time.Now()
	metrics.UpstreamRequestsTotal.WithLabelValues(op).Inc()
	logger.L().Debug("upstream_req", "op", op, "method", method, "url", u)
	resp, err := c.hc.Do(req)
	if err != nil {
		metrics.UpstreamFailTotal.WithLabelValues(op).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		logger.L().Error("upstream_http_error", "op", op, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	dur := time.Since(t0).Milliseconds()
	metrics.UpstreamDurationMs.WithLabelValues(op).Observe(float64(dur))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err != nil {
		metrics.UpstreamFailTotal.WithLabelValues(op).Inc()
		return fmt.Errorf("%s: read body: %w", op, err)
	}
	logger.L().Debug("upstream_resp", "op", op, "status", resp.StatusCode, "bytes", len(raw), "duration_ms", dur)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.UpstreamFailTotal.WithLabelValues(op).Inc()
		span.SetStatus(codes.Error, resp.Status)
		return &StatusError{Op: op, Code: resp.StatusCode, Body: string(raw)}
	}
	if decode == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := decode(raw); err != nil {
		metrics.UpstreamFailTotal.WithLabelValues(op).Inc()
		logger.L().Error("upstream_decode_error", "op", op, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// getJSON：GET 并解码到 out
func (c *Client) getJSON(ctx context.Context, op, path string, q url.Values, out any) error {
	return c.call(ctx, op, http.MethodGet, path, q, jsonInto(out))
}

func jsonInto(out any) func([]byte) error {
	return func(b []byte) error { return json.Unmarshal(b, out) }
}

func seg(s string) string { return url.PathEscape(s) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

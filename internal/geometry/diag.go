package geometry

import (
	"sync"
	"time"

	"region-sync/internal/logger"
	"region-sync/internal/metrics"
)

// Reason：无法归一化的原因分类，同时作为指标标签
type Reason string

const (
	ReasonMissing      Reason = "missing"
	ReasonUnrecognized Reason = "unrecognized_format"
	ReasonUnknownType  Reason = "unknown_geometry_type"
	ReasonMalformed    Reason = "malformed_coordinates"
	ReasonEmptyRing    Reason = "empty_ring"
)

// 原始负载在告警中最多保留的字节数
const maxRawExcerpt = 256

// Warning：一次归一化失败的结构化记录
type Warning struct {
	Region       string    `json:"region"`
	Reason       Reason    `json:"reason"`
	GeometryType string    `json:"geometryType,omitempty"`
	Excerpt      string    `json:"excerpt,omitempty"`
	At           time.Time `json:"at"`
}

// Sink：告警接收方
type Sink interface {
	Warn(Warning)
}

// SinkFunc：函数适配器
type SinkFunc func(Warning)

func (f SinkFunc) Warn(w Warning) { f(w) }

// LogSink：写日志并计数，是默认接收方
type LogSink struct{}

func (LogSink) Warn(w Warning) {
	metrics.NormalizeWarningsTotal.WithLabelValues(string(w.Reason)).Inc()
	logger.L().Warn("boundary_unrecognized",
		"region", w.Region,
		"reason", w.Reason,
		"geometry_type", w.GeometryType,
		"excerpt", w.Excerpt,
	)
}

// Recorder：可检视的告警流，供测试与审计命令读取
// Limit 大于 0 时只保留最近 Limit 条（常驻服务中使用）
type Recorder struct {
	Limit int

	mu       sync.Mutex
	warnings []Warning
}

func (r *Recorder) Warn(w Warning) {
	r.mu.Lock()
	r.warnings = append(r.warnings, w)
	if r.Limit > 0 && len(r.warnings) > r.Limit {
		r.warnings = append(r.warnings[:0], r.warnings[len(r.warnings)-r.Limit:]...)
	}
	r.mu.Unlock()
}

// Warnings：返回副本
func (r *Recorder) Warnings() []Warning {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Warning, len(r.warnings))
	copy(out, r.warnings)
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.warnings = nil
	r.mu.Unlock()
}

// Tee：把同一告警分发给多个接收方
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(w Warning) {
		for _, s := range sinks {
			if s != nil {
				s.Warn(w)
			}
		}
	})
}

func excerpt(raw []byte) string {
	if len(raw) > maxRawExcerpt {
		return string(raw[:maxRawExcerpt]) + "..."
	}
	return string(raw)
}

// 包 activity：把相对位移序列还原为绝对轨迹；同一主体的新请求覆盖旧请求
package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"region-sync/internal/logger"
	"region-sync/internal/metrics"
	"region-sync/internal/model"
)

// DeltaSource：活动日志服务；无数据时返回 (nil, nil)
type DeltaSource interface {
	ActivityDeltas(ctx context.Context, subjectID string, w model.TimeWindow) ([]model.ActivityDelta, error)
}

// MsgFetchFailed：拉取失败时面向界面的文案
const MsgFetchFailed = "failed to fetch activity data"

// Result：一次还原的结果
// Path 为 nil 表示没有位移数据，与只含锚点的轨迹区分
type Result struct {
	SubjectID string              `json:"subjectId"`
	Seq       uint64              `json:"seq"`
	Window    model.TimeWindow    `json:"window"`
	Path      []model.GeoLocation `json:"path"`
	Stale     bool                `json:"stale"`
}

// Reconstructor：轨迹还原器
// 约束：每个主体维护单调递增的请求序号，只有最新序号的结果会被发布
type Reconstructor struct {
	src     DeltaSource
	timeout time.Duration
	log     *slog.Logger

	mu        sync.Mutex
	seq       map[string]uint64
	paths     map[string][]model.GeoLocation
	listeners map[uint64]func(subjectID string, path []model.GeoLocation)
	nextLis   uint64
}

type Option func(*Reconstructor)

func WithTimeout(d time.Duration) Option {
	return func(r *Reconstructor) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconstructor) {
		if l != nil {
			r.log = l
		}
	}
}

func New(src DeltaSource, opts ...Option) *Reconstructor {
	r := &Reconstructor{
		src:       src,
		timeout:   10 * time.Second,
		log:       logger.L(),
		seq:       make(map[string]uint64),
		paths:     make(map[string][]model.GeoLocation),
		listeners: make(map[uint64]func(string, []model.GeoLocation)),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reconstruct：按时间窗重新拉取位移并从锚点折叠出轨迹
// 约束：每次调用都是全新拉取；返回时若已有更新的请求，结果标记 Stale 且不发布
func (r *Reconstructor) Reconstruct(ctx context.Context, subjectID string, anchor model.GeoLocation, w model.TimeWindow) (Result, error) {
	w = w.Normalize()
	r.mu.Lock()
	r.seq[subjectID]++
	seq := r.seq[subjectID]
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	deltas, err := r.src.ActivityDeltas(ctx, subjectID, w)
	cancel()

	res := Result{SubjectID: subjectID, Seq: seq, Window: w}
	r.mu.Lock()
	if r.seq[subjectID] != seq {
		r.mu.Unlock()
		metrics.StaleDroppedTotal.WithLabelValues("activity").Inc()
		r.log.Debug("activity_stale_result", "subject", subjectID, "seq", seq)
		res.Stale = true
		return res, nil
	}
	if err != nil {
		r.mu.Unlock()
		r.log.Error("activity_fetch_error", "subject", subjectID, "err", err)
		return res, err
	}
	res.Path = Fold(anchor, deltas)
	if res.Path == nil {
		delete(r.paths, subjectID)
	} else {
		r.paths[subjectID] = res.Path
	}
	fns := r.listenersLocked()
	r.mu.Unlock()

	r.log.Debug("activity_path", "subject", subjectID, "seq", seq, "deltas", len(deltas), "points", len(res.Path))
	for _, fn := range fns {
		fn(subjectID, clonePath(res.Path))
	}
	return res, nil
}

// Fold：lat 累加 dy，lon 累加 dx，每个有效位移追加一个点
// 约束：没有位移时返回 nil；非数值位移跳过，不中止
func Fold(anchor model.GeoLocation, deltas []model.ActivityDelta) []model.GeoLocation {
	if len(deltas) == 0 {
		return nil
	}
	path := make([]model.GeoLocation, 1, len(deltas)+1)
	path[0] = anchor
	cur := anchor
	for _, d := range deltas {
		if !d.Numeric() {
			continue
		}
		cur.Latitude += *d.DY
		cur.Longitude += *d.DX
		path = append(path, cur)
	}
	return path
}

// Current：最近一次发布的轨迹
func (r *Reconstructor) Current(subjectID string) ([]model.GeoLocation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.paths[subjectID]
	return clonePath(p), ok
}

// Clear：作废进行中的请求并清除已发布的轨迹
func (r *Reconstructor) Clear(subjectID string) {
	r.mu.Lock()
	r.seq[subjectID]++
	_, had := r.paths[subjectID]
	delete(r.paths, subjectID)
	fns := r.listenersLocked()
	r.mu.Unlock()
	if !had {
		return
	}
	for _, fn := range fns {
		fn(subjectID, nil)
	}
}

// OnPath：只接收非过期结果；路径为 nil 表示清除
func (r *Reconstructor) OnPath(fn func(subjectID string, path []model.GeoLocation)) (cancel func()) {
	r.mu.Lock()
	r.nextLis++
	id := r.nextLis
	r.listeners[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Reconstructor) listenersLocked() []func(string, []model.GeoLocation) {
	fns := make([]func(string, []model.GeoLocation), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func clonePath(p []model.GeoLocation) []model.GeoLocation {
	if p == nil {
		return nil
	}
	return append([]model.GeoLocation(nil), p...)
}

// 包 navigator：维护区域层级的下钻状态，并发拉取下级区域，按目标匹配丢弃过期结果
package navigator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"region-sync/internal/logger"
	"region-sync/internal/metrics"
	"region-sync/internal/model"
)

// RegionSource：区域服务
type RegionSource interface {
	RefreshAllStatistics(ctx context.Context) error
	RegionsByType(ctx context.Context, t model.RegionType) ([]model.Region, error)
	SubRegions(ctx context.Context, parentID string) ([]model.Region, error)
	RegionByID(ctx context.Context, id string) (model.Region, error)
}

// Snapshotter：顶层集合的最近一次成功快照
type Snapshotter interface {
	SaveTopLevel(ctx context.Context, t model.RegionType, regions []model.Region) error
	LoadTopLevel(ctx context.Context, t model.RegionType) ([]model.Region, bool, error)
}

var ErrUnknownRegion = errors.New("region not found in navigator state")

// 面向界面的错误文案；失败时保留原状态
const (
	msgFetchRegions = "failed to fetch regions"
	msgFetchSub     = "failed to fetch sub-regions"
	msgFetchParent  = "failed to fetch parent region"
)

// DefaultRatingThreshold：低于该评分的区域以警示色绘制
const DefaultRatingThreshold = 30

// Navigator：区域导航器
// 约束：互斥锁只保护内存状态，不跨越 I/O；拉取结果只有在序号仍为最新且目标未变时才会生效。
// 不变量：targetRegionID 为空时显示顶层集合；否则显示 {目标快照} ∪ 目标的下级区域。
type Navigator struct {
	src       RegionSource
	snap      Snapshotter
	timeout   time.Duration
	threshold float64
	log       *slog.Logger

	mu         sync.Mutex
	regionType model.RegionType
	topLevel   []model.Region
	target     string
	parent     *model.Region
	sub        []model.Region
	subFor     string
	trail      []model.Region
	errMsg     string
	pending    int
	selectSeq  uint64
	drillSeq   uint64
	listeners  map[uint64]func(View)
	nextLis    uint64

	wg sync.WaitGroup
}

type Option func(*Navigator)

func WithSnapshotter(s Snapshotter) Option { return func(n *Navigator) { n.snap = s } }

// WithTimeout：后台拉取的超时
func WithTimeout(d time.Duration) Option {
	return func(n *Navigator) {
		if d > 0 {
			n.timeout = d
		}
	}
}

func WithRatingThreshold(v float64) Option { return func(n *Navigator) { n.threshold = v } }

func WithLogger(l *slog.Logger) Option {
	return func(n *Navigator) {
		if l != nil {
			n.log = l
		}
	}
}

func New(src RegionSource, t model.RegionType, opts ...Option) *Navigator {
	n := &Navigator{
		src:        src,
		timeout:    10 * time.Second,
		threshold:  DefaultRatingThreshold,
		log:        logger.L(),
		regionType: t,
		listeners:  make(map[uint64]func(View)),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// SelectTopLevel：刷新统计后拉取该层级全部区域，并清空下钻状态
// 约束：失败时状态不变，只记录一条错误文案；被更新的选择覆盖时结果丢弃
func (n *Navigator) SelectTopLevel(ctx context.Context, t model.RegionType) error {
	n.mu.Lock()
	n.selectSeq++
	seq := n.selectSeq
	n.pending++
	n.mu.Unlock()
	n.notify()

	regions, err := n.fetchTopLevel(ctx, t)

	n.mu.Lock()
	n.pending--
	if seq != n.selectSeq {
		n.mu.Unlock()
		n.stale("select", string(t))
		return nil
	}
	if err != nil {
		n.errMsg = msgFetchRegions
		n.mu.Unlock()
		n.log.Error("navigator_select_error", "type", t, "err", err)
		n.notify()
		return err
	}
	n.regionType = t
	n.topLevel = regions
	n.resetLocked()
	n.errMsg = ""
	// 进行中的下钻属于旧层级
	n.drillSeq++
	n.mu.Unlock()
	n.log.Info("navigator_select", "type", t, "regions", len(regions))
	n.notify()
	n.saveSnapshot(ctx, t, regions)
	return nil
}

// Refresh：重新拉取当前层级的顶层集合，保留下钻位置（轮询兜底）
func (n *Navigator) Refresh(ctx context.Context) error {
	n.mu.Lock()
	seq, t := n.selectSeq, n.regionType
	n.mu.Unlock()

	regions, err := n.fetchTopLevel(ctx, t)

	n.mu.Lock()
	if seq != n.selectSeq || t != n.regionType {
		n.mu.Unlock()
		n.stale("refresh", string(t))
		return nil
	}
	if err != nil {
		n.errMsg = msgFetchRegions
		n.mu.Unlock()
		n.notify()
		return err
	}
	n.topLevel = regions
	if n.errMsg == msgFetchRegions {
		n.errMsg = ""
	}
	n.mu.Unlock()
	n.notify()
	n.saveSnapshot(ctx, t, regions)
	return nil
}

// Reload：后台刷新统计与顶层集合，并重新拉取当前目标快照及其下级（打击后聚合值与告警色随之更新）
func (n *Navigator) Reload() {
	n.mu.Lock()
	n.pending++
	n.wg.Add(1)
	n.mu.Unlock()
	n.notify()
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		err := n.reload(ctx)
		n.mu.Lock()
		n.pending--
		n.mu.Unlock()
		if err != nil {
			n.log.Warn("navigator_reload_error", "err", err)
		}
		n.notify()
	}()
}

func (n *Navigator) reload(ctx context.Context) error {
	if err := n.Refresh(ctx); err != nil {
		return err
	}
	n.mu.Lock()
	target, seq := n.target, n.drillSeq
	n.mu.Unlock()
	if target == "" {
		return nil
	}
	reg, err := n.src.RegionByID(ctx, target)
	if err != nil {
		return err
	}
	var subs []model.Region
	if !reg.Terminal() {
		if subs, err = n.src.SubRegions(ctx, target); err != nil {
			return err
		}
	}
	n.mu.Lock()
	if seq != n.drillSeq || n.target != target {
		n.mu.Unlock()
		n.stale("reload", target)
		return nil
	}
	n.parent = &reg
	if k := len(n.trail); k > 0 && n.trail[k-1].ID == target {
		trail := append([]model.Region(nil), n.trail...)
		trail[k-1] = reg
		n.trail = trail
	}
	n.sub, n.subFor = subs, target
	n.mu.Unlock()
	n.log.Debug("navigator_reload", "region", target, "count", len(subs))
	return nil
}

func (n *Navigator) fetchTopLevel(ctx context.Context, t model.RegionType) ([]model.Region, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.src.RefreshAllStatistics(ctx); err != nil {
		return nil, err
	}
	return n.src.RegionsByType(ctx, t)
}

// Seed：首次拉取成功前，用缓存快照填充顶层集合
func (n *Navigator) Seed(ctx context.Context) bool {
	if n.snap == nil {
		return false
	}
	n.mu.Lock()
	t, seq := n.regionType, n.selectSeq
	n.mu.Unlock()
	regions, ok, err := n.snap.LoadTopLevel(ctx, t)
	if err != nil {
		n.log.Warn("navigator_seed_error", "type", t, "err", err)
		return false
	}
	if !ok {
		return false
	}
	n.mu.Lock()
	if seq != n.selectSeq || n.topLevel != nil {
		n.mu.Unlock()
		return false
	}
	n.topLevel = regions
	n.mu.Unlock()
	n.log.Info("navigator_seeded", "type", t, "regions", len(regions))
	n.notify()
	return true
}

func (n *Navigator) saveSnapshot(ctx context.Context, t model.RegionType, regions []model.Region) {
	if n.snap == nil {
		return
	}
	if err := n.snap.SaveTopLevel(ctx, t, regions); err != nil {
		n.log.Warn("navigator_snapshot_save_error", "type", t, "err", err)
	}
}

// DrillInto：以点击的区域为目标，立即生效；下级区域在后台拉取
// 约束：拉取期间继续显示旧的下级集合；人口为 0 的区域不再请求下级
func (n *Navigator) DrillInto(regionID string) error {
	n.mu.Lock()
	if regionID == n.target && n.errMsg == "" {
		n.mu.Unlock()
		return nil
	}
	r, where, ok := n.findLocked(regionID)
	if !ok {
		n.mu.Unlock()
		return ErrUnknownRegion
	}
	n.drillSeq++
	seq := n.drillSeq
	n.target = r.ID
	n.parent = &r
	switch where {
	case foundTop:
		n.trail = []model.Region{r}
	case foundSub:
		n.trail = append(n.trailUpToLocked(n.subFor), r)
	}
	if r.Terminal() {
		n.sub = nil
		n.subFor = r.ID
		n.mu.Unlock()
		n.log.Debug("navigator_drill_terminal", "region", r.ID)
		n.notify()
		return nil
	}
	n.pending++
	n.wg.Add(1)
	n.mu.Unlock()

	n.log.Debug("navigator_drill", "region", r.ID, "seq", seq)
	n.notify()
	go n.loadSubregions(seq, r.ID)
	return nil
}

// DrillToParent：目标快照有上级时改以上级为目标并重新拉取；否则回到顶层集合
func (n *Navigator) DrillToParent() {
	n.mu.Lock()
	if n.target == "" {
		n.mu.Unlock()
		return
	}
	pid := ""
	if n.parent != nil {
		pid = n.parent.ParentRegionID
	}
	n.drillSeq++
	seq := n.drillSeq
	if pid == "" {
		n.resetLocked()
		n.mu.Unlock()
		n.notify()
		return
	}
	trail := n.trail
	if k := len(trail); k > 0 && trail[k-1].ID == n.target {
		trail = trail[:k-1:k-1]
	}
	var local *model.Region
	if k := len(trail); k > 0 && trail[k-1].ID == pid {
		r := trail[k-1]
		local = &r
	} else if r, where, ok := n.findLocked(pid); ok && where == foundTop {
		local = &r
		trail = []model.Region{r}
	}
	// 上级快照未知时保留当前目标，取回上级后再切换
	from := n.target
	if local != nil {
		n.target = pid
		n.parent = local
		n.trail = trail
		from = pid
	}
	n.pending++
	n.wg.Add(1)
	n.mu.Unlock()

	n.log.Debug("navigator_drill_parent", "region", pid, "seq", seq, "local", local != nil)
	n.notify()
	go n.loadParent(seq, pid, from, local)
}

func (n *Navigator) resetLocked() {
	n.target = ""
	n.parent = nil
	n.sub = nil
	n.subFor = ""
	n.trail = nil
}

// trailUpToLocked：截断到 id（含）为止；id 不在路径中时返回空路径
func (n *Navigator) trailUpToLocked(id string) []model.Region {
	for i, r := range n.trail {
		if r.ID == id {
			return n.trail[:i+1:i+1]
		}
	}
	return nil
}

func (n *Navigator) loadSubregions(seq uint64, id string) {
	defer n.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	subs, err := n.src.SubRegions(ctx, id)
	n.applySubregions(seq, id, subs, err)
}

// loadParent：按 id 拉取上级的最新快照，再拉取其下级区域
// from 为发起时的目标：上级已在本地时即 pid，否则仍是原目标
func (n *Navigator) loadParent(seq uint64, pid, from string, local *model.Region) {
	defer n.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	parent, err := n.src.RegionByID(ctx, pid)
	n.mu.Lock()
	if !n.currentLocked(seq, from) {
		n.pending--
		n.mu.Unlock()
		n.stale("parent", pid)
		return
	}
	if err != nil {
		if local == nil {
			n.pending--
			n.errMsg = msgFetchParent
			n.mu.Unlock()
			n.log.Error("navigator_parent_error", "region", pid, "err", err)
			n.notify()
			return
		}
		n.log.Warn("navigator_parent_refresh_error", "region", pid, "err", err)
	} else {
		n.target = pid
		n.parent = &parent
		if k := len(n.trail); k > 0 && n.trail[k-1].ID == pid {
			trail := append([]model.Region(nil), n.trail...)
			trail[k-1] = parent
			n.trail = trail
		} else {
			n.trail = []model.Region{parent}
		}
	}
	if n.parent != nil && n.parent.ID == pid && n.parent.Terminal() {
		n.pending--
		n.sub = nil
		n.subFor = pid
		n.mu.Unlock()
		n.notify()
		return
	}
	n.mu.Unlock()
	n.notify()

	subs, err := n.src.SubRegions(ctx, pid)
	n.applySubregions(seq, pid, subs, err)
}

func (n *Navigator) applySubregions(seq uint64, id string, subs []model.Region, err error) {
	n.mu.Lock()
	n.pending--
	if !n.currentLocked(seq, id) {
		n.mu.Unlock()
		n.stale("subregions", id)
		return
	}
	if err != nil {
		n.errMsg = msgFetchSub
		n.mu.Unlock()
		n.log.Error("navigator_subregions_error", "region", id, "err", err)
		n.notify()
		return
	}
	n.sub = subs
	n.subFor = id
	n.errMsg = ""
	n.mu.Unlock()
	n.log.Debug("navigator_subregions", "region", id, "count", len(subs))
	n.notify()
}

// currentLocked：结果仍属于最新一次导航且目标未变
func (n *Navigator) currentLocked(seq uint64, id string) bool {
	return seq == n.drillSeq && n.target == id
}

func (n *Navigator) stale(kind, id string) {
	metrics.StaleDroppedTotal.WithLabelValues("navigator").Inc()
	n.log.Debug("navigator_stale_result", "kind", kind, "id", id)
}

// ApplyPushUpdate：按 id 替换顶层集合或下级集合中的对应项
// 约束：类型与当前层级不同的推送直接丢弃；返回是否有替换
func (n *Navigator) ApplyPushUpdate(r model.Region) bool {
	n.mu.Lock()
	if r.Type != n.regionType {
		n.mu.Unlock()
		n.log.Debug("navigator_push_ignored", "region", r.ID, "type", r.Type, "want", n.regionType)
		return false
	}
	var changed, subChanged bool
	n.topLevel, changed = replaceByID(n.topLevel, r)
	n.sub, subChanged = replaceByID(n.sub, r)
	changed = changed || subChanged
	n.mu.Unlock()
	if changed {
		n.notify()
	}
	return changed
}

// replaceByID：命中时返回替换后的新切片，原切片不被修改（快照保存可能仍在读取）
func replaceByID(list []model.Region, r model.Region) ([]model.Region, bool) {
	for i := range list {
		if list[i].ID == r.ID {
			out := append([]model.Region(nil), list...)
			out[i] = r
			return out, true
		}
	}
	return list, false
}

type foundIn int

const (
	foundTop foundIn = iota
	foundSub
	foundParent
)

// findLocked：下级集合优先，其次顶层集合，最后是当前目标快照
func (n *Navigator) findLocked(id string) (model.Region, foundIn, bool) {
	for _, r := range n.sub {
		if r.ID == id {
			return r, foundSub, true
		}
	}
	for _, r := range n.topLevel {
		if r.ID == id {
			return r, foundTop, true
		}
	}
	if n.parent != nil && n.parent.ID == id {
		return *n.parent, foundParent, true
	}
	return model.Region{}, 0, false
}

// Wait：等待所有后台拉取结束
func (n *Navigator) Wait() { n.wg.Wait() }

// Subscribe：状态变化时回调完整视图；返回取消函数
func (n *Navigator) Subscribe(fn func(View)) (cancel func()) {
	n.mu.Lock()
	n.nextLis++
	id := n.nextLis
	n.listeners[id] = fn
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

func (n *Navigator) notify() {
	n.mu.Lock()
	if len(n.listeners) == 0 {
		n.mu.Unlock()
		return
	}
	v := n.viewLocked()
	fns := make([]func(View), 0, len(n.listeners))
	for _, fn := range n.listeners {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

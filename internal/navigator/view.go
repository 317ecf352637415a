package navigator

import (
	"region-sync/internal/geometry"
	"region-sync/internal/model"
)

// Layer：绘制层，下级区域层在上，先接收指针事件
type Layer string

const (
	LayerBase      Layer = "base"
	LayerSubregion Layer = "subregion"
)

const (
	ColorTarget      = "#ff0000"
	ColorUnderThreat = "#ff3333"
	ColorLowRating   = "#ff9900"
	ColorNormal      = "#00cc00"
)

// Style：绘制提示
type Style struct {
	Color       string  `json:"color"`
	FillOpacity float64 `json:"fillOpacity"`
	Weight      int     `json:"weight"`
	// Interactive 为 false 时指针穿透到下层
	Interactive bool `json:"interactive"`
}

// RenderedRegion：显示集合中的一项
type RenderedRegion struct {
	Region      model.Region `json:"region"`
	Layer       Layer        `json:"layer"`
	Style       Style        `json:"style"`
	IsTarget    bool         `json:"isTarget"`
	IsSubregion bool         `json:"isSubregion"`
	// Drawable 为 false 的环少于 3 个点，调用方应跳过
	Drawable bool `json:"drawable"`
	// Live 为 false 表示人口为 0 的终止区域
	Live bool `json:"live"`
}

type Crumb struct {
	ID   string           `json:"id"`
	Name string           `json:"name"`
	Type model.RegionType `json:"type"`
}

// View：某一时刻的完整显示状态，按绘制顺序排列（基础层在前）
type View struct {
	RegionType     model.RegionType `json:"regionType"`
	TargetRegionID string           `json:"targetRegionId,omitempty"`
	Regions        []RenderedRegion `json:"regions"`
	Breadcrumbs    []Crumb          `json:"breadcrumbs"`
	Error          string           `json:"error,omitempty"`
	Loading        bool             `json:"loading"`
}

// StyleFor：颜色按 目标 > 受威胁 > 低评分 > 正常 的优先级选取
func StyleFor(r model.Region, isTarget, isSub, hasActiveSubs bool, threshold float64) Style {
	s := Style{Weight: 2, Interactive: true}
	switch {
	case isTarget:
		s.Color = ColorTarget
	case r.UnderThreat:
		s.Color = ColorUnderThreat
	case r.AverageSocialRating < threshold:
		s.Color = ColorLowRating
	default:
		s.Color = ColorNormal
	}
	switch {
	case isTarget && hasActiveSubs:
		s.FillOpacity = 0.1
		s.Interactive = false
	case isTarget:
		s.FillOpacity = 0.8
	case isSub:
		s.FillOpacity = 0.7
	default:
		s.FillOpacity = 0.3
	}
	if isSub {
		s.Weight = 3
	}
	return s
}

// View：返回当前显示状态的副本
func (n *Navigator) View() View {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.viewLocked()
}

func (n *Navigator) viewLocked() View {
	v := View{
		RegionType:     n.regionType,
		TargetRegionID: n.target,
		Error:          n.errMsg,
		Loading:        n.pending > 0,
		Breadcrumbs:    make([]Crumb, 0, len(n.trail)),
	}
	for _, r := range n.trail {
		v.Breadcrumbs = append(v.Breadcrumbs, Crumb{ID: r.ID, Name: r.Name, Type: r.Type})
	}

	var displayed []model.Region
	if n.target == "" {
		displayed = n.topLevel
	} else {
		if n.parent != nil {
			displayed = append(displayed, *n.parent)
		}
		for _, r := range n.sub {
			// 从下级下钻时，旧下级集合里仍有新目标；以快照为准
			if n.parent != nil && r.ID == n.parent.ID {
				continue
			}
			displayed = append(displayed, r)
		}
	}
	subIDs := make(map[string]bool, len(n.sub))
	for _, r := range n.sub {
		subIDs[r.ID] = true
	}
	hasActiveSubs := n.target != "" && len(n.sub) > 0

	var base, top []RenderedRegion
	for _, r := range displayed {
		isTarget := n.target != "" && r.ID == n.target
		isSub := !isTarget && (subIDs[r.ID] || (n.target != "" && r.ParentRegionID == n.target))
		rr := RenderedRegion{
			Region:      cloneRegion(r),
			IsTarget:    isTarget,
			IsSubregion: isSub,
			Drawable:    r.Drawable(),
			Live:        !r.Terminal(),
			Style:       StyleFor(r, isTarget, isSub, hasActiveSubs, n.threshold),
		}
		if isSub {
			rr.Layer = LayerSubregion
			top = append(top, rr)
		} else {
			rr.Layer = LayerBase
			base = append(base, rr)
		}
	}
	v.Regions = append(base, top...)
	if v.Regions == nil {
		v.Regions = []RenderedRegion{}
	}
	return v
}

func cloneRegion(r model.Region) model.Region {
	r.Boundaries = append([]model.GeoLocation(nil), r.Boundaries...)
	return r
}

// HitTest：按绘制顺序反向查找命中的区域；穿透的目标区域不参与命中
func (n *Navigator) HitTest(pt model.GeoLocation) (model.Region, bool) {
	v := n.View()
	for i := len(v.Regions) - 1; i >= 0; i-- {
		rr := v.Regions[i]
		if !rr.Drawable || !rr.Style.Interactive {
			continue
		}
		if geometry.Contains(rr.Region.Boundaries, pt) {
			return rr.Region, true
		}
	}
	return model.Region{}, false
}

// TopLevel：当前层级的顶层集合副本
func (n *Navigator) TopLevel() []model.Region {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.Region, len(n.topLevel))
	for i, r := range n.topLevel {
		out[i] = cloneRegion(r)
	}
	return out
}

package livefeed

import (
	"region-sync/internal/activity"
	"region-sync/internal/model"
	"region-sync/internal/navigator"
	"region-sync/internal/realtime"
)

// 下发帧类型
const (
	TypeView   = "view"
	TypeStrike = "strike"
	TypeTrail  = "trail"
)

// Trail：某主体的重建轨迹；Path 为空表示轨迹已清除
type Trail struct {
	SubjectID string              `json:"subjectId"`
	Path      []model.GeoLocation `json:"path"`
}

// BindNavigator：每次视图变化广播一次完整视图
func (h *Hub) BindNavigator(n *navigator.Navigator) (unbind func()) {
	return n.Subscribe(func(v navigator.View) { h.Broadcast(TypeView, v) })
}

// BindStrikes：转发打击通知
func (h *Hub) BindStrikes(ch *realtime.Channel) (unbind func()) {
	return realtime.Handle(ch, realtime.KindStrike, func(s model.StrikeNotification) {
		h.Broadcast(TypeStrike, s)
	})
}

func (h *Hub) BindActivity(r *activity.Reconstructor) (unbind func()) {
	return r.OnPath(func(subjectID string, path []model.GeoLocation) {
		h.Broadcast(TypeTrail, Trail{SubjectID: subjectID, Path: path})
	})
}

// InitialView：新连接先收到当前视图
func InitialView(n *navigator.Navigator) func() []Message {
	return func() []Message {
		return []Message{{Type: TypeView, Data: n.View()}}
	}
}

// 包 presence：主体自身快照与附近用户列表，由推送驱动，轮询兜底
package presence

import (
	"context"
	"log/slog"
	"sync"

	"region-sync/internal/logger"
	"region-sync/internal/model"
	"region-sync/internal/realtime"
)

// UserSource：用户服务
type UserSource interface {
	UserByID(ctx context.Context, id string) (model.User, error)
	UsersNear(ctx context.Context, loc model.GeoLocation, maxDistanceKm float64) ([]model.User, error)
}

// Snapshot：对外暴露的副本
type Snapshot struct {
	Self   *model.User  `json:"self,omitempty"`
	Nearby []model.User `json:"nearby"`
}

// Tracker：同一通道上的第二、第三个订阅者，与导航器互不覆盖
type Tracker struct {
	src     UserSource
	subject string
	radius  float64
	log     *slog.Logger

	mu     sync.Mutex
	self   *model.User
	nearby []model.User
}

func New(src UserSource, subjectID string, radiusKm float64) *Tracker {
	if radiusKm <= 0 {
		radiusKm = 5
	}
	return &Tracker{src: src, subject: subjectID, radius: radiusKm, log: logger.L()}
}

// Bind：订阅附近用户、位置与评分推送；返回取消全部订阅的函数
func (t *Tracker) Bind(ch *realtime.Channel) (unbind func()) {
	offs := []func(){
		realtime.Handle(ch, realtime.KindNearbyUsers, t.ReplaceNearby),
		realtime.Handle(ch, realtime.KindLocationUpdate, t.ApplyUser),
		realtime.Handle(ch, realtime.KindRatingUpdate, t.ApplyUser),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// ReplaceNearby：整表替换，剔除主体自己
func (t *Tracker) ReplaceNearby(users []model.User) {
	list := make([]model.User, 0, len(users))
	for _, u := range users {
		if u.ID == t.subject {
			continue
		}
		list = append(list, u)
	}
	t.mu.Lock()
	t.nearby = list
	t.mu.Unlock()
	t.log.Debug("presence_nearby_replaced", "count", len(list))
}

// ApplyUser：主体自身更新快照；列表中的他人按 id 替换，后到者生效
func (t *Tracker) ApplyUser(u model.User) {
	if u.ID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if u.ID == t.subject {
		cp := u
		t.self = &cp
		return
	}
	for i := range t.nearby {
		if t.nearby[i].ID == u.ID {
			t.nearby[i] = u
			return
		}
	}
}

// Load：拉取主体自身
func (t *Tracker) Load(ctx context.Context) error {
	u, err := t.src.UserByID(ctx, t.subject)
	if err != nil {
		t.log.Error("presence_self_error", "subject", t.subject, "err", err)
		return err
	}
	t.ApplyUser(u)
	return nil
}

// Poll：以主体当前位置刷新附近用户；尚无位置时跳过
func (t *Tracker) Poll(ctx context.Context) error {
	t.mu.Lock()
	var loc *model.GeoLocation
	if t.self != nil && t.self.CurrentLocation != nil {
		l := *t.self.CurrentLocation
		loc = &l
	}
	t.mu.Unlock()
	if loc == nil {
		if err := t.Load(ctx); err != nil {
			return err
		}
		t.mu.Lock()
		if t.self != nil && t.self.CurrentLocation != nil {
			l := *t.self.CurrentLocation
			loc = &l
		}
		t.mu.Unlock()
		if loc == nil {
			return nil
		}
	}
	users, err := t.src.UsersNear(ctx, *loc, t.radius)
	if err != nil {
		t.log.Error("presence_poll_error", "subject", t.subject, "err", err)
		return err
	}
	t.ReplaceNearby(users)
	return nil
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{Nearby: append([]model.User{}, t.nearby...)}
	if t.self != nil {
		cp := *t.self
		s.Self = &cp
	}
	return s
}

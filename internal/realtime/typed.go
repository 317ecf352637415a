package realtime

import (
	"region-sync/internal/metrics"
	"region-sync/internal/model"
)

// Handle：注册带类型的订阅者；负载解码失败记录并跳过，不影响其他订阅者
func Handle[T any](c *Channel, kind Kind, fn func(T)) (unregister func()) {
	return c.Register(kind, func(ev Event) {
		var v T
		if err := ev.Decode(&v); err != nil {
			metrics.PushDecodeErrorsTotal.WithLabelValues(string(kind)).Inc()
			c.log.Warn("push_decode_error", "kind", kind, "destination", ev.Destination, "err", err)
			return
		}
		fn(v)
	})
}

// UpdateLocation：上报主体当前位置
func (c *Channel) UpdateLocation(userID string, loc model.GeoLocation) error {
	return c.Publish(KindUpdateLocation, model.LocationUpdate{UserID: userID, Location: loc})
}

// RatePerson：对他人评分
func (c *Channel) RatePerson(userID, targetUserID string, change float64) error {
	return c.Publish(KindRatePerson, model.RatingChange{UserID: userID, TargetUserID: targetUserID, RatingChange: change})
}

package navigator

import (
	"encoding/json"

	"region-sync/internal/geometry"
	"region-sync/internal/realtime"
)

// Bind：订阅区域状态推送，边界经归一化后替换对应区域；返回取消订阅函数
func (n *Navigator) Bind(ch *realtime.Channel, norm *geometry.Normalizer) (unbind func()) {
	if norm == nil {
		norm = geometry.NewNormalizer(nil)
	}
	return realtime.Handle(ch, realtime.KindRegionStatus, func(raw json.RawMessage) {
		r, err := norm.DecodeRegion(raw)
		if err != nil {
			n.log.Warn("navigator_push_decode_error", "err", err)
			return
		}
		n.ApplyPushUpdate(r)
	})
}

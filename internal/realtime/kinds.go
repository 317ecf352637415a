package realtime

import (
	"encoding/json"
	"errors"
)

// Kind：推送与出站事件类型，取值与 STOMP 目的地末段一致
type Kind string

const (
	KindLocationUpdate Kind = "user-location-update"
	KindRegionStatus   Kind = "region-status-update"
	KindStrike         Kind = "missile-launch"
	KindNearbyUsers    Kind = "users-nearby-update"
	KindRatingUpdate   Kind = "social-rating-update"

	KindUpdateLocation Kind = "update-location"
	KindRatePerson     Kind = "rate-person"
)

// DestConnect：连接成功后公布主体标识的目的地
const DestConnect = "/app/connect"

var (
	ErrUnknownKind  = errors.New("unknown outbound event kind")
	ErrNotConnected = errors.New("realtime channel not connected")
)

var outbound = map[Kind]string{
	KindUpdateLocation: "/app/update-location",
	KindRatePerson:     "/app/rate-person",
}

// Topic：一次订阅的目的地与对应的事件类型
type Topic struct {
	Kind        Kind
	Destination string
}

// Topics：三个广播主题与两个按主体私有的队列
func Topics(subjectID string) []Topic {
	return []Topic{
		{KindLocationUpdate, "/topic/user-location-update"},
		{KindRegionStatus, "/topic/region-status-update"},
		{KindStrike, "/topic/missile-launch"},
		{KindNearbyUsers, "/user/" + subjectID + "/queue/users-nearby-update"},
		{KindRatingUpdate, "/user/" + subjectID + "/queue/social-rating-update"},
	}
}

// InboundKinds：所有可订阅的推送类型
func InboundKinds() []Kind {
	return []Kind{KindLocationUpdate, KindRegionStatus, KindStrike, KindNearbyUsers, KindRatingUpdate}
}

// Event：一次推送
type Event struct {
	Kind        Kind
	Destination string
	SessionID   string
	Body        []byte
}

// Decode：把负载解码到 v
func (e Event) Decode(v any) error { return json.Unmarshal(e.Body, v) }

// Handler：推送回调，在传输层投递协程中同步执行
type Handler func(Event)

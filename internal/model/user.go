package model

import (
	"encoding/json"
	"math"
)

// SocialStatus：由后端按评分计算的身份等级
type SocialStatus string

const (
	StatusLow       SocialStatus = "LOW"
	StatusRegular   SocialStatus = "REGULAR"
	StatusImportant SocialStatus = "IMPORTANT"
	StatusVIP       SocialStatus = "VIP"
)

// User：位置与评分推送的主体
type User struct {
	ID                          string       `json:"id"`
	Username                    string       `json:"username"`
	FullName                    string       `json:"fullName"`
	SocialRating                float64      `json:"socialRating"`
	Status                      SocialStatus `json:"status"`
	CurrentLocation             *GeoLocation `json:"currentLocation,omitempty"`
	RegionID                    string       `json:"regionId,omitempty"`
	DistrictID                  string       `json:"districtId,omitempty"`
	CountryID                   string       `json:"countryId,omitempty"`
	Active                      bool         `json:"active"`
	LastLocationUpdateTimestamp int64        `json:"lastLocationUpdateTimestamp,omitempty"`
}

// StrikeNotification：打击通知负载
type StrikeNotification struct {
	RegionID    string `json:"regionId"`
	MissileType string `json:"missileType"`
}

// LocationUpdate：上报位置的出站负载
type LocationUpdate struct {
	UserID   string      `json:"userId"`
	Location GeoLocation `json:"location"`
}

// RatingChange：评价他人的出站负载
type RatingChange struct {
	UserID       string  `json:"userId"`
	TargetUserID string  `json:"targetUserId"`
	RatingChange float64 `json:"ratingChange"`
}

// SupplyDepot / SupplyRoute：补给服务的只读视图
type SupplyDepot struct {
	DepotID       string  `json:"depotId"`
	Name          string  `json:"name"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Capacity      int64   `json:"capacity"`
	CurrentStock  int64   `json:"currentStock"`
	Type          string  `json:"type,omitempty"`
	SecurityLevel string  `json:"securityLevel,omitempty"`
}

type SupplyRoute struct {
	SourceDepotID string  `json:"sourceDepotId"`
	TargetDepotID string  `json:"targetDepotId"`
	Distance      float64 `json:"distance"`
	RiskFactor    float64 `json:"riskFactor"`
	IsActive      bool    `json:"isActive"`
	TransportType string  `json:"transportType,omitempty"`
	SecurityLevel string  `json:"securityLevel,omitempty"`
	Capacity      int64   `json:"capacity,omitempty"`
}

// TimeWindow：归一化的时间窗，Min 与 Max 均在 [0,1]
type TimeWindow struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Normalize：夹紧到 [0,1]；Min 越过 Max 时窗口收缩到 Min（滑块语义）
func (w TimeWindow) Normalize() TimeWindow {
	w.Min = clamp01(w.Min)
	w.Max = clamp01(w.Max)
	if w.Min > w.Max {
		w.Max = w.Min
	}
	return w
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ActivityDelta：单步位移；任一分量缺失或非数值时 DX/DY 为 nil
type ActivityDelta struct {
	DX *float64
	DY *float64
}

// Numeric：两个分量都是数值
func (d ActivityDelta) Numeric() bool { return d.DX != nil && d.DY != nil }

// UnmarshalJSON：宽松解析，非数值分量保持为 nil 而不是报错，由重建器跳过
func (d *ActivityDelta) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		// 非对象元素同样按无效步处理
		*d = ActivityDelta{}
		return nil
	}
	d.DX = numberPtr(m["dx"])
	d.DY = numberPtr(m["dy"])
	return nil
}

// MarshalJSON：与后端 {dx,dy} 形状一致
func (d ActivityDelta) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]*float64{"dx": d.DX, "dy": d.DY})
}

func numberPtr(v any) *float64 {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// InteractionType：互动记录的种类
type InteractionType string

const (
	InteractionReport  InteractionType = "report"
	InteractionLike    InteractionType = "like"
	InteractionDislike InteractionType = "dislike"
)

// Interaction：互动服务返回的记录，Timestamp 为 Unix 纳秒
type Interaction struct {
	UserID         string          `json:"userId"`
	ReportedUserID string          `json:"reportedUserId"`
	Type           InteractionType `json:"type"`
	Message        string          `json:"message,omitempty"`
	Timestamp      int64           `json:"timestamp"`
}

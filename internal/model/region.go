// 包 model：区域导航与实时同步共享的领域结构，字段名与后端 JSON 契约保持一致
package model

import (
	"errors"
	"strings"
)

// RegionType：行政层级，按 DISTRICT < CITY < REGION < COUNTRY 排序
type RegionType string

const (
	District RegionType = "DISTRICT"
	City     RegionType = "CITY"
	Province RegionType = "REGION"
	Country  RegionType = "COUNTRY"
)

// 由低到高的层级顺序
var regionTypeOrder = []RegionType{District, City, Province, Country}

var ErrUnknownRegionType = errors.New("unknown region type")

// ParseRegionType：大小写不敏感解析层级名称
func ParseRegionType(s string) (RegionType, error) {
	t := RegionType(strings.ToUpper(strings.TrimSpace(s)))
	if t.Rank() < 0 {
		return "", ErrUnknownRegionType
	}
	return t, nil
}

// Rank：层级序号，未知层级返回 -1
func (t RegionType) Rank() int {
	for i, v := range regionTypeOrder {
		if v == t {
			return i
		}
	}
	return -1
}

// Child：下一级层级；DISTRICT 没有下级
func (t RegionType) Child() (RegionType, bool) {
	r := t.Rank()
	if r <= 0 {
		return "", false
	}
	return regionTypeOrder[r-1], true
}

// GeoLocation：WGS84 经纬度（度）
type GeoLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Region：层级中的一个行政区
// 约束：Boundaries 已经过几何归一化，为单个外环；少于 3 个点的环不可绘制
type Region struct {
	ID                    string        `json:"id"`
	Name                  string        `json:"name"`
	Type                  RegionType    `json:"type"`
	ParentRegionID        string        `json:"parentRegionId,omitempty"`
	Boundaries            []GeoLocation `json:"boundaries"`
	AverageSocialRating   float64       `json:"averageSocialRating"`
	PopulationCount       int64         `json:"populationCount"`
	ImportantPersonsCount int64         `json:"importantPersonsCount"`
	UnderThreat           bool          `json:"underThreat"`
}

// Terminal：人口为 0 的区域视为已清除，不再请求下级区域
func (r Region) Terminal() bool { return r.PopulationCount == 0 }

// Drawable：外环至少 3 个点才能绘制
func (r Region) Drawable() bool { return len(r.Boundaries) >= 3 }

// Centroid：外环顶点均值，用于地图定位；空环返回 false
func (r Region) Centroid() (GeoLocation, bool) {
	if len(r.Boundaries) == 0 {
		return GeoLocation{}, false
	}
	var c GeoLocation
	for _, p := range r.Boundaries {
		c.Latitude += p.Latitude
		c.Longitude += p.Longitude
	}
	n := float64(len(r.Boundaries))
	c.Latitude /= n
	c.Longitude /= n
	return c, true
}

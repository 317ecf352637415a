// 包 geometry：把后端返回的多种边界形状统一为单个外环，并提供点入环判定
package geometry

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	geojson "github.com/paulmach/go.geojson"

	"region-sync/internal/model"
)

// Normalizer：边界归一化器
// 背景：区域服务按 Spring Data 的 GeoJSON 类型序列化边界（点为 {x,y,coordinates} 对象），
// 也可能返回标准 GeoJSON 数组或已归一化的 {latitude,longitude} 列表。
// 约束：纯函数语义，不抛错；无法识别的形状返回空环并向 Sink 报告，保证一个坏区域不影响整批。
type Normalizer struct {
	sink Sink
	now  func() time.Time
}

// NewNormalizer：sink 为空时使用 LogSink
func NewNormalizer(sink Sink) *Normalizer {
	if sink == nil {
		sink = LogSink{}
	}
	return &Normalizer{sink: sink, now: time.Now}
}

// Normalize：返回 [{latitude,longitude}] 外环，坐标由 [x,y]=[经度,纬度] 转换而来
// 约束：结果从不为 nil；MultiPolygon 仅保留第一个多边形的外环
func (n *Normalizer) Normalize(regionName string, raw json.RawMessage) []model.GeoLocation {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return n.reject(regionName, ReasonMissing, "", raw)
	}
	switch raw[0] {
	case '[':
		ring, ok := decodeFlat(raw)
		if !ok {
			return n.reject(regionName, ReasonUnrecognized, "", raw)
		}
		return ring
	case '{':
		return n.fromGeometry(regionName, raw)
	}
	return n.reject(regionName, ReasonUnrecognized, "", raw)
}

func (n *Normalizer) fromGeometry(regionName string, raw []byte) []model.GeoLocation {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return n.reject(regionName, ReasonUnrecognized, "", raw)
	}
	gt := getStr(obj, "type")
	var (
		ring []model.GeoLocation
		ok   bool
	)
	switch strings.ToLower(gt) {
	case "polygon":
		ring, ok = polygonRing(raw, obj)
	case "linestring":
		ring, ok = lineStringRing(raw, obj)
	case "multipolygon":
		ring, ok = multiPolygonRing(raw, obj)
	default:
		return n.reject(regionName, ReasonUnknownType, gt, raw)
	}
	if !ok {
		return n.reject(regionName, ReasonMalformed, gt, raw)
	}
	if len(ring) == 0 {
		return n.reject(regionName, ReasonEmptyRing, gt, raw)
	}
	return ring
}

func (n *Normalizer) reject(regionName string, reason Reason, gt string, raw []byte) []model.GeoLocation {
	n.sink.Warn(Warning{
		Region:       regionName,
		Reason:       reason,
		GeometryType: gt,
		Excerpt:      excerpt(raw),
		At:           n.now(),
	})
	return []model.GeoLocation{}
}

// decodeFlat：已归一化的 [{latitude,longitude}] 原样透传；空数组合法
func decodeFlat(raw []byte) ([]model.GeoLocation, bool) {
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	ring := make([]model.GeoLocation, 0, len(items))
	for _, it := range items {
		lat, ok1 := number(it["latitude"])
		lon, ok2 := number(it["longitude"])
		if !ok1 || !ok2 {
			return nil, false
		}
		ring = append(ring, model.GeoLocation{Latitude: lat, Longitude: lon})
	}
	return ring, true
}

// polygonRing：标准 GeoJSON 由 go.geojson 解码；Spring 形状回退到 map 解析
func polygonRing(raw []byte, obj map[string]any) ([]model.GeoLocation, bool) {
	if g, err := geojson.UnmarshalGeometry(raw); err == nil && g.IsPolygon() {
		if len(g.Polygon) == 0 {
			return []model.GeoLocation{}, true
		}
		return fromPositions(g.Polygon[0])
	}
	coords, _ := obj["coordinates"].([]any)
	if len(coords) == 0 {
		return nil, false
	}
	return exteriorRing(coords[0])
}

// exteriorRing：环可以是 Spring 的 {type:LineString, coordinates:[点...]}，也可以是点数组
func exteriorRing(v any) ([]model.GeoLocation, bool) {
	var pts []any
	switch x := v.(type) {
	case map[string]any:
		pts, _ = x["coordinates"].([]any)
	case []any:
		pts = x
	}
	if pts == nil {
		return nil, false
	}
	ring := make([]model.GeoLocation, 0, len(pts))
	for _, p := range pts {
		lon, lat, ok := point(p)
		if !ok {
			return nil, false
		}
		ring = append(ring, model.GeoLocation{Latitude: lat, Longitude: lon})
	}
	return ring, true
}

// lineStringRing：逐点宽松取值，缺失分量按 0 处理
func lineStringRing(raw []byte, obj map[string]any) ([]model.GeoLocation, bool) {
	if g, err := geojson.UnmarshalGeometry(raw); err == nil && g.IsLineString() {
		return fromPositions(g.LineString)
	}
	pts, ok := obj["coordinates"].([]any)
	if !ok {
		return nil, false
	}
	ring := make([]model.GeoLocation, 0, len(pts))
	for _, p := range pts {
		lon, lat := lenientPoint(p)
		ring = append(ring, model.GeoLocation{Latitude: lat, Longitude: lon})
	}
	return ring, true
}

// multiPolygonRing：只取第一个多边形的外环
func multiPolygonRing(raw []byte, obj map[string]any) ([]model.GeoLocation, bool) {
	if g, err := geojson.UnmarshalGeometry(raw); err == nil && g.IsMultiPolygon() {
		if len(g.MultiPolygon) == 0 || len(g.MultiPolygon[0]) == 0 {
			return []model.GeoLocation{}, true
		}
		return fromPositions(g.MultiPolygon[0][0])
	}
	coords, _ := obj["coordinates"].([]any)
	if len(coords) == 0 {
		return nil, false
	}
	switch first := coords[0].(type) {
	case []any:
		if len(first) == 0 {
			return nil, false
		}
		return exteriorRing(first[0])
	case map[string]any:
		// Spring GeoJsonMultiPolygon：[{type:Polygon, coordinates:[{type:LineString,...}]}]
		rings, _ := first["coordinates"].([]any)
		if len(rings) == 0 {
			return nil, false
		}
		return exteriorRing(rings[0])
	}
	return nil, false
}

func fromPositions(pos [][]float64) ([]model.GeoLocation, bool) {
	ring := make([]model.GeoLocation, 0, len(pos))
	for _, p := range pos {
		if len(p) < 2 {
			return nil, false
		}
		ring = append(ring, model.GeoLocation{Latitude: p[1], Longitude: p[0]})
	}
	return ring, true
}

// point：严格解析单点，支持 {coordinates:[x,y]}、{x,y} 与 [x,y]
func point(p any) (lon, lat float64, ok bool) {
	switch v := p.(type) {
	case map[string]any:
		if c, isArr := v["coordinates"].([]any); isArr {
			return pair(c)
		}
		x, okx := number(v["x"])
		y, oky := number(v["y"])
		return x, y, okx && oky
	case []any:
		return pair(v)
	}
	return 0, 0, false
}

func lenientPoint(p any) (lon, lat float64) {
	switch v := p.(type) {
	case map[string]any:
		c, _ := v["coordinates"].([]any)
		lon = firstNonZero(index(c, 0), v["x"])
		lat = firstNonZero(index(c, 1), v["y"])
	case []any:
		lon = firstNonZero(index(v, 0))
		lat = firstNonZero(index(v, 1))
	}
	return lon, lat
}

func pair(c []any) (float64, float64, bool) {
	if len(c) < 2 {
		return 0, 0, false
	}
	x, okx := number(c[0])
	y, oky := number(c[1])
	return x, y, okx && oky
}

func index(a []any, i int) any {
	if i < len(a) {
		return a[i]
	}
	return nil
}

func firstNonZero(vs ...any) float64 {
	for _, v := range vs {
		if f, ok := number(v); ok && f != 0 {
			return f
		}
	}
	return 0
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func getStr(m map[string]any, k string) string {
	if v, ok := m[k].(string); ok {
		return v
	}
	return ""
}

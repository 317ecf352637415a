package geometry

import "region-sync/internal/model"

// BBox：[minLon, minLat, maxLon, maxLat]
type BBox [4]float64

// Bounds：计算外环包围盒；空环返回反向盒，任何点都不命中
func Bounds(ring []model.GeoLocation) BBox {
	b := BBox{180, 90, -180, -90}
	for _, p := range ring {
		if p.Longitude < b[0] {
			b[0] = p.Longitude
		}
		if p.Latitude < b[1] {
			b[1] = p.Latitude
		}
		if p.Longitude > b[2] {
			b[2] = p.Longitude
		}
		if p.Latitude > b[3] {
			b[3] = p.Latitude
		}
	}
	return b
}

// 快速包围盒过滤
func (b BBox) Contains(pt model.GeoLocation) bool {
	return pt.Longitude >= b[0] && pt.Longitude <= b[2] && pt.Latitude >= b[1] && pt.Latitude <= b[3]
}

// Contains：点入环判定（射线法）
// 约束：少于 3 个点的环不可绘制，直接判为未命中；边界上的点结果不稳定
func Contains(ring []model.GeoLocation, pt model.GeoLocation) bool {
	n := len(ring)
	if n < 3 || !Bounds(ring).Contains(pt) {
		return false
	}
	inside := false
	x := pt.Longitude
	y := pt.Latitude
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Longitude, ring[i].Latitude
		xj, yj := ring[j].Longitude, ring[j].Latitude
		if ((yi > y) != (yj > y)) && (x < (xj-xi)*(y-yi)/(yj-yi+1e-12)+xi) {
			inside = !inside
		}
	}
	return inside
}

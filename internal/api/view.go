package api

import (
	"net/http"
	"strconv"

	geojson "github.com/paulmach/go.geojson"

	"region-sync/internal/model"
	"region-sync/internal/navigator"
)

func (s *server) getView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Nav.View())
}

// 文档注释：以 GeoJSON 导出当前绘制集合
// 背景：地图前端可以直接加载 FeatureCollection，按属性中的样式绘制，无需理解内部结构。
// 约束：顺序与绘制顺序一致（基础层在前）；不可绘制的区域不导出；外环按 GeoJSON 要求闭合。
func (s *server) getViewGeoJSON(w http.ResponseWriter, r *http.Request) {
	fc := viewFeatures(s.Nav.View())
	b, err := fc.MarshalJSON()
	if err != nil {
		writeErr(w, r, err, "")
		return
	}
	w.Header().Set("content-type", "application/geo+json")
	w.Header().Set("cache-control", "no-store")
	_, _ = w.Write(b)
}

func viewFeatures(v navigator.View) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, rr := range v.Regions {
		if !rr.Drawable {
			continue
		}
		f := geojson.NewPolygonFeature([][][]float64{closedRing(rr.Region.Boundaries)})
		f.ID = rr.Region.ID
		f.SetProperty("name", rr.Region.Name)
		f.SetProperty("type", string(rr.Region.Type))
		f.SetProperty("layer", string(rr.Layer))
		f.SetProperty("color", rr.Style.Color)
		f.SetProperty("fillOpacity", rr.Style.FillOpacity)
		f.SetProperty("weight", rr.Style.Weight)
		f.SetProperty("interactive", rr.Style.Interactive)
		f.SetProperty("target", rr.IsTarget)
		f.SetProperty("live", rr.Live)
		f.SetProperty("averageSocialRating", rr.Region.AverageSocialRating)
		f.SetProperty("populationCount", rr.Region.PopulationCount)
		f.SetProperty("underThreat", rr.Region.UnderThreat)
		fc.AddFeature(f)
	}
	return fc
}

// closedRing：GeoJSON 坐标为 [lon, lat]，首尾点相同
func closedRing(ring []model.GeoLocation) [][]float64 {
	out := make([][]float64, 0, len(ring)+1)
	for _, p := range ring {
		out = append(out, []float64{p.Longitude, p.Latitude})
	}
	if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
		out = append(out, []float64{ring[0].Longitude, ring[0].Latitude})
	}
	return out
}

func (s *server) selectType(w http.ResponseWriter, r *http.Request) {
	t, err := model.ParseRegionType(r.PathValue("type"))
	if err != nil {
		badRequest(w, "unknown region type")
		return
	}
	if err := s.Nav.SelectTopLevel(r.Context(), t); err != nil {
		// 视图中已记录错误文案，原状态保留
		writeJSON(w, http.StatusBadGateway, s.Nav.View())
		return
	}
	writeJSON(w, http.StatusOK, s.Nav.View())
}

// drill：目标立即生效，下级区域在后台加载，完成后经直播通道推送
func (s *server) drill(w http.ResponseWriter, r *http.Request) {
	if err := s.Nav.DrillInto(r.PathValue("id")); err != nil {
		writeErr(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusAccepted, s.Nav.View())
}

func (s *server) drillUp(w http.ResponseWriter, r *http.Request) {
	s.Nav.DrillToParent()
	writeJSON(w, http.StatusAccepted, s.Nav.View())
}

func (s *server) hit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
	if err1 != nil || err2 != nil {
		badRequest(w, "lat and lon are required")
		return
	}
	reg, ok := s.Nav.HitTest(model.GeoLocation{Latitude: lat, Longitude: lon})
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no region at point"})
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

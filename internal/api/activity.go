package api

import (
	"net/http"
	"strconv"

	"region-sync/internal/activity"
	"region-sync/internal/model"
)

// queryFloat：缺省时返回 def
func queryFloat(r *http.Request, key string, def float64) (float64, bool) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, true
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// 文档注释：还原主体在时间窗内的轨迹
// 背景：锚点优先取请求中的 lat/lon，否则取用户服务中的当前位置。
// 约束：拉取失败返回统一文案并保留上一条轨迹；被更新请求覆盖的结果返回 stale=true。
func (s *server) reconstruct(w http.ResponseWriter, r *http.Request) {
	if s.Activity == nil {
		writeErr(w, r, errNotConfigured, "")
		return
	}
	subject := r.PathValue("subject")
	lo, ok1 := queryFloat(r, "min", 0)
	hi, ok2 := queryFloat(r, "max", 1)
	if !ok1 || !ok2 {
		badRequest(w, "min and max must be numbers")
		return
	}
	anchor, ok := s.anchor(w, r, subject)
	if !ok {
		return
	}
	res, err := s.Activity.Reconstruct(r.Context(), subject, anchor, model.TimeWindow{Min: lo, Max: hi})
	if err != nil {
		writeErr(w, r, err, activity.MsgFetchFailed)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) anchor(w http.ResponseWriter, r *http.Request, subject string) (model.GeoLocation, bool) {
	q := r.URL.Query()
	if q.Has("lat") || q.Has("lon") {
		lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
		lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
		if err1 != nil || err2 != nil {
			badRequest(w, "lat and lon must both be numbers")
			return model.GeoLocation{}, false
		}
		return model.GeoLocation{Latitude: lat, Longitude: lon}, true
	}
	if s.Users == nil {
		badRequest(w, "lat and lon are required")
		return model.GeoLocation{}, false
	}
	u, err := s.Users.UserByID(r.Context(), subject)
	if err != nil {
		writeErr(w, r, err, "")
		return model.GeoLocation{}, false
	}
	if u.CurrentLocation == nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "user has no known location"})
		return model.GeoLocation{}, false
	}
	return *u.CurrentLocation, true
}

func (s *server) clearActivity(w http.ResponseWriter, r *http.Request) {
	if s.Activity == nil {
		writeErr(w, r, errNotConfigured, "")
		return
	}
	s.Activity.Clear(r.PathValue("subject"))
	w.WriteHeader(http.StatusNoContent)
}

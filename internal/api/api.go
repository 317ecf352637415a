// 包 api：集中注册本地 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"region-sync/internal/activity"
	"region-sync/internal/geometry"
	"region-sync/internal/locate"
	"region-sync/internal/logger"
	"region-sync/internal/metrics"
	"region-sync/internal/model"
	"region-sync/internal/navigator"
	"region-sync/internal/presence"
	"region-sync/internal/realtime"
	"region-sync/internal/store"
	"region-sync/internal/upstream"
)

// Strikes：打击服务
type Strikes interface {
	LaunchStrike(ctx context.Context, regionID string) error
}

// Users：用于确定轨迹锚点与查询被清除用户
type Users interface {
	UserByID(ctx context.Context, id string) (model.User, error)
	EliminatedUsers(ctx context.Context, regionID string) ([]model.User, error)
}

// Supply：补给服务的只读接口
type Supply interface {
	Depots(ctx context.Context) ([]model.SupplyDepot, error)
	Routes(ctx context.Context) ([]model.SupplyRoute, error)
	OptimalRoute(ctx context.Context, fromDepotID, toDepotID string) ([]json.RawMessage, error)
}

// Interactions：举报、点赞、点踩
type Interactions interface {
	RecordReport(ctx context.Context, userID, reportedUserID, message string) (model.Interaction, error)
	RecordLike(ctx context.Context, userID, likedUserID string) (model.Interaction, error)
	RecordDislike(ctx context.Context, userID, dislikedUserID string) (model.Interaction, error)
	Interactions(ctx context.Context, userID, direction string) ([]model.Interaction, error)
}

// Events：推送日志读取
type Events interface {
	RecentEvents(ctx context.Context, kind string, limit int) ([]store.Event, error)
}

// 文档注释：路由依赖
// 背景：主入口按配置组装组件，未启用的可选组件保持为 nil，对应路由返回 503。
// 约束：接口字段必须传入真正的 nil，不要传入值为 nil 的具体指针。
type Deps struct {
	Nav          *navigator.Navigator
	Activity     *activity.Reconstructor
	Channel      *realtime.Channel
	Presence     *presence.Tracker
	Locator      *locate.Locator
	Warnings     *geometry.Recorder
	Strikes      Strikes
	Users        Users
	Supply       Supply
	Interactions Interactions
	Events       Events
	Dedupe       Deduper
	Live         http.Handler
	Threshold    float64
}

var errNotConfigured = errors.New("not configured")

type server struct {
	Deps
	started time.Time
}

// BuildRoutes：独立 ServeMux 便于在主入口挂载到 API_BASE 前缀
func BuildRoutes(d Deps) *http.ServeMux {
	s := &server{Deps: d, started: time.Now()}
	mux := http.NewServeMux()
	handle := func(pattern, route string, fn http.HandlerFunc) {
		mux.Handle(pattern, instrument(route, fn))
	}

	handle("GET /view", "view", s.getView)
	handle("GET /view.geojson", "view_geojson", s.getViewGeoJSON)
	handle("POST /view/type/{type}", "view_type", s.selectType)
	handle("POST /view/drill/{id}", "view_drill", s.drill)
	handle("POST /view/up", "view_up", s.drillUp)
	handle("GET /view/hit", "view_hit", s.hit)

	handle("GET /activity/{subject}", "activity", s.reconstruct)
	handle("DELETE /activity/{subject}", "activity_clear", s.clearActivity)

	handle("POST /strike/{regionId}", "strike", s.strike)
	handle("GET /regions/{id}/eliminated", "eliminated", s.eliminated)
	handle("GET /supply/depots", "supply_depots", s.depots)
	handle("GET /supply/routes", "supply_routes", s.routes)
	handle("GET /supply/optimal", "supply_optimal", s.optimal)

	handle("POST /realtime/location", "realtime_location", s.publishLocation)
	handle("POST /realtime/rate", "realtime_rate", s.publishRating)
	handle("POST /interactions/{kind}", "interaction_record", s.recordInteraction)
	handle("GET /interactions/{user}/{direction}", "interaction_list", s.listInteractions)

	handle("GET /events/recent", "events_recent", s.recentEvents)
	handle("GET /locate", "locate", s.locate)
	handle("GET /nearby", "nearby", s.nearby)
	handle("GET /status", "status", s.status)
	if d.Live != nil {
		mux.Handle("GET /live", d.Live)
	}
	return mux
}

func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger.SetRoute(r.Context(), route)
		next.ServeHTTP(w, r)
		metrics.RequestsTotal.WithLabelValues(route).Inc()
		metrics.RequestDurationMs.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor：把组件错误映射为 HTTP 状态码
func statusFor(err error) int {
	var se *upstream.StatusError
	switch {
	case errors.Is(err, errNotConfigured), errors.Is(err, realtime.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, navigator.ErrUnknownRegion), errors.Is(err, upstream.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, upstream.ErrBadDirection), errors.Is(err, model.ErrUnknownRegionType), errors.Is(err, locate.ErrBadIP):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &se):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeErr：msg 为空时使用错误本身的文案
func writeErr(w http.ResponseWriter, r *http.Request, err error, msg string) {
	code := statusFor(err)
	if msg == "" {
		msg = err.Error()
	}
	if code >= 500 {
		logger.L().Error("api_error", "path", r.URL.Path, "status", code, "err", err)
	}
	writeJSON(w, code, errorBody{Error: msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// decodeBody：限制请求体大小，拒绝未知字段
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

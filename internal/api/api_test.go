package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"region-sync/internal/activity"
	"region-sync/internal/model"
	"region-sync/internal/navigator"
	"region-sync/internal/realtime"
	"region-sync/internal/upstream"
)

func square(x0, y0, x1, y1 float64) []model.GeoLocation {
	return []model.GeoLocation{
		{Latitude: y0, Longitude: x0},
		{Latitude: y0, Longitude: x1},
		{Latitude: y1, Longitude: x1},
		{Latitude: y1, Longitude: x0},
	}
}

type regions struct {
	top  []model.Region
	subs map[string][]model.Region
}

func (f regions) RefreshAllStatistics(context.Context) error { return nil }
func (f regions) RegionsByType(ctx context.Context, t model.RegionType) ([]model.Region, error) {
	return f.top, nil
}
func (f regions) SubRegions(ctx context.Context, id string) ([]model.Region, error) {
	return f.subs[id], nil
}
func (f regions) RegionByID(ctx context.Context, id string) (model.Region, error) {
	for _, r := range f.top {
		if r.ID == id {
			return r, nil
		}
	}
	return model.Region{}, upstream.ErrNotFound
}

func newNav(t *testing.T) *navigator.Navigator {
	t.Helper()
	src := regions{
		top: []model.Region{
			{ID: "A", Name: "Alpha", Type: model.Country, PopulationCount: 10, AverageSocialRating: 50, Boundaries: square(0, 0, 10, 10)},
			{ID: "B", Name: "Beta", Type: model.Country, PopulationCount: 0, AverageSocialRating: 10, Boundaries: square(20, 0, 30, 10)},
		},
		subs: map[string][]model.Region{
			"A": {{ID: "A1", Name: "Alpha-1", Type: model.Province, ParentRegionID: "A", PopulationCount: 3, AverageSocialRating: 50, Boundaries: square(1, 1, 4, 4)}},
		},
	}
	nav := navigator.New(src, model.Country)
	if err := nav.SelectTopLevel(context.Background(), model.Country); err != nil {
		t.Fatalf("select: %v", err)
	}
	t.Cleanup(nav.Wait)
	return nav
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestViewDrillAndUp(t *testing.T) {
	nav := newNav(t)
	h := BuildRoutes(Deps{Nav: nav})

	v := decode[navigator.View](t, do(t, h, "GET", "/view", ""))
	if len(v.Regions) != 2 || v.TargetRegionID != "" {
		t.Fatalf("top view = %+v", v)
	}

	rec := do(t, h, "POST", "/view/drill/A", "")
	if rec.Code != http.StatusAccepted || decode[navigator.View](t, rec).TargetRegionID != "A" {
		t.Fatalf("drill = %d %s", rec.Code, rec.Body)
	}
	nav.Wait()
	v = decode[navigator.View](t, do(t, h, "GET", "/view", ""))
	if len(v.Regions) != 2 || v.Regions[1].Region.ID != "A1" {
		t.Fatalf("drilled view = %+v", v.Regions)
	}

	if rec := do(t, h, "POST", "/view/drill/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown drill = %d", rec.Code)
	}

	do(t, h, "POST", "/view/up", "")
	nav.Wait()
	if v := decode[navigator.View](t, do(t, h, "GET", "/view", "")); v.TargetRegionID != "" {
		t.Fatalf("after up target = %q", v.TargetRegionID)
	}
}

func TestSelectTypeRejectsUnknown(t *testing.T) {
	h := BuildRoutes(Deps{Nav: newNav(t)})
	if rec := do(t, h, "POST", "/view/type/galaxy", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
	if rec := do(t, h, "POST", "/view/type/country", ""); rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestViewGeoJSON(t *testing.T) {
	h := BuildRoutes(Deps{Nav: newNav(t)})
	rec := do(t, h, "GET", "/view.geojson", "")
	if ct := rec.Header().Get("content-type"); ct != "application/geo+json" {
		t.Fatalf("content-type = %q", ct)
	}
	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID       string `json:"id"`
			Geometry struct {
				Type        string        `json:"type"`
				Coordinates [][][]float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 2 {
		t.Fatalf("collection = %+v", fc)
	}
	b := fc.Features[1]
	ring := b.Geometry.Coordinates[0]
	if b.ID != "B" || b.Geometry.Type != "Polygon" || len(ring) != 5 {
		t.Fatalf("feature = %+v", b)
	}
	// [lon, lat] 顺序，首尾闭合
	if ring[0][0] != 20 || ring[0][1] != 0 || ring[4][0] != ring[0][0] || ring[4][1] != ring[0][1] {
		t.Fatalf("ring = %v", ring)
	}
	if b.Properties["color"] != navigator.ColorLowRating || b.Properties["live"] != false {
		t.Fatalf("properties = %v", b.Properties)
	}
}

func TestHit(t *testing.T) {
	h := BuildRoutes(Deps{Nav: newNav(t)})
	rec := do(t, h, "GET", "/view/hit?lat=5&lon=25", "")
	if rec.Code != http.StatusOK || decode[model.Region](t, rec).ID != "B" {
		t.Fatalf("hit = %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, "GET", "/view/hit?lat=50&lon=50", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("miss = %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/view/hit?lat=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad = %d", rec.Code)
	}
}

type deltas struct {
	out []model.ActivityDelta
	err error
	got model.TimeWindow
}

func (d *deltas) ActivityDeltas(ctx context.Context, subject string, w model.TimeWindow) ([]model.ActivityDelta, error) {
	d.got = w
	return d.out, d.err
}

type users struct {
	byID map[string]model.User
}

func (u users) UserByID(ctx context.Context, id string) (model.User, error) {
	if v, ok := u.byID[id]; ok {
		return v, nil
	}
	return model.User{}, &upstream.StatusError{Op: "user_get", Code: 404}
}

func (u users) EliminatedUsers(ctx context.Context, regionID string) ([]model.User, error) {
	return nil, nil
}

func f(v float64) *float64 { return &v }

func TestActivityAnchors(t *testing.T) {
	src := &deltas{out: []model.ActivityDelta{{DX: f(1), DY: f(1)}}}
	rc := activity.New(src)
	h := BuildRoutes(Deps{
		Nav:      newNav(t),
		Activity: rc,
		Users:    users{byID: map[string]model.User{"u1": {ID: "u1", CurrentLocation: &model.GeoLocation{Latitude: 1, Longitude: 2}}, "u2": {ID: "u2"}}},
	})

	res := decode[activity.Result](t, do(t, h, "GET", "/activity/u1?lat=10&lon=20&min=0.8&max=0.2", ""))
	if len(res.Path) != 2 || res.Path[1] != (model.GeoLocation{Latitude: 11, Longitude: 21}) {
		t.Fatalf("explicit anchor path = %v", res.Path)
	}
	if src.got != (model.TimeWindow{Min: 0.8, Max: 0.8}) {
		t.Fatalf("window = %+v", src.got)
	}

	res = decode[activity.Result](t, do(t, h, "GET", "/activity/u1", ""))
	if res.Path[0] != (model.GeoLocation{Latitude: 1, Longitude: 2}) {
		t.Fatalf("profile anchor path = %v", res.Path)
	}
	if rec := do(t, h, "GET", "/activity/u2", ""); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("no location = %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/activity/nobody", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown user = %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/activity/u1?lat=1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("half anchor = %d", rec.Code)
	}

	src.err = &upstream.StatusError{Op: "activity_deltas", Code: 500}
	rec := do(t, h, "GET", "/activity/u1", "")
	if rec.Code != http.StatusBadGateway || decode[errorBody](t, rec).Error != activity.MsgFetchFailed {
		t.Fatalf("failure = %d %s", rec.Code, rec.Body)
	}
	if p, ok := rc.Current("u1"); !ok || p[0] != (model.GeoLocation{Latitude: 1, Longitude: 2}) {
		t.Fatalf("failed fetch should keep previous path, got %v", p)
	}

	if rec := do(t, h, "DELETE", "/activity/u1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("clear = %d", rec.Code)
	}
	if _, ok := rc.Current("u1"); ok {
		t.Fatalf("path should be cleared")
	}
}

type strikes struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (s *strikes) LaunchStrike(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return s.err
}

type memDedupe map[string]bool

func (m memDedupe) FirstSeen(ctx context.Context, key string) bool {
	if m[key] {
		return false
	}
	m[key] = true
	return true
}

func TestStrikeDeduplicates(t *testing.T) {
	st := &strikes{}
	h := BuildRoutes(Deps{Nav: newNav(t), Strikes: st, Dedupe: memDedupe{}})
	if rec := do(t, h, "POST", "/strike/A", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("first = %d", rec.Code)
	}
	if rec := do(t, h, "POST", "/strike/A", ""); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate = %d", rec.Code)
	}
	if rec := do(t, h, "POST", "/strike/B", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("other region = %d", rec.Code)
	}
	if len(st.ids) != 2 {
		t.Fatalf("launched = %v", st.ids)
	}
	st.err = errors.New("boom")
	if rec := do(t, h, "POST", "/strike/C", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("failure = %d", rec.Code)
	}
}

// countingRegions：记录统计刷新与下级拉取次数
type countingRegions struct {
	regions
	mu    sync.Mutex
	stats    int
	subCalls []string
}

func (c *countingRegions) RefreshAllStatistics(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats++
	return nil
}

func (c *countingRegions) SubRegions(ctx context.Context, id string) ([]model.Region, error) {
	c.mu.Lock()
	c.subCalls = append(c.subCalls, id)
	c.mu.Unlock()
	return c.regions.SubRegions(ctx, id)
}

func (c *countingRegions) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats, len(c.subCalls)
}

func TestStrikeRefreshesView(t *testing.T) {
	src := &countingRegions{regions: regions{
		top: []model.Region{
			{ID: "A", Name: "Alpha", Type: model.Country, PopulationCount: 10, AverageSocialRating: 50, Boundaries: square(0, 0, 10, 10)},
		},
		subs: map[string][]model.Region{
			"A": {{ID: "A1", Name: "Alpha-1", Type: model.Province, ParentRegionID: "A", PopulationCount: 3, AverageSocialRating: 50, Boundaries: square(1, 1, 4, 4)}},
		},
	}}
	nav := navigator.New(src, model.Country)
	if err := nav.SelectTopLevel(context.Background(), model.Country); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := nav.DrillInto("A"); err != nil {
		t.Fatalf("drill: %v", err)
	}
	nav.Wait()

	st := &strikes{}
	h := BuildRoutes(Deps{Nav: nav, Strikes: st})
	if rec := do(t, h, "POST", "/strike/A1", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("strike = %d", rec.Code)
	}
	nav.Wait()
	if stats, subs := src.counts(); stats != 2 || subs != 2 {
		t.Fatalf("statistics refreshes = %d, subregion fetches = %d", stats, subs)
	}
	if v := nav.View(); v.TargetRegionID != "A" || v.Loading || len(v.Regions) != 2 {
		t.Fatalf("view after strike: target=%q loading=%v regions=%d", v.TargetRegionID, v.Loading, len(v.Regions))
	}

	st.err = errors.New("boom")
	_ = do(t, h, "POST", "/strike/A1", "")
	nav.Wait()
	if stats, _ := src.counts(); stats != 2 {
		t.Fatalf("failed strike refreshed statistics")
	}
}

func TestUnconfiguredRoutes(t *testing.T) {
	h := BuildRoutes(Deps{Nav: newNav(t)})
	for _, tc := range []struct{ method, target string }{
		{"GET", "/events/recent"},
		{"GET", "/locate"},
		{"GET", "/nearby"},
		{"POST", "/strike/A"},
		{"GET", "/supply/depots"},
		{"GET", "/interactions/u1/sent"},
		{"GET", "/activity/u1?lat=1&lon=2"},
	} {
		if rec := do(t, h, tc.method, tc.target, ""); rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s %s = %d", tc.method, tc.target, rec.Code)
		}
	}
}

func TestPublishLocation(t *testing.T) {
	tr := realtime.NewMemTransport()
	ch := realtime.New(tr)
	defer ch.Dispose()
	h := BuildRoutes(Deps{Nav: newNav(t), Channel: ch})

	body := `{"latitude":1.5,"longitude":2.5}`
	if rec := do(t, h, "POST", "/realtime/location", body); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("disconnected = %d", rec.Code)
	}
	ch.Connect("u1")
	deadline := time.Now().Add(2 * time.Second)
	for !ch.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatalf("channel did not connect")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if rec := do(t, h, "POST", "/realtime/location", body); rec.Code != http.StatusAccepted {
		t.Fatalf("connected = %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, "POST", "/realtime/location", `{"lat":1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body = %d", rec.Code)
	}
	sent := tr.Sent()
	last := sent[len(sent)-1]
	if last.Destination != "/app/update-location" || !strings.Contains(string(last.Body), `"userId":"u1"`) {
		t.Fatalf("sent = %+v", last)
	}
}

func TestStatus(t *testing.T) {
	h := BuildRoutes(Deps{Nav: newNav(t), Threshold: 30})
	var body statusBody
	if err := json.Unmarshal(do(t, h, "GET", "/status", "").Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.RegionType != model.Country || body.Regions != 2 || body.Locate || body.Journal || body.Threshold != 30 {
		t.Fatalf("status = %+v", body)
	}
}

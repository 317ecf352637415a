package navigator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"region-sync/internal/geometry"
	"region-sync/internal/model"
	"region-sync/internal/realtime"
)

func square(x0, y0, x1, y1 float64) []model.GeoLocation {
	return []model.GeoLocation{
		{Latitude: y0, Longitude: x0},
		{Latitude: y0, Longitude: x1},
		{Latitude: y1, Longitude: x1},
		{Latitude: y1, Longitude: x0},
	}
}

func region(id, parent string, t model.RegionType, pop int64, ring []model.GeoLocation) model.Region {
	return model.Region{ID: id, Name: "name-" + id, Type: t, ParentRegionID: parent, PopulationCount: pop, AverageSocialRating: 50, Boundaries: ring}
}

type fakeSource struct {
	mu       sync.Mutex
	byType   map[model.RegionType][]model.Region
	typeErr  map[model.RegionType]error
	subs     map[string][]model.Region
	byID     map[string]model.Region
	gates    map[string]chan struct{}
	idGates  map[string]chan struct{}
	subCalls []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		byType:  make(map[model.RegionType][]model.Region),
		typeErr: make(map[model.RegionType]error),
		subs:    make(map[string][]model.Region),
		byID:    make(map[string]model.Region),
		gates:   make(map[string]chan struct{}),
		idGates: make(map[string]chan struct{}),
	}
}

func (f *fakeSource) RefreshAllStatistics(ctx context.Context) error { return nil }

func (f *fakeSource) RegionsByType(ctx context.Context, t model.RegionType) ([]model.Region, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.typeErr[t]; err != nil {
		return nil, err
	}
	return append([]model.Region(nil), f.byType[t]...), nil
}

func (f *fakeSource) SubRegions(ctx context.Context, parentID string) ([]model.Region, error) {
	f.mu.Lock()
	f.subCalls = append(f.subCalls, parentID)
	gate := f.gates[parentID]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Region(nil), f.subs[parentID]...), nil
}

func (f *fakeSource) RegionByID(ctx context.Context, id string) (model.Region, error) {
	f.mu.Lock()
	gate := f.idGates[id]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return model.Region{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok {
		return model.Region{}, errors.New("not found")
	}
	return r, nil
}

func (f *fakeSource) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subCalls...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func ids(v View) []string {
	out := make([]string, 0, len(v.Regions))
	for _, r := range v.Regions {
		out = append(out, r.Region.ID)
	}
	return out
}

func sameIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// 两个国家 X、Y；X 的下级拉取被阻塞，Y 先返回
func raceFixture() (*fakeSource, *Navigator) {
	src := newFakeSource()
	x := region("X", "", model.Country, 100, square(0, 0, 10, 10))
	y := region("Y", "", model.Country, 100, square(20, 0, 30, 10))
	src.byType[model.Country] = []model.Region{x, y}
	src.byID["X"], src.byID["Y"] = x, y
	src.subs["X"] = []model.Region{region("X1", "X", model.Province, 10, square(1, 1, 2, 2))}
	src.subs["Y"] = []model.Region{region("Y1", "Y", model.Province, 10, square(21, 1, 22, 2))}
	return src, New(src, model.Country)
}

func TestLatestDrillWins(t *testing.T) {
	src, nav := raceFixture()
	ctx := context.Background()
	if err := nav.SelectTopLevel(ctx, model.Country); err != nil {
		t.Fatalf("select: %v", err)
	}
	gate := make(chan struct{})
	src.gates["X"] = gate

	if err := nav.DrillInto("X"); err != nil {
		t.Fatalf("drill X: %v", err)
	}
	if err := nav.DrillInto("Y"); err != nil {
		t.Fatalf("drill Y: %v", err)
	}
	waitFor(t, "Y children", func() bool { return sameIDs(ids(nav.View()), "Y", "Y1") })

	close(gate)
	nav.Wait()

	v := nav.View()
	if v.TargetRegionID != "Y" || !sameIDs(ids(v), "Y", "Y1") {
		t.Fatalf("view after stale X = %s %v", v.TargetRegionID, ids(v))
	}
	if v.Loading || v.Error != "" {
		t.Fatalf("loading=%v error=%q", v.Loading, v.Error)
	}
}

func TestDrillTargetIsImmediate(t *testing.T) {
	src, nav := raceFixture()
	_ = nav.SelectTopLevel(context.Background(), model.Country)
	gate := make(chan struct{})
	src.gates["X"] = gate
	defer func() { close(gate); nav.Wait() }()

	_ = nav.DrillInto("X")
	v := nav.View()
	if v.TargetRegionID != "X" || !v.Loading {
		t.Fatalf("target=%q loading=%v", v.TargetRegionID, v.Loading)
	}
	if !sameIDs(ids(v), "X") || !v.Regions[0].IsTarget {
		t.Fatalf("regions while loading = %v", ids(v))
	}
	if len(v.Breadcrumbs) != 1 || v.Breadcrumbs[0].ID != "X" {
		t.Fatalf("breadcrumbs = %+v", v.Breadcrumbs)
	}
}

func TestDrillUnknownRegion(t *testing.T) {
	_, nav := raceFixture()
	_ = nav.SelectTopLevel(context.Background(), model.Country)
	if err := nav.DrillInto("nope"); !errors.Is(err, ErrUnknownRegion) {
		t.Fatalf("err = %v", err)
	}
}

func TestDrillToParent(t *testing.T) {
	src := newFakeSource()
	c := region("C", "", model.Country, 100, square(0, 0, 10, 10))
	r := region("R", "C", model.Province, 50, square(1, 1, 5, 5))
	d := region("D", "R", model.District, 5, square(2, 2, 3, 3))
	src.byType[model.Country] = []model.Region{c}
	src.byID["C"], src.byID["R"] = c, r
	src.subs["C"] = []model.Region{r}
	src.subs["R"] = []model.Region{d}
	nav := New(src, model.Country)
	ctx := context.Background()

	_ = nav.SelectTopLevel(ctx, model.Country)
	_ = nav.DrillInto("C")
	nav.Wait()
	_ = nav.DrillInto("R")
	nav.Wait()
	v := nav.View()
	if v.TargetRegionID != "R" || len(v.Breadcrumbs) != 2 || v.Breadcrumbs[1].ID != "R" {
		t.Fatalf("after drill: target=%q crumbs=%+v", v.TargetRegionID, v.Breadcrumbs)
	}

	nav.DrillToParent()
	nav.Wait()
	v = nav.View()
	if v.TargetRegionID != "C" || !sameIDs(ids(v), "C", "R") {
		t.Fatalf("after parent: target=%q regions=%v", v.TargetRegionID, ids(v))
	}
	if len(v.Breadcrumbs) != 1 || v.Breadcrumbs[0].ID != "C" {
		t.Fatalf("crumbs = %+v", v.Breadcrumbs)
	}

	// C 没有上级，回到顶层集合
	nav.DrillToParent()
	nav.Wait()
	v = nav.View()
	if v.TargetRegionID != "" || !sameIDs(ids(v), "C") || len(v.Breadcrumbs) != 0 {
		t.Fatalf("after reset: target=%q regions=%v crumbs=%v", v.TargetRegionID, ids(v), v.Breadcrumbs)
	}
}

func TestTerminalRegionSkipsFetch(t *testing.T) {
	src := newFakeSource()
	dead := region("Z", "", model.Country, 0, square(0, 0, 1, 1))
	src.byType[model.Country] = []model.Region{dead}
	nav := New(src, model.Country)
	_ = nav.SelectTopLevel(context.Background(), model.Country)

	if err := nav.DrillInto("Z"); err != nil {
		t.Fatalf("drill: %v", err)
	}
	nav.Wait()
	if calls := src.calls(); len(calls) != 0 {
		t.Fatalf("sub-region calls = %v", calls)
	}
	v := nav.View()
	if v.TargetRegionID != "Z" || v.Regions[0].Live {
		t.Fatalf("view = %+v", v)
	}
}

func TestSelectFailureKeepsState(t *testing.T) {
	src, nav := raceFixture()
	ctx := context.Background()
	_ = nav.SelectTopLevel(ctx, model.Country)
	src.typeErr[model.Province] = errors.New("boom")

	if err := nav.SelectTopLevel(ctx, model.Province); err == nil {
		t.Fatalf("expected error")
	}
	v := nav.View()
	if v.RegionType != model.Country || !sameIDs(ids(v), "X", "Y") {
		t.Fatalf("state changed: %s %v", v.RegionType, ids(v))
	}
	if v.Error != msgFetchRegions {
		t.Fatalf("error = %q", v.Error)
	}
}

func TestApplyPushUpdate(t *testing.T) {
	_, nav := raceFixture()
	_ = nav.SelectTopLevel(context.Background(), model.Country)

	other := region("X", "", model.Province, 1, nil)
	if nav.ApplyPushUpdate(other) {
		t.Fatalf("push of another level should be ignored")
	}
	upd := region("X", "", model.Country, 100, square(0, 0, 10, 10))
	upd.UnderThreat = true
	if !nav.ApplyPushUpdate(upd) {
		t.Fatalf("push not applied")
	}
	v := nav.View()
	if !v.Regions[0].Region.UnderThreat || v.Regions[0].Style.Color != ColorUnderThreat {
		t.Fatalf("region = %+v", v.Regions[0])
	}
	if nav.ApplyPushUpdate(region("W", "", model.Country, 1, nil)) {
		t.Fatalf("unknown id should not change anything")
	}
}

func TestStyleFor(t *testing.T) {
	r := model.Region{AverageSocialRating: 50}
	cases := []struct {
		name                   string
		r                      model.Region
		target, sub, activeSub bool
		color                  string
		opacity                float64
		weight                 int
		interactive            bool
	}{
		{"plain", r, false, false, false, ColorNormal, 0.3, 2, true},
		{"low", model.Region{AverageSocialRating: 10}, false, false, false, ColorLowRating, 0.3, 2, true},
		{"threat beats low", model.Region{AverageSocialRating: 10, UnderThreat: true}, false, false, false, ColorUnderThreat, 0.3, 2, true},
		{"target", model.Region{UnderThreat: true}, true, false, false, ColorTarget, 0.8, 2, true},
		{"target with subs", r, true, false, true, ColorTarget, 0.1, 2, false},
		{"sub", r, false, true, true, ColorNormal, 0.7, 3, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := StyleFor(tc.r, tc.target, tc.sub, tc.activeSub, DefaultRatingThreshold)
			if s.Color != tc.color || s.FillOpacity != tc.opacity || s.Weight != tc.weight || s.Interactive != tc.interactive {
				t.Fatalf("style = %+v", s)
			}
		})
	}
}

func TestViewLayersAndHitTest(t *testing.T) {
	_, nav := raceFixture()
	_ = nav.SelectTopLevel(context.Background(), model.Country)

	if r, ok := nav.HitTest(model.GeoLocation{Latitude: 5, Longitude: 25}); !ok || r.ID != "Y" {
		t.Fatalf("top-level hit = %v %v", r.ID, ok)
	}
	_ = nav.DrillInto("X")
	nav.Wait()

	v := nav.View()
	if v.Regions[0].Layer != LayerBase || v.Regions[1].Layer != LayerSubregion {
		t.Fatalf("layers = %s %s", v.Regions[0].Layer, v.Regions[1].Layer)
	}
	if r, ok := nav.HitTest(model.GeoLocation{Latitude: 1.5, Longitude: 1.5}); !ok || r.ID != "X1" {
		t.Fatalf("sub-region hit = %v %v", r.ID, ok)
	}
	if _, ok := nav.HitTest(model.GeoLocation{Latitude: 8, Longitude: 8}); ok {
		t.Fatalf("target with active sub-regions should let pointer pass through")
	}
}

func TestBindAppliesRegionPush(t *testing.T) {
	_, nav := raceFixture()
	_ = nav.SelectTopLevel(context.Background(), model.Country)

	tr := realtime.NewMemTransport()
	ch := realtime.New(tr)
	defer ch.Dispose()
	unbind := nav.Bind(ch, geometry.NewNormalizer(&geometry.Recorder{}))
	defer unbind()
	ch.Connect("u1")
	waitFor(t, "subscribed", func() bool { return tr.Subscribed("/topic/region-status-update") })

	upd := region("Y", "", model.Country, 100, square(20, 0, 30, 10))
	upd.AverageSocialRating = 5
	body, _ := json.Marshal(upd)
	tr.Inject("/topic/region-status-update", body)

	v := nav.View()
	if v.Regions[1].Region.AverageSocialRating != 5 || v.Regions[1].Style.Color != ColorLowRating {
		t.Fatalf("pushed region = %+v", v.Regions[1])
	}
}

func TestSubscribeReceivesViews(t *testing.T) {
	_, nav := raceFixture()
	var mu sync.Mutex
	var seen []View
	cancel := nav.Subscribe(func(v View) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})
	_ = nav.SelectTopLevel(context.Background(), model.Country)
	cancel()
	_ = nav.SelectTopLevel(context.Background(), model.Country)

	mu.Lock()
	defer mu.Unlock()
	// 开始加载一次，完成一次；取消后不再收到
	if len(seen) != 2 || !seen[0].Loading || seen[1].Loading || len(seen[1].Regions) != 2 {
		t.Fatalf("views = %d", len(seen))
	}
}

type memSnap struct {
	mu   sync.Mutex
	data map[model.RegionType][]model.Region
}

func (m *memSnap) SaveTopLevel(ctx context.Context, t model.RegionType, rs []model.Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[t] = rs
	return nil
}

func (m *memSnap) LoadTopLevel(ctx context.Context, t model.RegionType) ([]model.Region, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.data[t]
	return rs, ok, nil
}

func TestSeedFromSnapshot(t *testing.T) {
	snap := &memSnap{data: make(map[model.RegionType][]model.Region)}
	src, _ := raceFixture()
	first := New(src, model.Country, WithSnapshotter(snap))
	_ = first.SelectTopLevel(context.Background(), model.Country)

	second := New(newFakeSource(), model.Country, WithSnapshotter(snap))
	if !second.Seed(context.Background()) {
		t.Fatalf("seed failed")
	}
	if !sameIDs(ids(second.View()), "X", "Y") {
		t.Fatalf("seeded = %v", ids(second.View()))
	}
	if second.Seed(context.Background()) {
		t.Fatalf("second seed should be a no-op")
	}
}

func TestDrillFromSubregionShowsTargetOnce(t *testing.T) {
	src := newFakeSource()
	c := region("C", "", model.Country, 100, square(0, 0, 10, 10))
	r := region("R", "C", model.Province, 50, square(1, 1, 5, 5))
	r2 := region("R2", "C", model.Province, 50, square(5, 5, 9, 9))
	src.byType[model.Country] = []model.Region{c}
	src.subs["C"] = []model.Region{r, r2}
	src.subs["R"] = []model.Region{region("D", "R", model.District, 5, square(2, 2, 3, 3))}
	nav := New(src, model.Country)
	_ = nav.SelectTopLevel(context.Background(), model.Country)
	_ = nav.DrillInto("C")
	nav.Wait()

	gate := make(chan struct{})
	src.gates["R"] = gate
	_ = nav.DrillInto("R")

	v := nav.View()
	if !sameIDs(ids(v), "R", "R2") {
		t.Fatalf("regions while loading = %v", ids(v))
	}
	targets := 0
	for _, rr := range v.Regions {
		if rr.IsTarget {
			targets++
		}
	}
	if targets != 1 || v.Regions[1].Layer != LayerSubregion {
		t.Fatalf("targets=%d second layer=%v", targets, v.Regions[1].Layer)
	}

	close(gate)
	nav.Wait()
	if v := nav.View(); !sameIDs(ids(v), "R", "D") {
		t.Fatalf("regions after load = %v", ids(v))
	}
}

func TestDrillToUnknownParentKeepsTargetUntilLoaded(t *testing.T) {
	src := newFakeSource()
	c := region("C", "", model.Country, 100, square(0, 0, 10, 10))
	r := region("R", "C", model.Province, 50, square(1, 1, 5, 5))
	src.byType[model.Province] = []model.Region{r}
	src.byID["C"] = c
	src.subs["C"] = []model.Region{r}
	nav := New(src, model.Province)
	_ = nav.SelectTopLevel(context.Background(), model.Province)
	_ = nav.DrillInto("R")
	nav.Wait()

	gate := make(chan struct{})
	src.idGates["C"] = gate
	nav.DrillToParent()
	v := nav.View()
	if v.TargetRegionID != "R" || !v.Loading || len(v.Regions) == 0 || !v.Regions[0].IsTarget {
		t.Fatalf("while loading parent: target=%q loading=%v regions=%v", v.TargetRegionID, v.Loading, ids(v))
	}

	close(gate)
	nav.Wait()
	v = nav.View()
	if v.TargetRegionID != "C" || !sameIDs(ids(v), "C", "R") {
		t.Fatalf("after parent: target=%q regions=%v", v.TargetRegionID, ids(v))
	}
	if len(v.Breadcrumbs) != 1 || v.Breadcrumbs[0].ID != "C" {
		t.Fatalf("crumbs = %+v", v.Breadcrumbs)
	}
}

func TestDrillToUnknownParentFailureKeepsState(t *testing.T) {
	src := newFakeSource()
	r := region("R", "C", model.Province, 50, square(1, 1, 5, 5))
	src.byType[model.Province] = []model.Region{r}
	nav := New(src, model.Province)
	_ = nav.SelectTopLevel(context.Background(), model.Province)
	_ = nav.DrillInto("R")
	nav.Wait()

	nav.DrillToParent()
	nav.Wait()
	v := nav.View()
	if v.TargetRegionID != "R" || v.Error != msgFetchParent {
		t.Fatalf("target=%q error=%q", v.TargetRegionID, v.Error)
	}
}

// blockingSnap：保存时阻塞，期间读取保存的切片
type blockingSnap struct {
	entered chan struct{}
	release chan struct{}
	saved   chan model.Region
}

func (b *blockingSnap) SaveTopLevel(ctx context.Context, t model.RegionType, rs []model.Region) error {
	close(b.entered)
	<-b.release
	b.saved <- rs[0]
	return nil
}

func (b *blockingSnap) LoadTopLevel(ctx context.Context, t model.RegionType) ([]model.Region, bool, error) {
	return nil, false, nil
}

func TestPushDoesNotMutateSnapshotInFlight(t *testing.T) {
	src, _ := raceFixture()
	snap := &blockingSnap{entered: make(chan struct{}), release: make(chan struct{}), saved: make(chan model.Region, 1)}
	nav := New(src, model.Country, WithSnapshotter(snap))

	done := make(chan error, 1)
	go func() { done <- nav.SelectTopLevel(context.Background(), model.Country) }()
	<-snap.entered

	updated := region("X", "", model.Country, 100, square(0, 0, 10, 10))
	updated.Name = "renamed"
	if !nav.ApplyPushUpdate(updated) {
		t.Fatalf("push not applied")
	}
	close(snap.release)
	if err := <-done; err != nil {
		t.Fatalf("select: %v", err)
	}
	if got := <-snap.saved; got.Name != "name-X" {
		t.Fatalf("snapshot saw push: %q", got.Name)
	}
	if v := nav.View(); v.Regions[0].Region.Name != "renamed" {
		t.Fatalf("view name = %q", v.Regions[0].Region.Name)
	}
}

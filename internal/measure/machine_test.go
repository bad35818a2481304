package measure

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-map/internal/engine"
	"github.com/joeblew999/plat-map/internal/loop"
	"github.com/joeblew999/plat-map/internal/routing"
	"github.com/joeblew999/plat-map/internal/scene"
)

type fakeRouter struct {
	route routing.Route
	err   error
	calls int
}

func (f *fakeRouter) Route(_ context.Context, from, to orb.Point) (routing.Route, error) {
	f.calls++
	if f.err != nil {
		return routing.Route{}, f.err
	}
	r := f.route
	if r.Path == nil {
		r.Path = orb.LineString{from, to}
	}
	return r, nil
}

type notices []string

func (n *notices) notify(level, msg string) { *n = append(*n, level+": "+msg) }

func setup(t *testing.T, r Router) (*Machine, *scene.Scene, *loop.Manual, *notices) {
	t.Helper()
	sched := loop.NewManual(time.Unix(0, 0))
	m := scene.New(scene.Config{Scheduler: sched})
	m.SetStyle("https://example.test/style.json")
	sched.Drain()
	n := &notices{}
	return New(sched, r, n.notify, zerolog.Nop(), nil), m, sched, n
}

func TestHaversine(t *testing.T) {
	d := HaversineKm(orb.Point{0, 0}, orb.Point{0, 1})
	if math.Abs(d-111.19) > 0.01 {
		t.Fatalf("distance = %f, want ~111.19", d)
	}
	if HaversineKm(orb.Point{-99.1, 19.4}, orb.Point{-99.1, 19.4}) != 0 {
		t.Fatal("identical points should be 0 km apart")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "0 min"},
		{1500, "25 min"},
		{3600, "1 h 0 min"},
		{3900, "1 h 5 min"},
		{7290, "2 h 2 min"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.seconds); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestToggleRouteTwiceReturnsToIdle(t *testing.T) {
	mc, m, _, _ := setup(t, &fakeRouter{})

	if mode := mc.ToggleRoute(m); mode != CapturingRoute {
		t.Fatalf("mode = %v", mode)
	}
	mc.Click(m, orb.Point{1, 1})
	if mode := mc.ToggleRoute(m); mode != Idle {
		t.Fatalf("mode = %v", mode)
	}
	mc.ToggleRoute(m)
	mc.ToggleRoute(m)

	st := mc.State()
	if st.Mode != Idle || len(st.Points) != 0 || len(mc.Records()) != 0 {
		t.Fatalf("state = %+v records = %d", st, len(mc.Records()))
	}
}

func TestClickIgnoredWhenIdle(t *testing.T) {
	mc, m, _, _ := setup(t, &fakeRouter{})
	mc.Click(m, orb.Point{1, 1})
	if len(mc.State().Points) != 0 {
		t.Fatal("idle machine captured a point")
	}
}

func TestLineCapture(t *testing.T) {
	mc, m, _, _ := setup(t, nil)
	mc.ToggleLine(m)
	mc.Click(m, orb.Point{0, 0})
	if got := len(mc.State().Points); got != 1 {
		t.Fatalf("points = %d", got)
	}
	mc.Click(m, orb.Point{0, 1})

	recs := mc.Records()
	if len(recs) != 1 {
		t.Fatalf("records = %d", len(recs))
	}
	r := recs[0]
	if r.Kind != KindLine || r.DurationLabel != StraightLineLabel {
		t.Fatalf("record = %+v", r)
	}
	if math.Abs(r.DistanceKm-111.19) > 0.01 {
		t.Fatalf("distance = %f", r.DistanceKm)
	}
	if !m.HasLayer(r.LayerID()) || !m.HasSource(r.LayerID()) {
		t.Fatal("line overlay not drawn")
	}
	st := mc.State()
	if st.Mode != CapturingLine || len(st.Points) != 0 {
		t.Fatalf("state after record = %+v", st)
	}
}

func TestRouteCapture(t *testing.T) {
	r := &fakeRouter{route: routing.Route{DistanceMeters: 12345, DurationSeconds: 3900}}
	mc, m, sched, _ := setup(t, r)
	mc.ToggleRoute(m)
	mc.Click(m, orb.Point{-99.1, 19.4})
	mc.Click(m, orb.Point{-99.3, 19.6})

	if !mc.State().Pending {
		t.Fatal("route request should be pending before the loop drains")
	}
	mc.Click(m, orb.Point{5, 5})
	sched.Drain()

	recs := mc.Records()
	if len(recs) != 1 || r.calls != 1 {
		t.Fatalf("records = %d calls = %d", len(recs), r.calls)
	}
	if recs[0].DistanceKm != 12.345 || recs[0].DurationLabel != "1 h 5 min" {
		t.Fatalf("record = %+v", recs[0])
	}
	if st := mc.State(); st.Mode != CapturingRoute || len(st.Points) != 0 || st.Pending {
		t.Fatalf("state = %+v", st)
	}
}

func TestRouteFailureReturnsToIdle(t *testing.T) {
	mc, m, sched, n := setup(t, &fakeRouter{err: routing.ErrNoRoute})
	mc.ToggleRoute(m)
	mc.Click(m, orb.Point{0, 0})
	mc.Click(m, orb.Point{1, 1})
	sched.Drain()

	st := mc.State()
	if st.Mode != Idle || len(st.Points) != 0 || len(mc.Records()) != 0 {
		t.Fatalf("state = %+v records = %d", st, len(mc.Records()))
	}
	if len(*n) != 1 {
		t.Fatalf("notices = %v", *n)
	}
}

func TestStaleRouteDiscarded(t *testing.T) {
	mc, m, sched, _ := setup(t, &fakeRouter{})
	mc.ToggleRoute(m)
	mc.Click(m, orb.Point{0, 0})
	mc.Click(m, orb.Point{1, 1})
	// The continuation is queued but not yet run.
	mc.Clear(m)
	sched.Drain()

	if len(mc.Records()) != 0 {
		t.Fatal("stale route was recorded")
	}
	if mc.State().Mode != Idle {
		t.Fatal("expected idle")
	}
}

func TestSwitchingModesClearsRecords(t *testing.T) {
	mc, m, sched, _ := setup(t, &fakeRouter{})
	mc.ToggleRoute(m)
	mc.Click(m, orb.Point{0, 0})
	mc.Click(m, orb.Point{1, 1})
	sched.Drain()
	id := mc.Records()[0].LayerID()

	mc.ToggleLine(m)
	if len(mc.Records()) != 0 || m.HasLayer(id) || m.HasSource(id) {
		t.Fatal("switching modes left route overlays behind")
	}
	if mc.State().Mode != CapturingLine {
		t.Fatalf("mode = %v", mc.State().Mode)
	}
}

func TestReplayAfterStyleSwap(t *testing.T) {
	mc, m, sched, _ := setup(t, nil)
	mc.ToggleLine(m)
	mc.Click(m, orb.Point{0, 0})
	mc.Click(m, orb.Point{0, 1})
	mc.Click(m, orb.Point{2, 2})
	id := mc.Records()[0].LayerID()

	m.SetStyle("https://example.test/other.json")
	sched.Drain()
	if m.HasLayer(id) {
		t.Fatal("style swap should wipe overlays")
	}
	mc.Replay(m)

	if !m.HasLayer(id) || !m.HasLayer(CaptureLayer) || !m.HasLayer(CaptureHalo) {
		t.Fatalf("replay incomplete: %v", m.LayerIDs())
	}
	if got := len(mc.State().Points); got != 1 {
		t.Fatalf("capture points = %d", got)
	}
}

func TestRecordIDsAreUnique(t *testing.T) {
	mc, m, _, _ := setup(t, nil)
	mc.ToggleLine(m)
	for i := 0; i < 3; i++ {
		mc.Click(m, orb.Point{0, 0})
		mc.Click(m, orb.Point{float64(i + 1), 0})
	}
	seen := map[int64]bool{}
	for _, r := range mc.Records() {
		if seen[r.ID] {
			t.Fatalf("duplicate id %d", r.ID)
		}
		seen[r.ID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("records = %d", len(seen))
	}
}

func TestCaptureMarkerFailureIsLogged(t *testing.T) {
	sched := loop.NewManual(time.Unix(0, 0))
	m := scene.New(scene.Config{Scheduler: sched})
	m.SetStyle("https://example.test/style.json")
	sched.Drain()
	if err := m.AddSource(CaptureSource, engine.Source{Type: engine.VectorSource}); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	mc := New(sched, nil, func(string, string) {}, zerolog.New(&buf), nil)

	mc.ToggleLine(m)
	mc.Click(m, orb.Point{0, 0})
	if got := len(mc.State().Points); got != 1 {
		t.Fatalf("points = %d", got)
	}
	if !strings.Contains(buf.String(), "capture markers not updated") {
		t.Fatalf("log = %q", buf.String())
	}
}

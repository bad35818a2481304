package mapstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-map/internal/engine"
	"github.com/joeblew999/plat-map/internal/loop"
	"github.com/joeblew999/plat-map/internal/measure"
	"github.com/joeblew999/plat-map/internal/minimap"
	"github.com/joeblew999/plat-map/internal/protocol"
	"github.com/joeblew999/plat-map/internal/routing"
	"github.com/joeblew999/plat-map/internal/scene"
	"github.com/joeblew999/plat-map/internal/service"
	"github.com/joeblew999/plat-map/internal/style"
)

const testCatalog = `
title: test
attribution: Test attribution
center: [-100, 20]
zoom: 5
layers:
  - id: puntos
    url: pmtiles://data/puntos.pmtiles
    sourceLayer: puntos_tile
    type: circle
    pulse: true
    paint: {circle-color: "#e60026"}
    tooltip: {idProperty: Sede, template: '<b>{{prop . "Sede"}}</b>'}
  - id: regiones
    url: pmtiles://data/regiones.pmtiles
    sourceLayer: regiones_tile
    type: fill
    companions: [puntos]
visibility:
  regiones: false
  ghost: true
`

var testDocs = style.Documents{
	FlatNormal:      "https://styles.test/flat.json",
	FlatSatellite:   "https://styles.test/satellite.json",
	RaisedNormal:    "https://styles.test/raised.json",
	RaisedSatellite: "https://styles.test/raised-satellite.json",
	TerrainSource:   "https://dem.test/terrain.json",
}

type stubRouter struct{ err error }

func (r stubRouter) Route(context.Context, orb.Point, orb.Point) (routing.Route, error) {
	if r.err != nil {
		return routing.Route{}, r.err
	}
	return routing.Route{DistanceMeters: 5000, DurationSeconds: 600, Path: orb.LineString{{0, 0}, {0, 1}}}, nil
}

type fixture struct {
	sched  *loop.Manual
	bus    *service.EventBus
	events chan service.Event
	e      *Engine
}

func newFixture(t *testing.T, router measure.Router, opts ...func(*Config)) *fixture {
	t.Helper()
	cat, err := service.ParseCatalog([]byte(testCatalog))
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{sched: loop.NewManual(time.Unix(0, 0)), bus: service.NewEventBus()}
	f.events = f.bus.Subscribe()
	t.Cleanup(func() { f.bus.Unsubscribe(f.events) })

	cfg := Config{
		Scheduler: f.sched,
		Catalog:   cat,
		Documents: testDocs,
		Fetcher: scene.StyleFetcherFunc(func(context.Context, string) error {
			return nil
		}),
		Router:  router,
		Bus:     f.bus,
		BaseURL: "http://map.test",
		Logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.e, err = New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

// settle runs queued work and every timer a style transition can start.
func (f *fixture) settle() {
	for i := 0; i < 4; i++ {
		f.sched.Drain()
		f.sched.Advance(style.DefaultSettleDelay)
		f.sched.Advance(time.Second)
	}
}

func (f *fixture) mount(t *testing.T) {
	t.Helper()
	var readyErr error
	called := false
	if err := f.e.Mount(func(err error) { called, readyErr = true, err }); err != nil {
		t.Fatal(err)
	}
	f.settle()
	if !called || readyErr != nil {
		t.Fatalf("ready called=%v err=%v", called, readyErr)
	}
}

func (f *fixture) commands() []scene.Command {
	var out []scene.Command
	for {
		select {
		case ev := <-f.events:
			if c, ok := ev.Payload.(scene.Command); ok {
				out = append(out, c)
			}
		default:
			return out
		}
	}
}

func TestMountReplaysCatalogue(t *testing.T) {
	f := newFixture(t, stubRouter{})
	f.mount(t)
	m := f.e.main

	src, ok := m.Source("puntos")
	if !ok || src.URL != "http://map.test/tiles/puntos" {
		t.Fatalf("puntos source = %+v", src)
	}
	for _, id := range []string{"regiones", "puntos", "puntos-pulse"} {
		if v := m.Visibility(id); v != engine.Hidden {
			t.Errorf("%s visibility = %q", id, v)
		}
	}
	if m.HandlerCount("puntos") != 3 {
		t.Fatalf("hover handlers on puntos = %d", m.HandlerCount("puntos"))
	}
	if !f.e.overview.HasSource(minimap.ViewportSource) {
		t.Fatal("minimap viewport not drawn")
	}
	if f.e.overview.HandlerCount("") != 0 {
		t.Fatal("handlers registered on the overview map")
	}

	var attribution bool
	for _, c := range f.commands() {
		if c.Op == "attribution" && c.Target == MainTarget {
			attribution = true
		}
	}
	if !attribution {
		t.Fatal("attribution not published")
	}
	if err := f.e.Mount(nil); !errors.Is(err, ErrAlreadyMounted) {
		t.Fatalf("second mount err = %v", err)
	}
}

func TestOperationsRequireMount(t *testing.T) {
	f := newFixture(t, stubRouter{})
	if _, err := f.e.ToggleLayer("regiones"); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("err = %v", err)
	}
	if err := f.e.Click(orb.Point{0, 0}); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("err = %v", err)
	}
	if s := f.e.Snapshot(); s.Mounted || s.Visibility["regiones"] {
		t.Fatalf("snapshot = %+v", s)
	}
}

func TestFullTransitionPreservesState(t *testing.T) {
	f := newFixture(t, stubRouter{})
	f.mount(t)
	m := f.e.main

	if on, _ := f.e.ToggleLayer("regiones"); !on {
		t.Fatal("toggle did not turn regiones on")
	}
	if _, err := f.e.ToggleLineMode(); err != nil {
		t.Fatal(err)
	}
	f.e.Click(orb.Point{0, 0})
	f.e.Click(orb.Point{0, 1})
	records := f.e.Snapshot().Measure.Records
	if len(records) != 1 {
		t.Fatalf("records = %+v", records)
	}

	view := engine.ViewState{Center: orb.Point{-99.1, 19.4}, Zoom: 9.25, Bearing: 12}
	f.e.Camera(view, nil)

	// imagery only: a full reload, checked before any augmentation runs
	if _, err := f.e.ToggleImagery(); err != nil {
		t.Fatal(err)
	}
	f.sched.Drain()
	if m.StyleURL() != testDocs.FlatSatellite {
		t.Fatalf("style = %s", m.StyleURL())
	}
	if m.View() != view {
		t.Fatalf("view = %+v, want %+v", m.View(), view)
	}
	f.settle()

	if _, err := f.e.ToggleTerrain(); err != nil {
		t.Fatal(err)
	}
	f.settle()

	s := f.e.Snapshot()
	if s.Style.Mode != style.RaisedSatellite.String() || s.Style.Busy {
		t.Fatalf("style = %+v", s.Style)
	}
	if m.StyleURL() != testDocs.RaisedSatellite || m.Terrain() == nil {
		t.Fatalf("style %s terrain %v", m.StyleURL(), m.Terrain())
	}
	if got := m.View(); got != view {
		t.Fatalf("view after terrain = %+v, want %+v", got, view)
	}

	if len(s.Measure.Records) != 1 || s.Measure.Records[0].ID != records[0].ID {
		t.Fatalf("records after reload = %+v", s.Measure.Records)
	}
	if !m.HasLayer(records[0].LayerID()) {
		t.Fatal("measurement overlay not replayed")
	}
	for _, id := range []string{"regiones", "puntos", "puntos-pulse"} {
		if v := m.Visibility(id); v != engine.Visible {
			t.Errorf("%s visibility after reload = %q", id, v)
		}
	}
	if !s.Visibility["regiones"] || !s.Visibility["ghost"] {
		t.Fatalf("visibility table = %v", s.Visibility)
	}
	if m.HandlerCount("puntos") != 3 {
		t.Fatalf("hover handlers after reload = %d", m.HandlerCount("puntos"))
	}
}

func TestRouteMeasurement(t *testing.T) {
	f := newFixture(t, stubRouter{})
	f.mount(t)

	if mode, _ := f.e.ToggleRouteMode(); mode != measure.CapturingRoute {
		t.Fatalf("mode = %v", mode)
	}
	f.e.Click(orb.Point{0, 0})
	f.e.Click(orb.Point{0, 1})
	f.sched.Drain()

	s := f.e.Snapshot()
	if len(s.Measure.Records) != 1 || s.Measure.Records[0].DistanceKm != 5 || s.Measure.Records[0].DurationLabel != "10 min" {
		t.Fatalf("records = %+v", s.Measure.Records)
	}
	if err := f.e.ClearMeasurements(); err != nil {
		t.Fatal(err)
	}
	if s := f.e.Snapshot(); len(s.Measure.Records) != 0 || s.Measure.Mode != "idle" {
		t.Fatalf("after clear = %+v", s.Measure)
	}
}

func TestRouteFailureNotifies(t *testing.T) {
	f := newFixture(t, stubRouter{err: routing.ErrNoRoute})
	f.mount(t)
	f.commands()

	f.e.ToggleRouteMode()
	f.e.Click(orb.Point{0, 0})
	f.e.Click(orb.Point{0, 1})
	f.sched.Drain()

	var notice *service.Notice
	for {
		select {
		case ev := <-f.events:
			if n, ok := ev.Payload.(service.Notice); ok {
				notice = &n
			}
			continue
		default:
		}
		break
	}
	if notice == nil || notice.Level != "error" {
		t.Fatalf("notice = %+v", notice)
	}
	if s := f.e.Snapshot(); s.Measure.Mode != "idle" || len(s.Measure.Records) != 0 {
		t.Fatalf("measure = %+v", s.Measure)
	}
}

func TestPointerDrivesTooltip(t *testing.T) {
	f := newFixture(t, stubRouter{})
	f.mount(t)

	feature := geojson.NewFeature(orb.Point{-100, 20})
	feature.Properties["Sede"] = "Oaxaca"
	ev := engine.Event{Type: engine.MouseEnter, LayerID: "puntos", LngLat: orb.Point{-100, 20}, Features: []*geojson.Feature{feature}}
	if err := f.e.Pointer(ev); err != nil {
		t.Fatal(err)
	}
	if h := f.e.Snapshot().Hover; !h.Hovering || h.Layer != "puntos" {
		t.Fatalf("hover = %+v", h)
	}
	if f.e.main.Cursor() != "pointer" {
		t.Fatalf("cursor = %q", f.e.main.Cursor())
	}
	if err := f.e.Pointer(engine.Event{Type: engine.MouseOut}); err != nil {
		t.Fatal(err)
	}
	if f.e.Snapshot().Hover.Hovering {
		t.Fatal("tooltip still open after mouseout")
	}
	if err := f.e.Pointer(engine.Event{Type: engine.Click}); !errors.Is(err, ErrBadEvent) {
		t.Fatalf("click as pointer err = %v", err)
	}
}

func TestCompassPublishedOnChange(t *testing.T) {
	f := newFixture(t, stubRouter{})
	f.mount(t)
	f.commands()

	f.e.Camera(engine.ViewState{Center: orb.Point{-100, 20}, Zoom: 5, Bearing: 90}, nil)
	f.sched.Frame()
	f.sched.Frame()

	if c := f.e.Snapshot().Compass; c <= 0 || c >= 90 {
		t.Fatalf("compass = %v", c)
	}
	n := 0
	for _, c := range f.commands() {
		if c.Op == "compass" {
			n++
		}
	}
	if n != 2 {
		t.Fatalf("compass commands = %d, want 2", n)
	}
}

func TestUnmount(t *testing.T) {
	f := newFixture(t, stubRouter{})
	f.mount(t)
	main := f.e.main

	f.e.Unmount()
	if f.e.protocols.Registered(protocol.PMTilesScheme) {
		t.Fatal("pmtiles protocol still registered")
	}
	if f.e.animation.Running() {
		t.Fatal("animation still running")
	}
	closed := map[string]bool{}
	for _, c := range f.commands() {
		if c.Op == scene.CloseOp {
			closed[c.Target] = true
		}
	}
	if !closed[MainTarget] || !closed[MinimapTarget] {
		t.Fatalf("close commands = %v", closed)
	}
	if main.HandlerCount("") != 0 {
		t.Fatalf("%d handlers left on the unmounted map", main.HandlerCount(""))
	}
	if _, err := f.e.ToggleTerrain(); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("err = %v", err)
	}
	f.e.Unmount()

	// the engine can be mounted again with its state intact
	f.mount(t)
	if !f.e.Snapshot().Ready {
		t.Fatal("not ready after remount")
	}
}

func TestUnmountAbandonsTransition(t *testing.T) {
	f := newFixture(t, stubRouter{}, func(c *Config) { c.TerrainPitch = 60 })
	f.mount(t)

	if _, err := f.e.ToggleTerrain(); err != nil {
		t.Fatal(err)
	}
	f.settle()
	main := f.e.main
	if main.View().Pitch != 60 || main.StyleURL() != testDocs.RaisedNormal {
		t.Fatalf("pitch %v style %s", main.View().Pitch, main.StyleURL())
	}

	// leaving terrain eases the pitch down before the reload
	if _, err := f.e.ToggleTerrain(); err != nil {
		t.Fatal(err)
	}
	f.e.Unmount()
	f.sched.Advance(2 * time.Second)
	f.sched.Drain()

	if f.e.animation.Running() {
		t.Fatal("animation restarted after unmount")
	}
	if n := f.sched.PendingFrames(); n != 0 {
		t.Fatalf("pending frames = %d", n)
	}
	if main.StyleURL() != testDocs.RaisedNormal {
		t.Fatalf("closed map reloaded to %s", main.StyleURL())
	}
	if main.View().Pitch != 60 {
		t.Fatalf("closed map eased to pitch %v", main.View().Pitch)
	}
	if n := main.HandlerCount(""); n != 0 {
		t.Fatalf("%d handlers on the closed map", n)
	}
}

func TestReloadKeepsReportedBounds(t *testing.T) {
	f := newFixture(t, stubRouter{})
	f.mount(t)
	m := f.e.main

	view := engine.ViewState{Center: orb.Point{-99.1, 19.4}, Zoom: 9}
	bound := orb.Bound{Min: orb.Point{-99.5, 19.1}, Max: orb.Point{-98.7, 19.7}}
	if err := f.e.Camera(view, &bound); err != nil {
		t.Fatal(err)
	}
	if _, err := f.e.ToggleImagery(); err != nil {
		t.Fatal(err)
	}
	f.settle()

	if m.StyleURL() != testDocs.FlatSatellite {
		t.Fatalf("style = %s", m.StyleURL())
	}
	if got := m.Bounds(); got != bound {
		t.Fatalf("bounds after reload = %v, want %v", got, bound)
	}
	src, ok := f.e.overview.Source(minimap.ViewportSource)
	if !ok || src.Data == nil || len(src.Data.Features) != 1 {
		t.Fatalf("viewport source = %+v", src)
	}
	poly, _ := src.Data.Features[0].Geometry.(orb.Polygon)
	if !poly.Equal(minimap.ViewportPolygon(bound)) {
		t.Fatalf("viewport = %v, want %v", poly, minimap.ViewportPolygon(bound))
	}
}

func TestRemountRecoversFromDegradedStyle(t *testing.T) {
	failing := map[string]bool{}
	f := newFixture(t, stubRouter{}, func(c *Config) {
		c.Fetcher = scene.StyleFetcherFunc(func(_ context.Context, url string) error {
			if failing[url] {
				return errors.New("503")
			}
			return nil
		})
	})
	f.mount(t)

	failing[testDocs.FlatSatellite] = true
	failing[testDocs.FlatNormal] = true
	if _, err := f.e.ToggleImagery(); err != nil {
		t.Fatal(err)
	}
	f.settle()
	if !f.e.Snapshot().Style.Degraded {
		t.Fatal("expected a degraded style controller")
	}
	if _, err := f.e.ToggleTerrain(); !errors.Is(err, style.ErrDegraded) {
		t.Fatalf("toggle while degraded err = %v", err)
	}

	f.e.Unmount()
	failing = map[string]bool{}
	f.mount(t)

	if f.e.Snapshot().Style.Degraded {
		t.Fatal("still degraded after remount")
	}
	if _, err := f.e.ToggleTerrain(); err != nil {
		t.Fatalf("toggle after remount: %v", err)
	}
	f.settle()
	if f.e.main.StyleURL() != testDocs.RaisedNormal || f.e.main.Terrain() == nil {
		t.Fatalf("style %s terrain %v", f.e.main.StyleURL(), f.e.main.Terrain())
	}
}

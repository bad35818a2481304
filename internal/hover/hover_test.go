package hover

import (
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-map/internal/engine"
	"github.com/joeblew999/plat-map/internal/layers"
	"github.com/joeblew999/plat-map/internal/loop"
	"github.com/joeblew999/plat-map/internal/scene"
)

func setup(t *testing.T) (*Coalescer, *scene.Scene, *loop.Manual) {
	t.Helper()
	sched := loop.NewManual(time.Unix(0, 0))
	m := scene.New(scene.Config{Scheduler: sched})
	m.SetStyle("https://example.test/style.json")
	sched.Drain()

	reg, err := layers.NewRegistry([]layers.Descriptor{
		{ID: "puntos", Type: engine.Circle, SourceURL: "https://example.test/p.json",
			Tooltip: &layers.TooltipRule{Template: `Sede: {{prop . "Sede"}}`}},
		{ID: "regiones", Type: engine.Fill, SourceURL: "https://example.test/r.json",
			Tooltip: &layers.TooltipRule{IDProperty: "_REGION", Template: `Región: {{prop . "_REGION"}}`}},
		{ID: "plain", Type: engine.Fill, SourceURL: "https://example.test/x.json"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Materialize(m); err != nil {
		t.Fatal(err)
	}
	c, err := New(sched, reg, zerolog.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Attach(m)
	return c, m, sched
}

func feature(id any, props map[string]any) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{0, 0})
	f.ID = id
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

func pointer(m *scene.Scene, typ engine.EventType, layer string, at orb.Point, f *geojson.Feature) {
	ev := engine.Event{Type: typ, LayerID: layer, LngLat: at}
	if f != nil {
		ev.Features = []*geojson.Feature{f}
	}
	m.Dispatch(ev)
}

func tip(c *Coalescer) *scene.Tooltip { return c.tooltip.(*scene.Tooltip) }

func TestAttachRegistersInteractiveLayersOnly(t *testing.T) {
	_, m, _ := setup(t)
	if n := m.HandlerCount("puntos"); n != 3 {
		t.Fatalf("puntos handlers = %d", n)
	}
	if n := m.HandlerCount("plain"); n != 0 {
		t.Fatalf("plain handlers = %d", n)
	}
}

func TestReattachDoesNotDuplicateHandlers(t *testing.T) {
	c, m, _ := setup(t)
	before := m.HandlerCount("")
	c.Attach(m)
	c.Attach(m)
	if after := m.HandlerCount(""); after != before {
		t.Fatalf("handlers %d -> %d", before, after)
	}
}

func TestContentRenderedOncePerIdentity(t *testing.T) {
	c, m, sched := setup(t)
	a := feature("a", map[string]any{"Sede": "Oaxaca"})
	b := feature("b", map[string]any{"Sede": "Chiapas"})

	pointer(m, engine.MouseEnter, "puntos", orb.Point{1, 1}, a)
	for i := 0; i < 5; i++ {
		pointer(m, engine.MouseMove, "puntos", orb.Point{1 + float64(i)*0.001, 1}, a)
	}
	pointer(m, engine.MouseMove, "puntos", orb.Point{1.01, 1}, b)
	pointer(m, engine.MouseMove, "puntos", orb.Point{1.02, 1}, b)
	sched.Frame()

	tt := tip(c)
	if tt.HTMLWrites != 2 {
		t.Fatalf("html writes = %d, want 2", tt.HTMLWrites)
	}
	if !strings.Contains(tt.HTML(), "Chiapas") {
		t.Fatalf("html = %q", tt.HTML())
	}
	if !tt.IsOpen() || m.Cursor() != "pointer" {
		t.Fatal("tooltip should be open with a pointer cursor")
	}
}

func TestPositionWritesCoalescedPerFrame(t *testing.T) {
	c, m, sched := setup(t)
	f := feature("a", nil)
	for i := 0; i < 10; i++ {
		pointer(m, engine.MouseMove, "puntos", orb.Point{float64(i), 0}, f)
	}
	if sched.PendingFrames() != 1 {
		t.Fatalf("pending frames = %d", sched.PendingFrames())
	}
	sched.Frame()
	tt := tip(c)
	if tt.PositionWrites != 1 || tt.LngLat() != (orb.Point{9, 0}) {
		t.Fatalf("writes = %d at %v", tt.PositionWrites, tt.LngLat())
	}
}

func TestCameraMoveKeepsTooltipTracking(t *testing.T) {
	c, m, sched := setup(t)
	pointer(m, engine.MouseEnter, "puntos", orb.Point{3, 4}, feature("a", nil))
	sched.Frame()

	m.Camera(engine.ViewState{Center: orb.Point{10, 10}, Zoom: 6}, nil)
	m.Camera(engine.ViewState{Center: orb.Point{11, 10}, Zoom: 6}, nil)
	sched.Frame()

	tt := tip(c)
	if !tt.IsOpen() {
		t.Fatal("camera movement closed the tooltip")
	}
	if tt.PositionWrites != 2 || tt.LngLat() != (orb.Point{3, 4}) {
		t.Fatalf("writes = %d at %v", tt.PositionWrites, tt.LngLat())
	}
}

func TestLeaveOtherLayerKeepsTooltip(t *testing.T) {
	c, m, _ := setup(t)
	pointer(m, engine.MouseEnter, "puntos", orb.Point{0, 0}, feature("a", nil))
	pointer(m, engine.MouseEnter, "regiones", orb.Point{0, 0}, feature(nil, map[string]any{"_REGION": 4}))
	pointer(m, engine.MouseLeave, "puntos", orb.Point{0, 0}, nil)

	if !tip(c).IsOpen() || c.State().Layer != "regiones" {
		t.Fatalf("state = %+v", c.State())
	}
	pointer(m, engine.MouseLeave, "regiones", orb.Point{0, 0}, nil)
	if tip(c).IsOpen() || c.State().Hovering || m.Cursor() != "" {
		t.Fatal("leave did not close the tooltip")
	}
}

func TestCanvasLeaveForceCloses(t *testing.T) {
	c, m, _ := setup(t)
	pointer(m, engine.MouseEnter, "puntos", orb.Point{0, 0}, feature("a", nil))
	m.Dispatch(engine.Event{Type: engine.MouseOut})
	if tip(c).IsOpen() || c.State().Hovering {
		t.Fatal("mouseout left the tooltip open")
	}
}

func TestIdentityRules(t *testing.T) {
	rule := &layers.TooltipRule{IDProperty: "cve", CompositeKeys: [2]string{"ent", "mun"}}
	tests := []struct {
		name string
		f    *geojson.Feature
		rule *layers.TooltipRule
		want string
	}{
		{"feature id", feature(7, map[string]any{"cve": "x"}), rule, "7"},
		{"id property", feature(nil, map[string]any{"cve": "x"}), rule, "x"},
		{"composite", feature(nil, map[string]any{"ent": "09", "mun": "002"}), rule, "09|002"},
		{"all properties", feature(nil, map[string]any{"b": 2, "a": 1}), nil, "map[a:1 b:2]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Identity(tt.f, tt.rule); got != tt.want {
				t.Fatalf("Identity = %q, want %q", got, tt.want)
			}
		})
	}
}

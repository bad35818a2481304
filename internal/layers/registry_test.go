package layers_test

import (
	"errors"
	"testing"
	"time"

	"github.com/joeblew999/plat-map/internal/engine"
	"github.com/joeblew999/plat-map/internal/layers"
	"github.com/joeblew999/plat-map/internal/loop"
	"github.com/joeblew999/plat-map/internal/scene"
)

func testDescriptors() []layers.Descriptor {
	return []layers.Descriptor{
		{
			ID: "regiones_zona1", SourceURL: "pmtiles://data/regiones_zona1.pmtiles",
			Type: engine.Fill, SourceLayer: "regiones_zona1_tile",
			Paint:      map[string]any{"fill-opacity": 0.5},
			ColorPaint: "fill-color",
			Palette:    &layers.Palette{Property: "_REGION", Colors: []string{"#a", "#b", "#c"}, Count: 5, Default: "#ccc"},
			Companions: []string{"puntos_zona1"},
		},
		{
			ID: "puntos_zona1", SourceURL: "pmtiles://data/puntos_zona1.pmtiles",
			Type: engine.Circle, SourceLayer: "puntos_zona1_tile",
			Paint: map[string]any{"circle-color": "#e60026"},
			Pulse: true,
		},
		{ID: "wifi_4g", SourceID: "wifi", SourceURL: "pmtiles://data/wifi.pmtiles", Type: engine.Circle},
		{ID: "wifi_sat", SourceID: "wifi", SourceURL: "pmtiles://data/wifi.pmtiles", Type: engine.Circle},
	}
}

func newScene() *scene.Scene {
	return scene.New(scene.Config{Scheduler: loop.NewManual(time.Unix(0, 0))})
}

func TestMaterializeIsIdempotent(t *testing.T) {
	r, err := layers.NewRegistry(testDescriptors())
	if err != nil {
		t.Fatal(err)
	}
	m := newScene()

	for i := 0; i < 3; i++ {
		if err := r.Materialize(m); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	wantLayers := []string{"regiones_zona1", "puntos_zona1", "puntos_zona1-pulse", "wifi_4g", "wifi_sat"}
	got := m.LayerIDs()
	if len(got) != len(wantLayers) {
		t.Fatalf("layers=%v, want %v", got, wantLayers)
	}
	for i := range wantLayers {
		if got[i] != wantLayers[i] {
			t.Fatalf("layers=%v, want %v", got, wantLayers)
		}
	}
	if n := len(m.SourceIDs()); n != 3 {
		t.Fatalf("sources=%v, want 3 (wifi shared)", m.SourceIDs())
	}
}

func TestMaterializeBindsPaletteExpression(t *testing.T) {
	r, _ := layers.NewRegistry(testDescriptors())
	m := newScene()
	if err := r.Materialize(m); err != nil {
		t.Fatal(err)
	}
	l, _ := m.Layer("regiones_zona1")
	expr, ok := l.Paint["fill-color"].([]any)
	if !ok || expr[0] != "match" {
		t.Fatalf("fill-color=%v", l.Paint["fill-color"])
	}
	// match, input, 5 pairs, fallback
	if len(expr) != 2+10+1 {
		t.Fatalf("expression length %d", len(expr))
	}
	if l.Paint["fill-opacity"] != 0.5 {
		t.Fatalf("static paint lost: %v", l.Paint)
	}
}

func TestPaletteColorFor(t *testing.T) {
	p := &layers.Palette{Property: "ID", Colors: []string{"#0", "#1", "#2"}, Count: 4, Default: "#d"}
	tests := []struct {
		v    any
		want string
	}{
		{1, "#1"},
		{3, "#0"},
		{4, "#1"},
		{5, "#d"},
		{"1", "#d"},
	}
	for _, tt := range tests {
		if got := p.ColorFor(tt.v); got != tt.want {
			t.Errorf("ColorFor(%v)=%s, want %s", tt.v, got, tt.want)
		}
	}

	s := &layers.Palette{Property: "ID", Colors: []string{"#0", "#1"}, Count: 2, StringKeys: true}
	if got := s.ColorFor("1"); got != "#1" {
		t.Errorf("string key: %s", got)
	}
	if got := s.ColorFor(9); got != "#cccccc" {
		t.Errorf("default fallback: %s", got)
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := layers.NewRegistry([]layers.Descriptor{
		{ID: "a", Type: engine.Circle, Pulse: true},
		{ID: "a-pulse", Type: engine.Circle},
	})
	if err == nil {
		t.Fatal("expected duplicate error for derived pulse id")
	}
	_, err = layers.NewRegistry([]layers.Descriptor{{ID: "a", Companions: []string{"missing"}}})
	if err == nil {
		t.Fatal("expected unknown companion error")
	}
}

func TestCompanions(t *testing.T) {
	r, _ := layers.NewRegistry(testDescriptors())
	got := r.Companions("regiones_zona1")
	if len(got) != 1 || got[0] != "puntos_zona1" {
		t.Fatalf("companions=%v", got)
	}
	got = r.Companions("puntos_zona1")
	if len(got) != 1 || got[0] != "puntos_zona1-pulse" {
		t.Fatalf("companions=%v", got)
	}
	if r.Companions("puntos_zona1-pulse") != nil {
		t.Fatal("derived layers have no companions")
	}
	if len(r.PulseLayers()) != 1 || len(r.Interactive()) != 0 {
		t.Fatalf("pulse=%v interactive=%v", r.PulseLayers(), r.Interactive())
	}
}

func TestMaterializeSurfacesResolverErrors(t *testing.T) {
	r, _ := layers.NewRegistry(testDescriptors()[:1])
	m := scene.New(scene.Config{
		Scheduler: loop.NewManual(time.Unix(0, 0)),
		Resolver:  failingResolver{},
	})
	err := r.Materialize(m)
	if !errors.Is(err, errNoScheme) {
		t.Fatalf("err=%v", err)
	}
}

var errNoScheme = errors.New("no handler")

type failingResolver struct{}

func (failingResolver) Resolve(string) (string, error) { return "", errNoScheme }

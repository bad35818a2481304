// Package layers declares the thematic vector layers of the map and knows how
// to materialize them against a live map instance.
package layers

import (
	"fmt"

	"github.com/joeblew999/plat-map/internal/engine"
)

// PulseSuffix is appended to a layer id to name its pulsing companion.
const PulseSuffix = "-pulse"

// Palette assigns one of Colors to each of Count categorical values of
// Property. Values 1..Count map to Colors[i % len(Colors)]; anything else
// falls back to Default.
type Palette struct {
	Property   string   `yaml:"property" json:"property"`
	Colors     []string `yaml:"colors" json:"colors"`
	Count      int      `yaml:"count" json:"count"`
	Default    string   `yaml:"default" json:"default"`
	StringKeys bool     `yaml:"stringKeys" json:"stringKeys,omitempty"`
}

// TooltipRule says how to identify a hovered feature and what to show.
type TooltipRule struct {
	IDProperty    string    `yaml:"idProperty" json:"idProperty,omitempty"`
	CompositeKeys [2]string `yaml:"compositeKeys" json:"compositeKeys,omitempty"`
	Template      string    `yaml:"template" json:"template"`
}

// Descriptor declares one source/layer pair. It is immutable once
// registered and re-applied verbatim after every style reload.
type Descriptor struct {
	ID          string
	SourceID    string
	SourceURL   string
	Type        engine.LayerType
	SourceLayer string
	Paint       map[string]any
	Filter      []any
	MinZoom     float64
	MaxZoom     float64
	// ColorPaint is the paint property the Palette expression is bound to.
	ColorPaint string
	Palette    *Palette
	// Companions are existing layer ids that follow this layer's visibility.
	Companions []string
	// Pulse adds a decorative "<ID>-pulse" circle layer on the same source.
	Pulse   bool
	Tooltip *TooltipRule
	Hidden  bool
}

// Registry holds descriptors in declaration order.
type Registry struct {
	descs []Descriptor
	byID  map[string]int
}

// NewRegistry validates descs and returns a registry. Layer ids, including
// derived pulse ids, must be unique.
func NewRegistry(descs []Descriptor) (*Registry, error) {
	r := &Registry{byID: make(map[string]int)}
	for _, d := range descs {
		if d.ID == "" {
			return nil, fmt.Errorf("layer with empty id")
		}
		if d.SourceID == "" {
			d.SourceID = d.ID
		}
		ids := []string{d.ID}
		if d.Pulse {
			ids = append(ids, d.ID+PulseSuffix)
		}
		for _, id := range ids {
			if _, dup := r.byID[id]; dup {
				return nil, fmt.Errorf("layer %q declared twice", id)
			}
			r.byID[id] = len(r.descs)
		}
		r.descs = append(r.descs, d)
	}
	for _, d := range r.descs {
		for _, c := range d.Companions {
			if _, ok := r.byID[c]; !ok {
				return nil, fmt.Errorf("layer %q: unknown companion %q", d.ID, c)
			}
		}
	}
	return r, nil
}

// Descriptors returns the declarations in order.
func (r *Registry) Descriptors() []Descriptor {
	return append([]Descriptor(nil), r.descs...)
}

// Get returns the descriptor that declares id (a base or pulse layer id).
func (r *Registry) Get(id string) (Descriptor, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return r.descs[i], true
}

// Companions returns the layer ids whose visibility follows id.
func (r *Registry) Companions(id string) []string {
	i, ok := r.byID[id]
	if !ok || r.descs[i].ID != id {
		return nil
	}
	d := r.descs[i]
	out := append([]string(nil), d.Companions...)
	if d.Pulse {
		out = append(out, d.ID+PulseSuffix)
	}
	return out
}

// PulseLayers returns the ids of the derived pulsing layers.
func (r *Registry) PulseLayers() []string {
	var out []string
	for _, d := range r.descs {
		if d.Pulse {
			out = append(out, d.ID+PulseSuffix)
		}
	}
	return out
}

// Interactive returns the descriptors that carry a tooltip.
func (r *Registry) Interactive() []Descriptor {
	var out []Descriptor
	for _, d := range r.descs {
		if d.Tooltip != nil {
			out = append(out, d)
		}
	}
	return out
}

// Materialize adds every declared source and layer that is not already
// present on m. It returns the first hard error; existing ids are skipped.
func (r *Registry) Materialize(m engine.Map) error {
	for _, d := range r.descs {
		if !m.HasSource(d.SourceID) {
			if err := m.AddSource(d.SourceID, engine.Source{Type: engine.VectorSource, URL: d.SourceURL}); err != nil {
				return fmt.Errorf("materializing %s: %w", d.ID, err)
			}
		}
		if !m.HasLayer(d.ID) {
			if err := m.AddLayer(d.layer()); err != nil {
				return fmt.Errorf("materializing %s: %w", d.ID, err)
			}
		}
		if d.Pulse && !m.HasLayer(d.ID+PulseSuffix) {
			if err := m.AddLayer(d.pulseLayer()); err != nil {
				return fmt.Errorf("materializing %s: %w", d.ID+PulseSuffix, err)
			}
		}
	}
	return nil
}

func (d Descriptor) layer() engine.Layer {
	paint := make(map[string]any, len(d.Paint)+1)
	for k, v := range d.Paint {
		paint[k] = v
	}
	if d.Palette != nil && d.ColorPaint != "" {
		paint[d.ColorPaint] = d.Palette.Expression()
	}
	l := engine.Layer{
		ID:          d.ID,
		Type:        d.Type,
		Source:      d.SourceID,
		SourceLayer: d.SourceLayer,
		Filter:      d.Filter,
		Paint:       paint,
		MinZoom:     d.MinZoom,
		MaxZoom:     d.MaxZoom,
	}
	if d.Hidden {
		l.Layout = map[string]any{"visibility": engine.Hidden}
	}
	return l
}

func (d Descriptor) pulseLayer() engine.Layer {
	color := "#9b2247"
	if c, ok := d.Paint["circle-color"].(string); ok {
		color = c
	}
	l := engine.Layer{
		ID:          d.ID + PulseSuffix,
		Type:        engine.Circle,
		Source:      d.SourceID,
		SourceLayer: d.SourceLayer,
		Filter:      d.Filter,
		Paint: map[string]any{
			"circle-color":   color,
			"circle-radius":  0.0,
			"circle-opacity": 0.0,
		},
		MinZoom: d.MinZoom,
		MaxZoom: d.MaxZoom,
	}
	if d.Hidden {
		l.Layout = map[string]any{"visibility": engine.Hidden}
	}
	return l
}

// Expression builds a MapLibre match expression for the palette.
func (p *Palette) Expression() []any {
	fallback := p.Default
	if fallback == "" {
		fallback = "#cccccc"
	}
	if len(p.Colors) == 0 || p.Count <= 0 {
		return []any{"literal", fallback}
	}
	expr := make([]any, 0, 3+2*p.Count)
	expr = append(expr, "match", []any{"get", p.Property})
	for i := 1; i <= p.Count; i++ {
		var key any = i
		if p.StringKeys {
			key = fmt.Sprint(i)
		}
		expr = append(expr, key, p.Colors[i%len(p.Colors)])
	}
	return append(expr, fallback)
}

// ColorFor evaluates the palette for one property value the way the match
// expression would.
func (p *Palette) ColorFor(v any) string {
	expr := p.Expression()
	if len(expr) < 3 {
		return expr[1].(string)
	}
	for i := 2; i+1 < len(expr); i += 2 {
		if expr[i] == v {
			return expr[i+1].(string)
		}
	}
	return expr[len(expr)-1].(string)
}

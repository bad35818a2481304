package scene

import (
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-map/internal/engine"
)

// Tooltip is the scene's popup. HTMLWrites and PositionWrites count the
// content and position updates that reached the browser.
type Tooltip struct {
	s  *Scene
	id int

	lngLat orb.Point
	html   string
	open   bool

	HTMLWrites     int
	PositionWrites int
}

// NewTooltip creates a detached tooltip owned by the scene's canvas.
func (s *Scene) NewTooltip() engine.Tooltip {
	s.tooltips++
	return &Tooltip{s: s, id: s.tooltips}
}

func (t *Tooltip) SetLngLat(p orb.Point) {
	t.lngLat = p
	t.PositionWrites++
	t.s.emit("tooltip.position", map[string]any{"id": t.id, "lngLat": p})
}

func (t *Tooltip) SetHTML(html string) {
	t.html = html
	t.HTMLWrites++
	t.s.emit("tooltip.html", map[string]any{"id": t.id, "html": html})
}

func (t *Tooltip) Attach() {
	if t.open {
		return
	}
	t.open = true
	t.s.emit("tooltip.attach", map[string]any{"id": t.id})
}

func (t *Tooltip) Detach() {
	if !t.open {
		return
	}
	t.open = false
	t.s.emit("tooltip.detach", map[string]any{"id": t.id})
}

func (t *Tooltip) IsOpen() bool { return t.open }

// HTML returns the current content.
func (t *Tooltip) HTML() string { return t.html }

// LngLat returns the current anchor.
func (t *Tooltip) LngLat() orb.Point { return t.lngLat }

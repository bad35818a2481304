// Package hover drives the shared feature tooltip from pointer events.
package hover

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-map/internal/engine"
	"github.com/joeblew999/plat-map/internal/layers"
	"github.com/joeblew999/plat-map/internal/loop"
	"github.com/joeblew999/plat-map/internal/metrics"
	"github.com/joeblew999/plat-map/internal/templates"
)

// Status is the transient hover state. It is reset when the pointer leaves
// the feature or the canvas.
type Status struct {
	ActiveKey   string     `json:"activeKey"`
	Layer       string     `json:"layer"`
	ScreenPoint [2]float64 `json:"screenPoint"`
	GeoPoint    orb.Point  `json:"geoPoint"`
	Hovering    bool       `json:"hovering"`
}

// Coalescer owns one tooltip per map and the handlers that feed it.
// Content is rendered only when the hovered identity changes and position
// writes are limited to one per frame.
type Coalescer struct {
	sched   loop.Scheduler
	reg     *layers.Registry
	render  *templates.Renderer
	log     zerolog.Logger
	metrics *metrics.Metrics

	owner    engine.Map
	tooltip  engine.Tooltip
	handlers []engine.HandlerID

	state      Status
	contentKey string
	scheduled  bool
	frame      loop.FrameID
}

// New parses the tooltip template of every interactive layer in reg.
func New(sched loop.Scheduler, reg *layers.Registry, log zerolog.Logger, m *metrics.Metrics) (*Coalescer, error) {
	named := make(map[string]string)
	for _, d := range reg.Interactive() {
		named[d.ID] = d.Tooltip.Template
	}
	r, err := templates.New(named)
	if err != nil {
		return nil, fmt.Errorf("tooltip templates: %w", err)
	}
	return &Coalescer{sched: sched, reg: reg, render: r, log: log, metrics: m}, nil
}

// State returns the current hover state.
func (c *Coalescer) State() Status { return c.state }

// Attach registers enter, move and leave handlers on every interactive
// layer of m, plus the camera and canvas-leave handlers. Handlers from a
// previous Attach are removed first.
func (c *Coalescer) Attach(m engine.Map) {
	c.Detach()
	if c.owner != m || c.tooltip == nil {
		c.tooltip = m.NewTooltip()
		c.contentKey = ""
	}
	c.owner = m

	for _, d := range c.reg.Interactive() {
		d := d
		onPointer := func(ev engine.Event) { c.pointer(d, ev) }
		c.handlers = append(c.handlers,
			m.On(engine.MouseEnter, d.ID, onPointer),
			m.On(engine.MouseMove, d.ID, onPointer),
			m.On(engine.MouseLeave, d.ID, func(engine.Event) { c.leave(d.ID) }),
		)
	}
	c.handlers = append(c.handlers,
		m.On(engine.Move, "", func(engine.Event) { c.track() }),
		m.On(engine.MouseOut, "", func(engine.Event) { c.close() }),
	)
}

// Detach removes every handler registered by Attach and closes the tooltip.
func (c *Coalescer) Detach() {
	if c.owner != nil {
		for _, id := range c.handlers {
			c.owner.Off(id)
		}
	}
	c.handlers = nil
	if c.scheduled {
		c.sched.CancelFrame(c.frame)
		c.scheduled = false
	}
	if c.tooltip != nil {
		c.tooltip.Detach()
	}
	c.state = Status{}
}

func (c *Coalescer) pointer(d layers.Descriptor, ev engine.Event) {
	if len(ev.Features) == 0 {
		return
	}
	f := ev.Features[0]
	key := d.ID + "/" + Identity(f, d.Tooltip)

	c.owner.SetCursor("pointer")
	if key != c.contentKey {
		html, err := c.render.Render(d.ID, map[string]any(f.Properties))
		if err != nil {
			c.log.Warn().Err(err).Str("layer", d.ID).Msg("rendering tooltip")
			return
		}
		c.tooltip.SetHTML(html)
		c.contentKey = key
		c.metrics.IncTooltipRender()
	}

	c.state = Status{
		ActiveKey:   key,
		Layer:       d.ID,
		ScreenPoint: ev.Point,
		GeoPoint:    ev.LngLat,
		Hovering:    true,
	}
	c.schedulePosition()
	if !c.tooltip.IsOpen() {
		c.tooltip.Attach()
	}
}

// leave closes the tooltip unless the pointer already moved onto a feature
// of another layer.
func (c *Coalescer) leave(layerID string) {
	if c.state.Layer != layerID {
		return
	}
	c.close()
}

func (c *Coalescer) close() {
	c.state = Status{}
	if c.tooltip != nil {
		c.tooltip.Detach()
	}
	if c.owner != nil {
		c.owner.SetCursor("")
	}
}

// track keeps the open tooltip glued to its geographic anchor while the
// camera moves.
func (c *Coalescer) track() {
	if c.state.Hovering {
		c.schedulePosition()
	}
}

func (c *Coalescer) schedulePosition() {
	if c.scheduled {
		return
	}
	c.scheduled = true
	c.frame = c.sched.RequestFrame(func(time.Time) {
		c.scheduled = false
		if c.state.Hovering && c.tooltip != nil {
			c.tooltip.SetLngLat(c.state.GeoPoint)
		}
	})
}

// Identity returns the deduplication key of f: its id, else the rule's id
// property, else the composite of the rule's two keys, else all properties.
func Identity(f *geojson.Feature, rule *layers.TooltipRule) string {
	if f.ID != nil && f.ID != "" {
		return fmt.Sprint(f.ID)
	}
	if rule != nil {
		if rule.IDProperty != "" {
			if v, ok := f.Properties[rule.IDProperty]; ok && v != nil {
				return fmt.Sprint(v)
			}
		}
		a, b := rule.CompositeKeys[0], rule.CompositeKeys[1]
		if a != "" && b != "" {
			return fmt.Sprintf("%v|%v", f.Properties[a], f.Properties[b])
		}
	}
	return fmt.Sprint(map[string]any(f.Properties))
}

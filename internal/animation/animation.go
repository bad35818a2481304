// Package animation runs the per-frame pulse and compass loops.
package animation

import (
	"math"
	"time"

	"github.com/joeblew999/plat-map/internal/engine"
	"github.com/joeblew999/plat-map/internal/loop"
)

// Pulse shapes the halo animation of the pulse layers.
type Pulse struct {
	Period     time.Duration
	BaseRadius float64
	Amplitude  float64
	MaxOpacity float64
}

// DefaultPulse is a 1.5s halo growing from 6 to 18 pixels.
var DefaultPulse = Pulse{Period: 1500 * time.Millisecond, BaseRadius: 6, Amplitude: 12, MaxOpacity: 0.6}

// At returns the halo radius and opacity at time t.
func (p Pulse) At(t time.Time) (radius, opacity float64) {
	period := p.Period
	if period <= 0 {
		period = DefaultPulse.Period
	}
	phase := float64(t.UnixNano()%int64(period)) / float64(period)
	radius = p.BaseRadius + p.Amplitude*(1+math.Sin(2*math.Pi*phase))/2
	opacity = p.MaxOpacity * (1 - phase)
	return radius, opacity
}

// Relaxation is the fraction of the remaining heading error closed per frame.
const Relaxation = 0.15

// Compass is the displayed bearing of the compass indicator.
type Compass struct {
	Display float64 `json:"display"`
}

// Step moves the displayed bearing toward target along the shorter arc.
func (c *Compass) Step(target float64) float64 {
	next := c.Display + ShortestAngle(target, c.Display)*Relaxation
	c.Display = math.Mod(next+360, 360)
	return c.Display
}

// ShortestAngle returns target-current normalised to (-180, 180].
func ShortestAngle(target, current float64) float64 {
	d := math.Mod(target-current, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}

// Orchestrator owns the two self-rescheduling frame loops.
type Orchestrator struct {
	sched  loop.Scheduler
	pulse  Pulse
	layers func() []string
	report func(bearing float64)

	compass Compass
	pulseID loop.FrameID
	compID  loop.FrameID
	running bool
}

// New creates a stopped orchestrator. pulseLayers is consulted every frame;
// report receives the displayed compass bearing.
func New(sched loop.Scheduler, p Pulse, pulseLayers func() []string, report func(float64)) *Orchestrator {
	if report == nil {
		report = func(float64) {}
	}
	return &Orchestrator{sched: sched, pulse: p, layers: pulseLayers, report: report}
}

// Compass returns the displayed heading.
func (o *Orchestrator) Compass() Compass { return o.compass }

// Running reports whether the loops are scheduled.
func (o *Orchestrator) Running() bool { return o.running }

// Start cancels any running loops and starts both against m.
func (o *Orchestrator) Start(m engine.Map) {
	o.Stop()
	o.running = true

	var pulse func(time.Time)
	pulse = func(now time.Time) {
		r, op := o.pulse.At(now)
		for _, id := range o.layers() {
			// absent layers are skipped; hidden ones still animate
			if !m.HasLayer(id) {
				continue
			}
			_ = m.SetPaintProperty(id, "circle-radius", r)
			_ = m.SetPaintProperty(id, "circle-opacity", op)
		}
		o.pulseID = o.sched.RequestFrame(pulse)
	}

	var compass func(time.Time)
	compass = func(time.Time) {
		o.report(o.compass.Step(m.View().Bearing))
		o.compID = o.sched.RequestFrame(compass)
	}

	o.pulseID = o.sched.RequestFrame(pulse)
	o.compID = o.sched.RequestFrame(compass)
}

// Stop cancels both loops.
func (o *Orchestrator) Stop() {
	if !o.running {
		return
	}
	o.sched.CancelFrame(o.pulseID)
	o.sched.CancelFrame(o.compID)
	o.running = false
}

// Package style switches the basemap between its four presentations and
// rebuilds the scene after every destructive style reload.
package style

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-map/internal/engine"
	"github.com/joeblew999/plat-map/internal/loop"
	"github.com/joeblew999/plat-map/internal/metrics"
)

// ErrDegraded is returned once both a style load and its revert failed.
var ErrDegraded = errors.New("style controller degraded")

// TerrainSourceID is the raster-dem source added for terrain.
const TerrainSourceID = "terrain-dem"

const (
	DefaultSettleDelay = 300 * time.Millisecond
	pitchDuration      = time.Second
)

// Mode is one cell of the terrain × imagery matrix.
type Mode struct {
	Terrain   bool `json:"terrain"`
	Satellite bool `json:"satellite"`
}

var (
	FlatNormal      = Mode{}
	FlatSatellite   = Mode{Satellite: true}
	RaisedNormal    = Mode{Terrain: true}
	RaisedSatellite = Mode{Terrain: true, Satellite: true}
)

func (m Mode) String() string {
	s := "flat"
	if m.Terrain {
		s = "raised"
	}
	if m.Satellite {
		return s + "-satellite"
	}
	return s + "-normal"
}

// Documents maps each mode to a style document URL. TerrainSource is the
// raster-dem tile URL used for relief.
type Documents struct {
	FlatNormal      string `yaml:"flatNormal" json:"flatNormal"`
	FlatSatellite   string `yaml:"flatSatellite" json:"flatSatellite"`
	RaisedNormal    string `yaml:"raisedNormal" json:"raisedNormal"`
	RaisedSatellite string `yaml:"raisedSatellite" json:"raisedSatellite"`
	TerrainSource   string `yaml:"terrainSource" json:"terrainSource"`
}

// For returns the document for mode. Empty raised documents fall back to
// their flat counterpart.
func (d Documents) For(mode Mode) string {
	switch {
	case mode.Terrain && mode.Satellite && d.RaisedSatellite != "":
		return d.RaisedSatellite
	case mode.Terrain && !mode.Satellite && d.RaisedNormal != "":
		return d.RaisedNormal
	case mode.Satellite:
		return d.FlatSatellite
	default:
		return d.FlatNormal
	}
}

// Replayer rebuilds everything a style reload destroyed: layers, visibility,
// measurement overlays, hover handlers and animation loops, in that order.
type Replayer interface {
	Replay(m engine.Map)
}

// Config holds controller configuration.
type Config struct {
	Scheduler   loop.Scheduler
	Documents   Documents
	Replayer    Replayer
	SettleDelay time.Duration
	// TerrainPitch, when nonzero, is the pitch a flat camera is eased to as
	// terrain turns on. Zero leaves the view untouched.
	TerrainPitch float64
	Exaggeration float64
	Notify       func(level, msg string)
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

// Controller is the style state machine. A transition requested while
// another is in flight only updates the desired mode; the controller
// catches up when the running transition completes.
type Controller struct {
	cfg Config

	current  Mode
	desired  Mode
	doc      string
	busy     bool
	degraded bool
	cancel   func()
	// gen is bumped by Stop; continuations from an older gen are dropped.
	gen uint64
}

// New creates a controller. Nothing is loaded until Load.
func New(cfg Config) *Controller {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Exaggeration == 0 {
		cfg.Exaggeration = 1.5
	}
	if cfg.Notify == nil {
		cfg.Notify = func(string, string) {}
	}
	return &Controller{cfg: cfg}
}

func (c *Controller) Mode() Mode       { return c.current }
func (c *Controller) Desired() Mode    { return c.desired }
func (c *Controller) Busy() bool       { return c.busy }
func (c *Controller) Degraded() bool   { return c.degraded }
func (c *Controller) Document() string { return c.doc }

// Load sets the initial style for mode and replays once it is ready.
// done, if set, runs after the settle step.
func (c *Controller) Load(m engine.Map, mode Mode, done func(error)) {
	c.desired, c.current = mode, mode
	c.busy = true
	c.degraded = false
	c.doc = c.cfg.Documents.For(mode)
	start := c.cfg.Scheduler.Now()

	gen := c.gen
	m.SetStyle(c.doc)
	m.OnStyleReady(func(err error) {
		if gen != c.gen {
			return
		}
		if err != nil {
			c.fail(err)
			if done != nil {
				done(err)
			}
			return
		}
		c.cfg.Replayer.Replay(m)
		c.settle(m, mode, func() {
			c.finish(m, "initial", start)
			if done != nil {
				done(nil)
			}
		})
	})
}

// Stop abandons the running transition: the settle step is cancelled and
// pending style-ready and easing continuations become no-ops.
func (c *Controller) Stop() {
	c.gen++
	c.busy = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// live wraps fn so it only runs if Stop was not called in between.
func (c *Controller) live(fn func()) func() {
	gen := c.gen
	return func() {
		if gen == c.gen {
			fn()
		}
	}
}

// ToggleTerrain flips the terrain half of the desired mode.
func (c *Controller) ToggleTerrain(m engine.Map) (Mode, error) {
	next := c.desired
	next.Terrain = !next.Terrain
	return next, c.SetMode(m, next)
}

// ToggleImagery flips the imagery half of the desired mode.
func (c *Controller) ToggleImagery(m engine.Map) (Mode, error) {
	next := c.desired
	next.Satellite = !next.Satellite
	return next, c.SetMode(m, next)
}

// SetMode requests target. If a transition is running the request is
// queued; repeated requests coalesce into the last one.
func (c *Controller) SetMode(m engine.Map, target Mode) error {
	if c.degraded {
		return ErrDegraded
	}
	c.desired = target
	if c.busy {
		c.cfg.Logger.Debug().Stringer("mode", target).Msg("style transition queued")
		return nil
	}
	c.run(m)
	return nil
}

func (c *Controller) run(m engine.Map) {
	target := c.desired
	if target == c.current {
		return
	}
	c.busy = true
	start := c.cfg.Scheduler.Now()
	doc := c.cfg.Documents.For(target)

	if doc == c.doc {
		c.cfg.Logger.Debug().Stringer("from", c.current).Stringer("to", target).Msg("style transition (light)")
		c.current = target
		c.augment(m, target, func() { c.finish(m, "light", start) })
		return
	}

	c.cfg.Logger.Info().Stringer("from", c.current).Stringer("to", target).Msg("style transition")
	if !target.Terrain && m.Terrain() != nil && m.View().Pitch != 0 {
		zero := 0.0
		m.EaseTo(engine.CameraOptions{Pitch: &zero, Duration: pitchDuration}, c.live(func() {
			c.reload(m, target, doc, start)
		}))
		return
	}
	c.reload(m, target, doc, start)
}

// reload runs the full path: snapshot, teardown, swap, replay, restore.
func (c *Controller) reload(m engine.Map, target Mode, doc string, start time.Time) {
	prevMode, prevDoc := c.current, c.doc
	view := m.View()
	c.stripNow(m)

	c.doc = doc
	gen := c.gen
	m.SetStyle(doc)
	m.OnStyleReady(func(err error) {
		if gen != c.gen {
			return
		}
		if err != nil {
			c.revert(m, prevMode, prevDoc, view, start, err)
			return
		}
		c.cfg.Replayer.Replay(m)
		m.JumpTo(view)
		c.current = target
		c.settle(m, target, func() { c.finish(m, "full", start) })
	})
}

func (c *Controller) revert(m engine.Map, mode Mode, doc string, view engine.ViewState, start time.Time, cause error) {
	c.cfg.Logger.Error().Err(cause).Str("style", c.doc).Str("revert_to", doc).Msg("style load failed, reverting")
	c.cfg.Notify("error", "The selected map style could not be loaded; the previous style was restored")
	c.desired = mode
	c.doc = doc

	gen := c.gen
	m.SetStyle(doc)
	m.OnStyleReady(func(err error) {
		if gen != c.gen {
			return
		}
		if err != nil {
			c.fail(err)
			return
		}
		c.cfg.Replayer.Replay(m)
		m.JumpTo(view)
		c.current = mode
		c.settle(m, mode, func() { c.finish(m, "reverted", start) })
	})
}

func (c *Controller) fail(err error) {
	c.cfg.Logger.Error().Err(err).Str("style", c.doc).Msg("style unavailable, controller degraded")
	c.cfg.Notify("fatal", "The map style could not be loaded")
	c.cfg.Metrics.ObserveTransition("failed", 0)
	c.degraded = true
	c.busy = false
}

func (c *Controller) settle(m engine.Map, mode Mode, done func()) {
	c.cancel = c.cfg.Scheduler.After(c.cfg.SettleDelay, c.live(func() {
		c.cancel = nil
		c.augment(m, mode, done)
	}))
}

func (c *Controller) finish(m engine.Map, path string, start time.Time) {
	c.busy = false
	c.cfg.Metrics.ObserveTransition(path, c.cfg.Scheduler.Now().Sub(start))
	if !c.degraded && c.desired != c.current {
		c.run(m)
	}
}

// augment applies or removes terrain and sky for mode, then calls done.
// Removal under a pitched camera eases the pitch to zero first.
func (c *Controller) augment(m engine.Map, mode Mode, done func()) {
	if !mode.Terrain {
		if m.Terrain() != nil && m.View().Pitch != 0 {
			zero := 0.0
			m.EaseTo(engine.CameraOptions{Pitch: &zero, Duration: pitchDuration}, c.live(func() {
				c.stripNow(m)
				done()
			}))
			return
		}
		c.stripNow(m)
		done()
		return
	}

	if !m.HasSource(TerrainSourceID) {
		err := m.AddSource(TerrainSourceID, engine.Source{
			Type:     engine.RasterDEMSource,
			URL:      c.cfg.Documents.TerrainSource,
			TileSize: 256,
		})
		if err != nil {
			c.cfg.Logger.Warn().Err(err).Msg("adding terrain source")
		}
	}
	if err := m.SetTerrain(&engine.Terrain{Source: TerrainSourceID, Exaggeration: c.cfg.Exaggeration}); err != nil {
		c.cfg.Logger.Warn().Err(err).Msg("enabling terrain")
	}
	if err := m.SetSky(defaultSky()); err != nil {
		c.cfg.Logger.Warn().Err(err).Msg("enabling sky")
	}
	if c.cfg.TerrainPitch != 0 && m.View().Pitch == 0 {
		pitch := c.cfg.TerrainPitch
		m.EaseTo(engine.CameraOptions{Pitch: &pitch, Duration: pitchDuration}, c.live(done))
		return
	}
	done()
}

func (c *Controller) stripNow(m engine.Map) {
	if m.Terrain() != nil {
		if err := m.SetTerrain(nil); err != nil {
			c.cfg.Logger.Warn().Err(err).Msg("removing terrain")
		}
	}
	if err := m.SetSky(nil); err != nil {
		c.cfg.Logger.Warn().Err(err).Msg("removing sky")
	}
}

func defaultSky() *engine.Sky {
	return &engine.Sky{
		SkyColor:        "#88c6fc",
		HorizonColor:    "#ffffff",
		FogColor:        "#ffffff",
		SkyHorizonBlend: 0.5,
	}
}

// Package mapstate owns the live map instances and every component that
// mutates them. It runs the replay pipeline after each destructive style
// reload and exposes the operations the HTTP API drives.
package mapstate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-map/internal/animation"
	"github.com/joeblew999/plat-map/internal/engine"
	"github.com/joeblew999/plat-map/internal/hover"
	"github.com/joeblew999/plat-map/internal/layers"
	"github.com/joeblew999/plat-map/internal/loop"
	"github.com/joeblew999/plat-map/internal/measure"
	"github.com/joeblew999/plat-map/internal/metrics"
	"github.com/joeblew999/plat-map/internal/minimap"
	"github.com/joeblew999/plat-map/internal/protocol"
	"github.com/joeblew999/plat-map/internal/scene"
	"github.com/joeblew999/plat-map/internal/service"
	"github.com/joeblew999/plat-map/internal/style"
	"github.com/joeblew999/plat-map/internal/visibility"
)

var (
	ErrNotMounted     = errors.New("map is not mounted")
	ErrAlreadyMounted = errors.New("map is already mounted")
	ErrBadEvent       = errors.New("unsupported event type")
)

// Scene targets.
const (
	MainTarget    = "main"
	MinimapTarget = "minimap"
)

// compassEpsilon is the smallest heading change worth publishing.
const compassEpsilon = 0.01

// Config wires the engine to its collaborators.
type Config struct {
	Scheduler loop.Scheduler
	Catalog   *service.CatalogService
	Documents style.Documents
	// MinimapStyle defaults to Documents.FlatNormal.
	MinimapStyle      string
	MinimapZoomOffset float64
	InitialMode       style.Mode
	SettleDelay       time.Duration
	TerrainPitch      float64
	Fetcher           scene.StyleFetcher
	Router            measure.Router
	Bus               *service.EventBus
	// BaseURL is where the browser reaches this server; pmtiles URLs are
	// rewritten against it.
	BaseURL string
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Engine is the map handle owner. Every method must run on the loop; HTTP
// callers go through Run.
type Engine struct {
	cfg Config
	log zerolog.Logger

	protocols  *protocol.Registry
	registry   *layers.Registry
	visibility *visibility.Synchronizer
	measure    *measure.Machine
	hover      *hover.Coalescer
	animation  *animation.Orchestrator
	minimap    *minimap.Synchronizer
	style      *style.Controller

	main     *scene.Scene
	overview *scene.Scene

	mounted     bool
	ready       bool
	lastCompass float64
}

// New builds the components from the catalogue. Nothing touches a map
// until Mount.
func New(cfg Config) (*Engine, error) {
	if cfg.Scheduler == nil {
		return nil, errors.New("mapstate: scheduler is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("mapstate: catalogue is required")
	}
	if cfg.Bus == nil {
		cfg.Bus = service.NewEventBus()
	}
	if cfg.MinimapStyle == "" {
		cfg.MinimapStyle = cfg.Documents.FlatNormal
	}

	reg, err := cfg.Catalog.Registry()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:        cfg,
		log:        cfg.Logger.With().Str("component", "mapstate").Logger(),
		protocols:  protocol.NewRegistry(),
		registry:   reg,
		visibility: visibility.New(reg.Companions),
		minimap:    minimap.New(cfg.MinimapZoomOffset, cfg.Logger),
	}
	e.visibility.Apply(nil, cfg.Catalog.Visibility())

	e.measure = measure.New(cfg.Scheduler, cfg.Router, cfg.Bus.Notify, cfg.Logger, cfg.Metrics)
	if e.hover, err = hover.New(cfg.Scheduler, reg, cfg.Logger, cfg.Metrics); err != nil {
		return nil, err
	}
	e.animation = animation.New(cfg.Scheduler, animation.DefaultPulse, e.pulseLayers, e.reportCompass)

	e.style = style.New(style.Config{
		Scheduler:    cfg.Scheduler,
		Documents:    cfg.Documents,
		Replayer:     e,
		SettleDelay:  cfg.SettleDelay,
		TerrainPitch: cfg.TerrainPitch,
		Notify:       cfg.Bus.Notify,
		Logger:       cfg.Logger,
		Metrics:      cfg.Metrics,
	})
	return e, nil
}

// Run executes fn on the loop and returns its error.
func (e *Engine) Run(ctx context.Context, fn func() error) error {
	var ferr error
	if err := e.cfg.Scheduler.Do(ctx, func() { ferr = fn() }); err != nil {
		return err
	}
	return ferr
}

// Bus returns the event bus commands and notices are published on.
func (e *Engine) Bus() *service.EventBus { return e.cfg.Bus }

// Catalog returns the layer catalogue.
func (e *Engine) Catalog() *service.CatalogService { return e.cfg.Catalog }

// Mount registers the tile protocol, creates both map instances and loads
// the initial style. ready, if set, is called once the first replay and
// settle step finished.
func (e *Engine) Mount(ready func(error)) error {
	if e.mounted {
		return ErrAlreadyMounted
	}
	e.mounted = true
	e.protocols.Register(protocol.PMTilesScheme, protocol.PMTiles{BaseURL: e.cfg.BaseURL})

	cat := e.cfg.Catalog.Catalog()
	view := engine.ViewState{Center: orb.Point{cat.Center[0], cat.Center[1]}, Zoom: cat.Zoom}
	e.main = scene.New(scene.Config{
		Name:      MainTarget,
		Scheduler: e.cfg.Scheduler,
		Fetcher:   e.cfg.Fetcher,
		Resolver:  e.protocols,
		Publisher: e.cfg.Bus,
		Logger:    e.cfg.Logger,
		View:      view,
	})
	overviewView := view
	overviewView.Zoom = math.Max(0, view.Zoom-e.minimap.ZoomOffset)
	e.overview = scene.New(scene.Config{
		Name:      MinimapTarget,
		Scheduler: e.cfg.Scheduler,
		Fetcher:   e.cfg.Fetcher,
		Publisher: e.cfg.Bus,
		Logger:    e.cfg.Logger,
		View:      overviewView,
	})

	e.overview.SetStyle(e.cfg.MinimapStyle)
	e.overview.OnStyleReady(func(err error) {
		if err != nil {
			e.log.Warn().Err(err).Msg("minimap style failed; overview disabled")
			return
		}
		e.attachMinimap()
	})

	main := e.main
	e.style.Load(main, e.cfg.InitialMode, func(err error) {
		if err == nil {
			e.ready = true
			e.attachMinimap()
			if cat.Attribution != "" {
				main.Notify("attribution", map[string]any{"text": cat.Attribution})
			}
			e.log.Info().Stringer("mode", e.style.Mode()).Msg("map mounted")
		}
		if ready != nil {
			ready(err)
		}
	})
	return nil
}

func (e *Engine) attachMinimap() {
	if !e.ready || e.overview == nil || !e.overview.IsStyleLoaded() {
		return
	}
	e.minimap.Attach(e.main, e.overview)
}

// Unmount cancels every loop and handler and deregisters the protocol.
func (e *Engine) Unmount() {
	if !e.mounted {
		return
	}
	e.animation.Stop()
	e.hover.Detach()
	e.minimap.Detach()
	e.style.Stop()
	e.protocols.Deregister(protocol.PMTilesScheme)
	e.main.Close()
	e.overview.Close()
	e.main, e.overview = nil, nil
	e.mounted, e.ready = false, false
	e.log.Info().Msg("map unmounted")
}

// Replay rebuilds everything that must survive a style reload, in order:
// layers, visibility, measurement overlays, hover handlers, animation.
func (e *Engine) Replay(m engine.Map) {
	if err := e.registry.Materialize(m); err != nil {
		e.log.Warn().Err(err).Msg("materialize failed")
	}
	e.visibility.Replay(m)
	e.measure.Replay(m)
	e.hover.Attach(m)
	e.animation.Start(m)
}

func (e *Engine) pulseLayers() []string {
	return append(e.registry.PulseLayers(), measure.CaptureHalo)
}

func (e *Engine) reportCompass(bearing float64) {
	if e.main == nil || math.Abs(bearing-e.lastCompass) < compassEpsilon {
		return
	}
	e.lastCompass = bearing
	e.main.Notify("compass", map[string]any{"bearing": bearing})
}

func (e *Engine) mainMap() (*scene.Scene, error) {
	if !e.mounted || e.main == nil {
		return nil, ErrNotMounted
	}
	return e.main, nil
}

// SetVisibility replaces the visibility table. Before the style is ready
// the table is kept and applied by the next replay.
func (e *Engine) SetVisibility(table visibility.Table) error {
	m, err := e.mainMap()
	if err != nil {
		return err
	}
	e.visibility.Apply(m, table)
	return nil
}

// ToggleLayer flips one entry of the visibility table and returns its new
// value.
func (e *Engine) ToggleLayer(id string) (bool, error) {
	m, err := e.mainMap()
	if err != nil {
		return false, err
	}
	return e.visibility.Toggle(m, id), nil
}

// ToggleTerrain flips terrain and returns the requested mode.
func (e *Engine) ToggleTerrain() (style.Mode, error) {
	m, err := e.mainMap()
	if err != nil {
		return style.Mode{}, err
	}
	return e.style.ToggleTerrain(m)
}

// ToggleImagery flips street and satellite imagery.
func (e *Engine) ToggleImagery() (style.Mode, error) {
	m, err := e.mainMap()
	if err != nil {
		return style.Mode{}, err
	}
	return e.style.ToggleImagery(m)
}

// ToggleRouteMode switches route capture on or off.
func (e *Engine) ToggleRouteMode() (measure.Mode, error) {
	m, err := e.mainMap()
	if err != nil {
		return measure.Idle, err
	}
	return e.measure.ToggleRoute(m), nil
}

// ToggleLineMode switches straight-line capture on or off.
func (e *Engine) ToggleLineMode() (measure.Mode, error) {
	m, err := e.mainMap()
	if err != nil {
		return measure.Idle, err
	}
	return e.measure.ToggleLine(m), nil
}

// ClearMeasurements drops every overlay and returns to idle.
func (e *Engine) ClearMeasurements() error {
	m, err := e.mainMap()
	if err != nil {
		return err
	}
	e.measure.Clear(m)
	return nil
}

// Click feeds a map click to the measurement machine and to click handlers.
func (e *Engine) Click(p orb.Point) error {
	m, err := e.mainMap()
	if err != nil {
		return err
	}
	e.measure.Click(m, p)
	m.Dispatch(engine.Event{Type: engine.Click, LngLat: p})
	return nil
}

// Pointer dispatches a pointer event reported by the browser.
func (e *Engine) Pointer(ev engine.Event) error {
	m, err := e.mainMap()
	if err != nil {
		return err
	}
	switch ev.Type {
	case engine.MouseEnter, engine.MouseMove, engine.MouseLeave, engine.MouseOut:
	default:
		return fmt.Errorf("%w: %q", ErrBadEvent, ev.Type)
	}
	m.Dispatch(ev)
	return nil
}

// Camera applies a camera change reported by the browser.
func (e *Engine) Camera(v engine.ViewState, bounds *orb.Bound) error {
	m, err := e.mainMap()
	if err != nil {
		return err
	}
	m.Camera(v, bounds)
	return nil
}

// Scenes returns the snapshots of both map instances.
func (e *Engine) Scenes() ([]scene.Snapshot, error) {
	if _, err := e.mainMap(); err != nil {
		return nil, err
	}
	return []scene.Snapshot{e.main.Snapshot(), e.overview.Snapshot()}, nil
}

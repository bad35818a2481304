// Package scene is a headless rendering-engine instance. It keeps the scene
// graph in memory, fires handlers for events the browser reports, and
// publishes every mutation as a Command so connected browsers can mirror it.
package scene

import (
	"context"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-map/internal/engine"
	"github.com/joeblew999/plat-map/internal/loop"
	"github.com/joeblew999/plat-map/internal/service"
)

// Command is one mutation applied to a scene.
type Command struct {
	Seq    uint64 `json:"seq"`
	Target string `json:"target"`
	Op     string `json:"op"`
	Args   any    `json:"args,omitempty"`
}

// CloseOp is the last command a scene emits.
const CloseOp = "close"

// Publisher receives commands. *service.EventBus satisfies it.
type Publisher interface {
	Publish(service.Event)
}

// Resolver rewrites source URLs that use a custom scheme.
type Resolver interface {
	Resolve(url string) (string, error)
}

// Config holds scene configuration.
type Config struct {
	Name      string // command target, e.g. "main" or "minimap"
	Scheduler loop.Scheduler
	Fetcher   StyleFetcher
	Resolver  Resolver
	Publisher Publisher
	Logger    zerolog.Logger
	View      engine.ViewState
	Width     float64 // viewport in pixels, used when the browser has not reported bounds
	Height    float64
}

type handlerEntry struct {
	typ     engine.EventType
	layerID string
	fn      engine.Handler
}

// Scene implements engine.Map.
type Scene struct {
	cfg Config

	styleURL string
	loaded   bool
	gen      uint64
	readyFns []func(error)

	sources     map[string]engine.Source
	sourceOrder []string
	layers      map[string]*engine.Layer
	layerOrder  []string

	handlers    map[engine.HandlerID]handlerEntry
	nextHandler engine.HandlerID

	view    engine.ViewState
	bounds  *orb.Bound
	terrain *engine.Terrain
	sky     *engine.Sky
	cursor  string

	seq      uint64
	tooltips int
	closed   bool

	// pending camera animations, cancelled by Close
	eases    map[uint64]func()
	nextEase uint64
}

// New creates an empty scene with no style loaded.
func New(cfg Config) *Scene {
	if cfg.Name == "" {
		cfg.Name = "main"
	}
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 800
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = StyleFetcherFunc(func(context.Context, string) error { return nil })
	}
	return &Scene{
		cfg:      cfg,
		sources:  make(map[string]engine.Source),
		layers:   make(map[string]*engine.Layer),
		handlers: make(map[engine.HandlerID]handlerEntry),
		view:     cfg.View,
		eases:    make(map[uint64]func()),
	}
}

func (s *Scene) emit(op string, args any) {
	s.seq++
	if s.closed || s.cfg.Publisher == nil {
		return
	}
	s.cfg.Publisher.Publish(service.Event{
		Topic:   service.TopicCommand,
		Payload: Command{Seq: s.seq, Target: s.cfg.Name, Op: op, Args: args},
	})
}

// Sources

func (s *Scene) AddSource(id string, src engine.Source) error {
	if _, ok := s.sources[id]; ok {
		return fmt.Errorf("source %q: %w", id, engine.ErrDuplicate)
	}
	if src.URL != "" && s.cfg.Resolver != nil {
		resolved, err := s.cfg.Resolver.Resolve(src.URL)
		if err != nil {
			return fmt.Errorf("source %q: %w", id, err)
		}
		src.URL = resolved
	}
	s.sources[id] = src
	s.sourceOrder = append(s.sourceOrder, id)
	s.emit("addSource", map[string]any{"id": id, "source": src})
	return nil
}

func (s *Scene) HasSource(id string) bool {
	_, ok := s.sources[id]
	return ok
}

func (s *Scene) RemoveSource(id string) error {
	if _, ok := s.sources[id]; !ok {
		return fmt.Errorf("source %q: %w", id, engine.ErrNoSource)
	}
	for _, lid := range s.layerOrder {
		if s.layers[lid].Source == id {
			return fmt.Errorf("source %q is used by layer %q", id, lid)
		}
	}
	delete(s.sources, id)
	s.sourceOrder = removeString(s.sourceOrder, id)
	s.emit("removeSource", map[string]any{"id": id})
	return nil
}

func (s *Scene) SetGeoJSON(sourceID string, fc *geojson.FeatureCollection) error {
	src, ok := s.sources[sourceID]
	if !ok {
		return fmt.Errorf("source %q: %w", sourceID, engine.ErrNoSource)
	}
	if src.Type != engine.GeoJSONSource {
		return fmt.Errorf("source %q is %s, not geojson", sourceID, src.Type)
	}
	src.Data = fc
	s.sources[sourceID] = src
	s.emit("setData", map[string]any{"id": sourceID, "data": fc})
	return nil
}

// Source returns a copy of a source declaration.
func (s *Scene) Source(id string) (engine.Source, bool) {
	src, ok := s.sources[id]
	return src, ok
}

// SourceIDs returns source ids in insertion order.
func (s *Scene) SourceIDs() []string {
	return append([]string(nil), s.sourceOrder...)
}

// Layers

func (s *Scene) AddLayer(l engine.Layer) error {
	if _, ok := s.layers[l.ID]; ok {
		return fmt.Errorf("layer %q: %w", l.ID, engine.ErrDuplicate)
	}
	if _, ok := s.sources[l.Source]; !ok {
		return fmt.Errorf("layer %q source %q: %w", l.ID, l.Source, engine.ErrNoSource)
	}
	l.Paint = copyProps(l.Paint)
	l.Layout = copyProps(l.Layout)
	s.layers[l.ID] = &l
	s.layerOrder = append(s.layerOrder, l.ID)
	s.emit("addLayer", l)
	return nil
}

func (s *Scene) HasLayer(id string) bool {
	_, ok := s.layers[id]
	return ok
}

func (s *Scene) RemoveLayer(id string) error {
	if _, ok := s.layers[id]; !ok {
		return fmt.Errorf("layer %q: %w", id, engine.ErrNoLayer)
	}
	delete(s.layers, id)
	s.layerOrder = removeString(s.layerOrder, id)
	s.emit("removeLayer", map[string]any{"id": id})
	return nil
}

func (s *Scene) SetLayoutProperty(layerID, name string, value any) error {
	l, ok := s.layers[layerID]
	if !ok {
		return fmt.Errorf("layer %q: %w", layerID, engine.ErrNoLayer)
	}
	if l.Layout == nil {
		l.Layout = map[string]any{}
	}
	l.Layout[name] = value
	s.emit("setLayoutProperty", map[string]any{"id": layerID, "name": name, "value": value})
	return nil
}

func (s *Scene) SetPaintProperty(layerID, name string, value any) error {
	l, ok := s.layers[layerID]
	if !ok {
		return fmt.Errorf("layer %q: %w", layerID, engine.ErrNoLayer)
	}
	if l.Paint == nil {
		l.Paint = map[string]any{}
	}
	l.Paint[name] = value
	s.emit("setPaintProperty", map[string]any{"id": layerID, "name": name, "value": value})
	return nil
}

// Layer returns a copy of a layer declaration.
func (s *Scene) Layer(id string) (engine.Layer, bool) {
	l, ok := s.layers[id]
	if !ok {
		return engine.Layer{}, false
	}
	out := *l
	out.Paint = copyProps(l.Paint)
	out.Layout = copyProps(l.Layout)
	return out, true
}

// LayerIDs returns layer ids in draw order.
func (s *Scene) LayerIDs() []string {
	return append([]string(nil), s.layerOrder...)
}

// Visibility returns the effective visibility of a layer, "" if absent.
func (s *Scene) Visibility(id string) string {
	l, ok := s.layers[id]
	if !ok {
		return ""
	}
	if v, ok := l.Layout["visibility"].(string); ok {
		return v
	}
	return engine.Visible
}

// Style

func (s *Scene) SetStyle(url string) {
	s.styleURL = url
	s.loaded = false
	s.gen++
	s.sources = make(map[string]engine.Source)
	s.sourceOrder = nil
	s.layers = make(map[string]*engine.Layer)
	s.layerOrder = nil
	s.terrain = nil
	s.sky = nil
	for id, h := range s.handlers {
		if h.layerID != "" {
			delete(s.handlers, id)
		}
	}
	s.emit("setStyle", map[string]any{"url": url})

	gen := s.gen
	fetcher := s.cfg.Fetcher
	s.cfg.Scheduler.Go(func() func() {
		err := fetcher.FetchStyle(context.Background(), url)
		return func() { s.styleReady(gen, err) }
	})
}

func (s *Scene) styleReady(gen uint64, err error) {
	if gen != s.gen {
		// superseded by a later SetStyle
		return
	}
	s.loaded = err == nil
	if err != nil {
		s.cfg.Logger.Error().Err(err).Str("style", s.styleURL).Msg("style load failed")
	}
	fns := s.readyFns
	s.readyFns = nil
	for _, fn := range fns {
		fn(err)
	}
}

func (s *Scene) StyleURL() string    { return s.styleURL }
func (s *Scene) IsStyleLoaded() bool { return s.loaded }

func (s *Scene) OnStyleReady(fn func(error)) {
	s.readyFns = append(s.readyFns, fn)
}

// Camera

func (s *Scene) View() engine.ViewState { return s.view }

// JumpTo moves the camera without animation. Jumping to the current view
// keeps the bounds the browser reported for it.
func (s *Scene) JumpTo(v engine.ViewState) {
	prevZoom := s.view.Zoom
	if v != s.view {
		s.bounds = nil
	}
	s.view = v
	s.emit("jumpTo", v)
	s.fireCamera(prevZoom)
}

func (s *Scene) EaseTo(opts engine.CameraOptions, done func()) {
	s.emit("easeTo", map[string]any{
		"center": opts.Center, "zoom": opts.Zoom, "bearing": opts.Bearing,
		"pitch": opts.Pitch, "duration": opts.Duration.Milliseconds(),
	})
	s.nextEase++
	id := s.nextEase
	s.eases[id] = s.cfg.Scheduler.After(opts.Duration, func() {
		delete(s.eases, id)
		if s.closed {
			return
		}
		prevZoom := s.view.Zoom
		if opts.Center != nil {
			s.view.Center = *opts.Center
		}
		if opts.Zoom != nil {
			s.view.Zoom = *opts.Zoom
		}
		if opts.Bearing != nil {
			s.view.Bearing = *opts.Bearing
		}
		if opts.Pitch != nil {
			s.view.Pitch = *opts.Pitch
		}
		s.bounds = nil
		s.fireCamera(prevZoom)
		if done != nil {
			done()
		}
	})
}

// Camera applies a camera change reported by the browser. Nothing is
// echoed back; move and zoom handlers fire as for a local change.
func (s *Scene) Camera(v engine.ViewState, bounds *orb.Bound) {
	prevZoom := s.view.Zoom
	s.view = v
	s.bounds = bounds
	s.fireCamera(prevZoom)
}

func (s *Scene) fireCamera(prevZoom float64) {
	s.Dispatch(engine.Event{Type: engine.Move, LngLat: s.view.Center})
	if s.view.Zoom != prevZoom {
		s.Dispatch(engine.Event{Type: engine.Zoom, LngLat: s.view.Center})
	}
}

func (s *Scene) Bounds() orb.Bound {
	if s.bounds != nil {
		return *s.bounds
	}
	return ViewportBounds(s.view, s.cfg.Width, s.cfg.Height)
}

// Terrain and sky

func (s *Scene) SetTerrain(t *engine.Terrain) error {
	if t != nil {
		if _, ok := s.sources[t.Source]; !ok {
			return fmt.Errorf("terrain source %q: %w", t.Source, engine.ErrNoSource)
		}
		cp := *t
		t = &cp
	}
	s.terrain = t
	s.emit("setTerrain", t)
	return nil
}

func (s *Scene) SetSky(sky *engine.Sky) error {
	if sky != nil && !s.loaded {
		return engine.ErrStyleNotReady
	}
	s.sky = sky
	s.emit("setSky", sky)
	return nil
}

func (s *Scene) Terrain() *engine.Terrain { return s.terrain }

// Sky returns the current sky, nil when disabled.
func (s *Scene) Sky() *engine.Sky { return s.sky }

// Events

func (s *Scene) On(t engine.EventType, layerID string, h engine.Handler) engine.HandlerID {
	s.nextHandler++
	s.handlers[s.nextHandler] = handlerEntry{typ: t, layerID: layerID, fn: h}
	return s.nextHandler
}

func (s *Scene) Off(id engine.HandlerID) {
	delete(s.handlers, id)
}

// HandlerCount reports registered handlers, optionally for one layer.
func (s *Scene) HandlerCount(layerID string) int {
	n := 0
	for _, h := range s.handlers {
		if layerID == "" || h.layerID == layerID {
			n++
		}
	}
	return n
}

// Dispatch delivers ev to matching handlers in registration order. Events
// for a layer that does not exist are dropped.
func (s *Scene) Dispatch(ev engine.Event) {
	if ev.LayerID != "" && !s.HasLayer(ev.LayerID) {
		return
	}
	ids := make([]engine.HandlerID, 0, len(s.handlers))
	for id, h := range s.handlers {
		if h.typ != ev.Type {
			continue
		}
		if h.layerID != "" && h.layerID != ev.LayerID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		// a handler may have removed a later one
		if h, ok := s.handlers[id]; ok {
			h.fn(ev)
		}
	}
}

func (s *Scene) SetCursor(cursor string) {
	if s.cursor == cursor {
		return
	}
	s.cursor = cursor
	s.emit("setCursor", map[string]any{"cursor": cursor})
}

// Cursor returns the current canvas cursor.
func (s *Scene) Cursor() string { return s.cursor }

// Notify publishes a command that carries no scene state, such as the
// compass heading or attribution.
func (s *Scene) Notify(op string, args any) {
	s.emit(op, args)
}

// Close detaches the scene from its browsers. Pending style loads and camera
// animations are abandoned and later mutations are no longer published. The
// final "close" command tells browsers to drop the instance.
func (s *Scene) Close() {
	if s.closed {
		return
	}
	s.emit(CloseOp, nil)
	s.closed = true
	s.gen++
	s.readyFns = nil
	for id, cancel := range s.eases {
		cancel()
		delete(s.eases, id)
	}
	s.handlers = make(map[engine.HandlerID]handlerEntry)
}

// Seq returns the number of commands emitted so far.
func (s *Scene) Seq() uint64 { return s.seq }

// NamedSource is a source with its id.
type NamedSource struct {
	ID     string        `json:"id"`
	Source engine.Source `json:"source"`
}

// Snapshot is the whole scene at one sequence number. Browsers that connect
// late rebuild from it and then apply commands with a higher Seq.
type Snapshot struct {
	Seq     uint64           `json:"seq"`
	Target  string           `json:"target"`
	Style   string           `json:"style"`
	Loaded  bool             `json:"loaded"`
	View    engine.ViewState `json:"view"`
	Sources []NamedSource    `json:"sources"`
	Layers  []engine.Layer   `json:"layers"`
	Terrain *engine.Terrain  `json:"terrain,omitempty"`
	Sky     *engine.Sky      `json:"sky,omitempty"`
	Cursor  string           `json:"cursor,omitempty"`
}

// Snapshot copies the scene graph in declaration order.
func (s *Scene) Snapshot() Snapshot {
	snap := Snapshot{
		Seq:     s.seq,
		Target:  s.cfg.Name,
		Style:   s.styleURL,
		Loaded:  s.loaded,
		View:    s.view,
		Sources: make([]NamedSource, 0, len(s.sourceOrder)),
		Layers:  make([]engine.Layer, 0, len(s.layerOrder)),
		Terrain: s.terrain,
		Sky:     s.sky,
		Cursor:  s.cursor,
	}
	for _, id := range s.sourceOrder {
		snap.Sources = append(snap.Sources, NamedSource{ID: id, Source: s.sources[id]})
	}
	for _, id := range s.layerOrder {
		l := *s.layers[id]
		l.Paint = copyProps(l.Paint)
		l.Layout = copyProps(l.Layout)
		snap.Layers = append(snap.Layers, l)
	}
	return snap
}

func copyProps(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

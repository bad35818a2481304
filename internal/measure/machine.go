// Package measure captures point pairs and turns them into routed or
// straight-line distance overlays.
package measure

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-map/internal/engine"
	"github.com/joeblew999/plat-map/internal/loop"
	"github.com/joeblew999/plat-map/internal/metrics"
	"github.com/joeblew999/plat-map/internal/routing"
)

// Capture marker ids. The halo layer is animated by the pulse loop.
const (
	CaptureSource    = "capture-points"
	CaptureLayer     = "capture-points"
	CaptureHalo      = "capture-points-pulse"
	routeRequestTime = 15 * time.Second
)

// Mode is the capture mode. Route and line capture are mutually exclusive.
type Mode int

const (
	Idle Mode = iota
	CapturingRoute
	CapturingLine
)

func (m Mode) String() string {
	switch m {
	case CapturingRoute:
		return "route"
	case CapturingLine:
		return "line"
	default:
		return "idle"
	}
}

// Kind is the kind of a measurement record.
type Kind string

const (
	KindRoute Kind = "route"
	KindLine  Kind = "line"
)

// State is the capture state: a mode and zero or one captured points (two
// while a route request is in flight).
type State struct {
	Mode    Mode        `json:"-"`
	Points  []orb.Point `json:"points"`
	Pending bool        `json:"pending"`
}

// Record is a finished measurement overlay.
type Record struct {
	ID            int64          `json:"id"`
	Kind          Kind           `json:"kind"`
	Start         orb.Point      `json:"start"`
	End           orb.Point      `json:"end"`
	Path          orb.LineString `json:"path"`
	DistanceKm    float64        `json:"distanceKm"`
	DurationLabel string         `json:"durationLabel"`
}

// LayerID is the id of the source and layer that render r.
func (r Record) LayerID() string {
	return fmt.Sprintf("measure-%s-%d", r.Kind, r.ID)
}

// Router resolves road routes.
type Router interface {
	Route(ctx context.Context, from, to orb.Point) (routing.Route, error)
}

// NotifyFunc surfaces a blocking message to the user.
type NotifyFunc func(level, msg string)

var recordSeq atomic.Int64

// Machine is the measurement state machine. All methods run on the loop.
type Machine struct {
	sched   loop.Scheduler
	router  Router
	notify  NotifyFunc
	log     zerolog.Logger
	metrics *metrics.Metrics

	state   State
	records []Record
	// gen invalidates in-flight route requests when capture state is reset.
	gen uint64
}

// New creates an idle machine.
func New(sched loop.Scheduler, router Router, notify NotifyFunc, log zerolog.Logger, m *metrics.Metrics) *Machine {
	if notify == nil {
		notify = func(string, string) {}
	}
	return &Machine{sched: sched, router: router, notify: notify, log: log, metrics: m}
}

// State returns a copy of the capture state.
func (mc *Machine) State() State {
	s := mc.state
	s.Points = append([]orb.Point(nil), mc.state.Points...)
	return s
}

// Records returns the records in creation order.
func (mc *Machine) Records() []Record {
	return append([]Record(nil), mc.records...)
}

// ToggleRoute switches route capture on or off. Either way all overlays of
// both kinds are cleared.
func (mc *Machine) ToggleRoute(m engine.Map) Mode {
	return mc.toggle(m, CapturingRoute)
}

// ToggleLine switches straight-line capture on or off.
func (mc *Machine) ToggleLine(m engine.Map) Mode {
	return mc.toggle(m, CapturingLine)
}

func (mc *Machine) toggle(m engine.Map, mode Mode) Mode {
	next := mode
	if mc.state.Mode == mode {
		next = Idle
	}
	mc.Clear(m)
	mc.state.Mode = next
	return next
}

// Clear removes every overlay and capture point and returns to Idle.
func (mc *Machine) Clear(m engine.Map) {
	mc.resetCapture(m)
	mc.state.Mode = Idle
	for _, r := range mc.records {
		removeOverlay(m, r.LayerID())
	}
	mc.records = nil
	mc.metrics.SetMeasurementRecords(0)
}

func (mc *Machine) resetCapture(m engine.Map) {
	mc.gen++
	mc.state.Points = nil
	mc.state.Pending = false
	mc.drawCapture(m)
}

// Click appends a capture point. The second point completes the pair.
func (mc *Machine) Click(m engine.Map, p orb.Point) {
	if mc.state.Mode == Idle || mc.state.Pending {
		return
	}
	mc.state.Points = append(mc.state.Points, p)
	mc.drawCapture(m)
	if len(mc.state.Points) < 2 {
		return
	}

	start, end := mc.state.Points[0], mc.state.Points[1]
	switch mc.state.Mode {
	case CapturingLine:
		mc.addRecord(m, Record{
			Kind:          KindLine,
			Start:         start,
			End:           end,
			Path:          orb.LineString{start, end},
			DistanceKm:    HaversineKm(start, end),
			DurationLabel: StraightLineLabel,
		})
		mc.resetCapture(m)
	case CapturingRoute:
		mc.requestRoute(m, start, end)
	}
}

func (mc *Machine) requestRoute(m engine.Map, start, end orb.Point) {
	mc.state.Pending = true
	gen := mc.gen
	router := mc.router

	mc.sched.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), routeRequestTime)
		defer cancel()
		var (
			route routing.Route
			err   error
		)
		if router == nil {
			err = fmt.Errorf("no routing service configured")
		} else {
			route, err = router.Route(ctx, start, end)
		}
		return func() { mc.routeDone(m, gen, start, end, route, err) }
	})
}

func (mc *Machine) routeDone(m engine.Map, gen uint64, start, end orb.Point, route routing.Route, err error) {
	if gen != mc.gen {
		mc.log.Debug().Msg("discarding route for a cleared capture")
		return
	}
	if err != nil {
		mc.log.Warn().Err(err).Msg("route capture failed")
		mc.notify("error", "Could not compute a route between the selected points")
		mc.resetCapture(m)
		mc.state.Mode = Idle
		return
	}
	mc.addRecord(m, Record{
		Kind:          KindRoute,
		Start:         start,
		End:           end,
		Path:          route.Path,
		DistanceKm:    route.DistanceMeters / 1000,
		DurationLabel: FormatDuration(route.DurationSeconds),
	})
	mc.resetCapture(m)
}

func (mc *Machine) addRecord(m engine.Map, r Record) {
	r.ID = recordSeq.Add(1)
	mc.records = append(mc.records, r)
	mc.metrics.SetMeasurementRecords(len(mc.records))
	if err := drawRecord(m, r); err != nil {
		mc.log.Warn().Err(err).Str("record", r.LayerID()).Msg("drawing measurement")
	}
}

// Replay redraws capture markers and every record, routes first then lines,
// each in creation order.
func (mc *Machine) Replay(m engine.Map) {
	mc.drawCapture(m)
	for _, kind := range []Kind{KindRoute, KindLine} {
		for _, r := range mc.records {
			if r.Kind != kind {
				continue
			}
			if err := drawRecord(m, r); err != nil {
				mc.log.Warn().Err(err).Str("record", r.LayerID()).Msg("replaying measurement")
			}
		}
	}
}

func (mc *Machine) drawCapture(m engine.Map) {
	if m == nil {
		return
	}
	if err := ensureCaptureLayers(m); err != nil {
		mc.log.Warn().Err(err).Msg("capture markers unavailable")
		return
	}
	fc := geojson.NewFeatureCollection()
	for i, p := range mc.state.Points {
		f := geojson.NewFeature(p)
		f.Properties["role"] = []string{"start", "end"}[i%2]
		fc.Append(f)
	}
	if err := m.SetGeoJSON(CaptureSource, fc); err != nil {
		mc.log.Warn().Err(err).Msg("capture markers not updated")
	}
}

func ensureCaptureLayers(m engine.Map) error {
	if !m.HasSource(CaptureSource) {
		err := m.AddSource(CaptureSource, engine.Source{Type: engine.GeoJSONSource, Data: geojson.NewFeatureCollection()})
		if err != nil {
			return err
		}
	}
	if !m.HasLayer(CaptureHalo) {
		err := m.AddLayer(engine.Layer{
			ID: CaptureHalo, Type: engine.Circle, Source: CaptureSource,
			Paint: map[string]any{"circle-color": "#9b2247", "circle-radius": 0.0, "circle-opacity": 0.0},
		})
		if err != nil {
			return err
		}
	}
	if !m.HasLayer(CaptureLayer) {
		return m.AddLayer(engine.Layer{
			ID: CaptureLayer, Type: engine.Circle, Source: CaptureSource,
			Paint: map[string]any{
				"circle-color":        "#9b2247",
				"circle-radius":       6.0,
				"circle-stroke-color": "#ffffff",
				"circle-stroke-width": 2.0,
			},
		})
	}
	return nil
}

func drawRecord(m engine.Map, r Record) error {
	if m == nil {
		return nil
	}
	id := r.LayerID()
	f := geojson.NewFeature(r.Path)
	f.Properties["distanceKm"] = r.DistanceKm
	f.Properties["duration"] = r.DurationLabel
	fc := geojson.NewFeatureCollection().Append(f)

	if !m.HasSource(id) {
		if err := m.AddSource(id, engine.Source{Type: engine.GeoJSONSource, Data: fc}); err != nil {
			return err
		}
	}
	if m.HasLayer(id) {
		return nil
	}
	paint := map[string]any{"line-color": "#1f6feb", "line-width": 4.0}
	if r.Kind == KindLine {
		paint = map[string]any{"line-color": "#9b2247", "line-width": 3.0, "line-dasharray": []float64{2, 2}}
	}
	return m.AddLayer(engine.Layer{ID: id, Type: engine.Line, Source: id, Paint: paint})
}

func removeOverlay(m engine.Map, id string) {
	if m == nil {
		return
	}
	if m.HasLayer(id) {
		_ = m.RemoveLayer(id)
	}
	if m.HasSource(id) {
		_ = m.RemoveSource(id)
	}
}

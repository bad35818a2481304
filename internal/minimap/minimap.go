// Package minimap mirrors the main viewport onto the overview map.
package minimap

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-map/internal/engine"
)

const (
	// ViewportSource holds the single viewport polygon feature.
	ViewportSource = "viewport"
	ViewportFill   = "viewport-fill"
	ViewportLine   = "viewport-line"
	// DefaultZoomOffset is how far the overview zooms out from the main map.
	DefaultZoomOffset = 4.0
)

// Synchronizer follows main and redraws the viewport on overview.
type Synchronizer struct {
	ZoomOffset float64
	log        zerolog.Logger

	main     engine.Map
	overview engine.Map
	handlers []engine.HandlerID
}

// New returns a detached synchronizer.
func New(offset float64, log zerolog.Logger) *Synchronizer {
	if offset <= 0 {
		offset = DefaultZoomOffset
	}
	return &Synchronizer{ZoomOffset: offset, log: log}
}

// ViewportPolygon is the closed ring SW, NW, NE, SE, SW of b.
func ViewportPolygon(b orb.Bound) orb.Polygon {
	sw := b.Min
	ne := b.Max
	nw := orb.Point{sw.Lon(), ne.Lat()}
	se := orb.Point{ne.Lon(), sw.Lat()}
	return orb.Polygon{orb.Ring{sw, nw, ne, se, sw}}
}

// Attach registers move and zoom handlers on main and performs an initial
// sync. Handlers from a previous Attach are removed first. No handlers are
// registered on overview.
func (s *Synchronizer) Attach(main, overview engine.Map) {
	s.Detach()
	s.main, s.overview = main, overview
	s.handlers = []engine.HandlerID{
		main.On(engine.Move, "", func(engine.Event) { s.Sync() }),
		main.On(engine.Zoom, "", func(engine.Event) { s.Sync() }),
	}
	s.Sync()
}

// Detach removes the handlers registered on main.
func (s *Synchronizer) Detach() {
	if s.main != nil {
		for _, id := range s.handlers {
			s.main.Off(id)
		}
	}
	s.handlers = nil
	s.main, s.overview = nil, nil
}

// Sync pushes the current main viewport to the overview map.
func (s *Synchronizer) Sync() {
	if s.main == nil || s.overview == nil {
		return
	}
	if err := s.ensureLayers(); err != nil {
		s.log.Debug().Err(err).Msg("overview not ready")
		return
	}
	fc := geojson.NewFeatureCollection().Append(geojson.NewFeature(ViewportPolygon(s.main.Bounds())))
	if err := s.overview.SetGeoJSON(ViewportSource, fc); err != nil {
		s.log.Debug().Err(err).Msg("overview viewport not updated")
	}

	v := s.main.View()
	s.overview.JumpTo(engine.ViewState{
		Center: v.Center,
		Zoom:   math.Max(0, v.Zoom-s.ZoomOffset),
	})
}

func (s *Synchronizer) ensureLayers() error {
	m := s.overview
	if !m.IsStyleLoaded() {
		return engine.ErrStyleNotReady
	}
	if !m.HasSource(ViewportSource) {
		if err := m.AddSource(ViewportSource, engine.Source{Type: engine.GeoJSONSource, Data: geojson.NewFeatureCollection()}); err != nil {
			return err
		}
	}
	if !m.HasLayer(ViewportFill) {
		if err := m.AddLayer(engine.Layer{ID: ViewportFill, Type: engine.Fill, Source: ViewportSource,
			Paint: map[string]any{"fill-color": "#9b2247", "fill-opacity": 0.15}}); err != nil {
			return err
		}
	}
	if !m.HasLayer(ViewportLine) {
		return m.AddLayer(engine.Layer{ID: ViewportLine, Type: engine.Line, Source: ViewportSource,
			Paint: map[string]any{"line-color": "#9b2247", "line-width": 2.0}})
	}
	return nil
}

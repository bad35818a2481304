// Package engine defines the contract between the map-state orchestration
// code and a live rendering-engine instance.
//
// The method set mirrors what a MapLibre map exposes: sources and layers are
// declared against the current style, a style swap destroys all of them, and
// readiness of a new style is signalled asynchronously.
package engine

import (
	"errors"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var (
	ErrNoLayer       = errors.New("layer does not exist")
	ErrNoSource      = errors.New("source does not exist")
	ErrDuplicate     = errors.New("id already exists")
	ErrStyleNotReady = errors.New("style is not loaded")
)

// LayerType is the render type of a layer.
type LayerType string

const (
	Circle LayerType = "circle"
	Fill   LayerType = "fill"
	Line   LayerType = "line"
	Symbol LayerType = "symbol"
)

// Visibility values for the "visibility" layout property.
const (
	Visible = "visible"
	Hidden  = "none"
)

// SourceType is the kind of data backing a source.
type SourceType string

const (
	VectorSource    SourceType = "vector"
	GeoJSONSource   SourceType = "geojson"
	RasterDEMSource SourceType = "raster-dem"
)

// Source declares a data source.
type Source struct {
	Type     SourceType                 `json:"type"`
	URL      string                     `json:"url,omitempty"`
	TileSize int                        `json:"tileSize,omitempty"`
	Data     *geojson.FeatureCollection `json:"data,omitempty"`
}

// Layer declares a styled layer bound to a source.
type Layer struct {
	ID          string         `json:"id"`
	Type        LayerType      `json:"type"`
	Source      string         `json:"source"`
	SourceLayer string         `json:"source-layer,omitempty"`
	Filter      []any          `json:"filter,omitempty"`
	Paint       map[string]any `json:"paint,omitempty"`
	Layout      map[string]any `json:"layout,omitempty"`
	MinZoom     float64        `json:"minzoom,omitempty"`
	MaxZoom     float64        `json:"maxzoom,omitempty"`
}

// ViewState is the camera of a map instance.
type ViewState struct {
	Center  orb.Point `json:"center"`
	Zoom    float64   `json:"zoom"`
	Bearing float64   `json:"bearing"`
	Pitch   float64   `json:"pitch"`
}

// CameraOptions describes an animated camera change. Nil fields are left as is.
type CameraOptions struct {
	Center   *orb.Point
	Zoom     *float64
	Bearing  *float64
	Pitch    *float64
	Duration time.Duration
}

// Terrain enables elevation rendering from a raster-dem source.
type Terrain struct {
	Source       string  `json:"source"`
	Exaggeration float64 `json:"exaggeration"`
}

// Sky configures atmospheric rendering above the horizon.
type Sky struct {
	SkyColor        string  `json:"sky-color"`
	HorizonColor    string  `json:"horizon-color"`
	FogColor        string  `json:"fog-color"`
	SkyHorizonBlend float64 `json:"sky-horizon-blend"`
}

// EventType names a map event.
type EventType string

const (
	MouseEnter EventType = "mouseenter"
	MouseMove  EventType = "mousemove"
	MouseLeave EventType = "mouseleave"
	MouseOut   EventType = "mouseout" // pointer left the canvas
	Click      EventType = "click"
	Move       EventType = "move"
	Zoom       EventType = "zoom"
)

// Event is delivered to handlers registered with Map.On.
type Event struct {
	Type     EventType
	LayerID  string
	LngLat   orb.Point
	Point    [2]float64 // screen pixels
	Features []*geojson.Feature
}

// Handler receives map events.
type Handler func(Event)

// HandlerID identifies a registered handler for Off.
type HandlerID uint64

// Map is a live rendering-engine instance.
type Map interface {
	AddSource(id string, src Source) error
	HasSource(id string) bool
	RemoveSource(id string) error
	SetGeoJSON(sourceID string, fc *geojson.FeatureCollection) error

	AddLayer(l Layer) error
	HasLayer(id string) bool
	RemoveLayer(id string) error
	SetLayoutProperty(layerID, name string, value any) error
	SetPaintProperty(layerID, name string, value any) error

	// SetStyle replaces the style document. Every source, layer, handler
	// registered with a layer id, terrain and sky are discarded.
	SetStyle(url string)
	StyleURL() string
	IsStyleLoaded() bool
	// OnStyleReady registers a one-shot callback fired when the pending
	// style finished loading, with a non-nil error if it failed.
	OnStyleReady(fn func(error))

	View() ViewState
	JumpTo(v ViewState)
	EaseTo(opts CameraOptions, done func())
	Bounds() orb.Bound

	SetTerrain(t *Terrain) error
	SetSky(s *Sky) error
	Terrain() *Terrain

	// On registers h for events of type t. A non-empty layerID restricts
	// delivery to events over that layer.
	On(t EventType, layerID string, h Handler) HandlerID
	Off(id HandlerID)
	SetCursor(cursor string)

	NewTooltip() Tooltip
}

// Tooltip is a popup anchored at a geographic point.
type Tooltip interface {
	SetLngLat(p orb.Point)
	SetHTML(html string)
	Attach()
	Detach()
	IsOpen() bool
}

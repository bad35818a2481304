// Package service contains the catalogue, tile and event services of the
// map server.
package service

import (
	"github.com/joeblew999/plat-map/internal/layers"
)

// LayerConfig is one thematic layer of the catalogue.
// Huma reads the tags for OpenAPI; the YAML tags define the catalogue file.
type LayerConfig struct {
	ID          string              `yaml:"id" json:"id" required:"true" doc:"Unique layer identifier" example:"regiones_zona1"`
	Source      string              `yaml:"source,omitempty" json:"source,omitempty" doc:"Source id, defaults to the layer id"`
	URL         string              `yaml:"url" json:"url" doc:"Vector source URL" example:"pmtiles://data/regiones_zona1.pmtiles"`
	SourceLayer string              `yaml:"sourceLayer" json:"sourceLayer" doc:"Layer name within the tiles" example:"regiones_zona1_tile"`
	Type        string              `yaml:"type" json:"type" enum:"circle,fill,line" doc:"Render type"`
	Paint       map[string]any      `yaml:"paint,omitempty" json:"paint,omitempty" doc:"MapLibre paint properties"`
	Filter      []any               `yaml:"filter,omitempty" json:"filter,omitempty" doc:"MapLibre filter expression"`
	MinZoom     float64             `yaml:"minZoom,omitempty" json:"minZoom,omitempty" minimum:"0" maximum:"24"`
	MaxZoom     float64             `yaml:"maxZoom,omitempty" json:"maxZoom,omitempty" minimum:"0" maximum:"24"`
	ColorPaint  string              `yaml:"colorPaint,omitempty" json:"colorPaint,omitempty" doc:"Paint property driven by the palette" example:"fill-color"`
	Palette     *layers.Palette     `yaml:"palette,omitempty" json:"palette,omitempty" doc:"Categorical colour mapping"`
	Companions  []string            `yaml:"companions,omitempty" json:"companions,omitempty" doc:"Layers whose visibility follows this one"`
	Pulse       bool                `yaml:"pulse,omitempty" json:"pulse,omitempty" doc:"Add a pulsing halo layer"`
	Tooltip     *layers.TooltipRule `yaml:"tooltip,omitempty" json:"tooltip,omitempty" doc:"Hover tooltip"`
	Legend      []LegendItem        `yaml:"legend,omitempty" json:"legend,omitempty" doc:"Legend entries for this layer"`
}

// LegendItem defines a legend entry.
type LegendItem struct {
	Label string `yaml:"label" json:"label" doc:"Legend label"`
	Color string `yaml:"color" json:"color" doc:"Legend color (CSS)"`
}

// PanelItem is one row of the side panel. Rows with Switch emit a toggle
// intent for ID.
type PanelItem struct {
	ID         string `yaml:"id" json:"id"`
	LegendItem `yaml:",inline"`
	Shape      string `yaml:"shape" json:"shape" enum:"circle,square"`
	Switch     bool   `yaml:"switch" json:"switch"`
}

// PanelSection groups panel rows under a title.
type PanelSection struct {
	Title string      `yaml:"title" json:"title"`
	Items []PanelItem `yaml:"items" json:"items"`
}

// Catalog is the caller-supplied description of what the map shows.
type Catalog struct {
	Title       string          `yaml:"title" json:"title"`
	Attribution string          `yaml:"attribution" json:"attribution"`
	Center      [2]float64      `yaml:"center" json:"center" doc:"Initial [lng, lat]"`
	Zoom        float64         `yaml:"zoom" json:"zoom"`
	Layers      []LayerConfig   `yaml:"layers" json:"layers"`
	Visibility  map[string]bool `yaml:"visibility" json:"visibility" doc:"Initial visibility table"`
	Panel       []PanelSection  `yaml:"panel" json:"panel"`
}

// TileFile describes a PMTiles archive.
type TileFile struct {
	Name    string `json:"name" doc:"Archive name" example:"puntos_zona1"`
	Size    string `json:"size" doc:"Human-readable file size" example:"5.4 MB"`
	MinZoom uint8  `json:"minZoom"`
	MaxZoom uint8  `json:"maxZoom"`
}

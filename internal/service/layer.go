package service

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-map/internal/engine"
	"github.com/joeblew999/plat-map/internal/layers"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// DefaultCatalog returns the built-in catalogue.
func DefaultCatalog() []byte { return append([]byte(nil), defaultCatalog...) }

// CatalogService holds the layer catalogue. It is read-only after load.
type CatalogService struct {
	mu      sync.RWMutex
	catalog Catalog
	byID    map[string]int
}

// LoadCatalog reads a catalogue file, or the built-in one when path is empty.
func LoadCatalog(path string) (*CatalogService, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading catalogue: %w", err)
		}
		data = b
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalogue.
func ParseCatalog(data []byte) (*CatalogService, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalogue: %w", err)
	}
	s := &CatalogService{catalog: c, byID: make(map[string]int, len(c.Layers))}
	for i, l := range c.Layers {
		if l.ID == "" {
			return nil, fmt.Errorf("catalogue layer %d has no id", i)
		}
		switch engine.LayerType(l.Type) {
		case engine.Circle, engine.Fill, engine.Line:
		default:
			return nil, fmt.Errorf("layer %q: unsupported type %q", l.ID, l.Type)
		}
		if _, dup := s.byID[l.ID]; dup {
			return nil, fmt.Errorf("layer %q declared twice", l.ID)
		}
		s.byID[l.ID] = i
	}
	// surface companion and pulse id conflicts at load time
	if _, err := s.Registry(); err != nil {
		return nil, err
	}
	return s, nil
}

// Catalog returns the catalogue.
func (s *CatalogService) Catalog() Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// List returns all layer configurations in catalogue order.
func (s *CatalogService) List() []LayerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LayerConfig(nil), s.catalog.Layers...)
}

// Get returns a layer by ID.
func (s *CatalogService) Get(id string) (LayerConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return LayerConfig{}, false
	}
	return s.catalog.Layers[i], true
}

// Visibility returns a copy of the initial visibility table.
func (s *CatalogService) Visibility() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.catalog.Visibility))
	for k, v := range s.catalog.Visibility {
		out[k] = v
	}
	return out
}

// Registry converts the catalogue into layer descriptors.
func (s *CatalogService) Registry() (*layers.Registry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	descs := make([]layers.Descriptor, 0, len(s.catalog.Layers))
	for _, l := range s.catalog.Layers {
		descs = append(descs, l.Descriptor())
	}
	return layers.NewRegistry(descs)
}

// Descriptor converts l into a layer descriptor.
func (l LayerConfig) Descriptor() layers.Descriptor {
	return layers.Descriptor{
		ID:          l.ID,
		SourceID:    l.Source,
		SourceURL:   l.URL,
		Type:        engine.LayerType(l.Type),
		SourceLayer: l.SourceLayer,
		Paint:       l.Paint,
		Filter:      l.Filter,
		MinZoom:     l.MinZoom,
		MaxZoom:     l.MaxZoom,
		ColorPaint:  l.ColorPaint,
		Palette:     l.Palette,
		Companions:  l.Companions,
		Pulse:       l.Pulse,
		Tooltip:     l.Tooltip,
	}
}

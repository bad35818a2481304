package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-map/internal/pmtiles"
)

// ErrTileNotFound is returned for missing archives and tiles.
var ErrTileNotFound = pmtiles.ErrNotFound

// ErrInvalidTile is returned for coordinates outside the tile pyramid.
var ErrInvalidTile = errors.New("invalid tile coordinates")

// maxZoom is the deepest level a PMTiles v3 tile id can address.
const maxZoom = 31

// TileService serves PMTiles archives from the data directory.
type TileService struct {
	store *pmtiles.Store
}

// NewTileService serves archives from "<dataDir>/<name>.pmtiles".
func NewTileService(store *pmtiles.Store) *TileService {
	return &TileService{store: store}
}

// TilesDir returns the path to the tiles directory.
func (s *TileService) TilesDir() string {
	return s.store.Dir()
}

// List returns all available PMTiles files.
func (s *TileService) List() ([]TileFile, error) {
	infos, err := s.store.List()
	if err != nil {
		return nil, err
	}
	files := make([]TileFile, 0, len(infos))
	for _, info := range infos {
		files = append(files, TileFile{
			Name:    info.Name,
			Size:    formatSize(info.Size),
			MinZoom: info.MinZoom,
			MaxZoom: info.MaxZoom,
		})
	}
	return files, nil
}

// TileJSON describes an archive for a MapLibre vector source.
type TileJSON struct {
	TileJSON     string    `json:"tilejson"`
	Name         string    `json:"name"`
	Scheme       string    `json:"scheme"`
	Tiles        []string  `json:"tiles"`
	MinZoom      uint8     `json:"minzoom"`
	MaxZoom      uint8     `json:"maxzoom"`
	Bounds       []float64 `json:"bounds"`
	Center       []float64 `json:"center"`
	VectorLayers []any     `json:"vector_layers,omitempty"`
	Attribution  string    `json:"attribution,omitempty"`
}

// TileJSON builds the TileJSON document of the archive called name, with
// tile URLs rooted at baseURL.
func (s *TileService) TileJSON(name, baseURL string) (TileJSON, error) {
	a, err := s.store.Archive(name)
	if err != nil {
		return TileJSON{}, err
	}
	h := a.Header()
	tj := TileJSON{
		TileJSON: "3.0.0",
		Name:     name,
		Scheme:   "xyz",
		Tiles:    []string{fmt.Sprintf("%s/tiles/%s/{z}/{x}/{y}", strings.TrimSuffix(baseURL, "/"), name)},
		MinZoom:  h.MinZoom,
		MaxZoom:  h.MaxZoom,
		Bounds:   []float64{e7(h.MinLonE7), e7(h.MinLatE7), e7(h.MaxLonE7), e7(h.MaxLatE7)},
		Center:   []float64{e7(h.CenterLonE7), e7(h.CenterLatE7), float64(h.CenterZoom)},
	}
	if meta := a.Metadata(); meta != nil {
		if vl, ok := meta["vector_layers"].([]any); ok {
			tj.VectorLayers = vl
		}
		if attr, ok := meta["attribution"].(string); ok {
			tj.Attribution = attr
		}
		if n, ok := meta["name"].(string); ok && n != "" {
			tj.Name = n
		}
	}
	return tj, nil
}

// Tile is one stored tile with the headers needed to serve it.
type Tile struct {
	Data            []byte
	ContentType     string
	ContentEncoding string
}

// Tile reads tile t of the archive called name.
func (s *TileService) Tile(name string, t maptile.Tile) (Tile, error) {
	if t.Z > maxZoom || uint64(t.X) >= 1<<t.Z || uint64(t.Y) >= 1<<t.Z {
		return Tile{}, fmt.Errorf("%w: %d/%d/%d", ErrInvalidTile, t.Z, t.X, t.Y)
	}
	a, err := s.store.Archive(name)
	if err != nil {
		return Tile{}, err
	}
	data, err := a.Tile(uint8(t.Z), t.X, t.Y)
	if err != nil {
		return Tile{}, err
	}
	h := a.Header()
	out := Tile{Data: data, ContentType: contentType(h.TileType)}
	switch h.TileCompression {
	case pmtiles.Gzip:
		out.ContentEncoding = "gzip"
	case pmtiles.Brotli:
		out.ContentEncoding = "br"
	case pmtiles.Zstd:
		out.ContentEncoding = "zstd"
	}
	return out, nil
}

// IsNotFound reports whether err means the archive or tile does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, pmtiles.ErrNotFound)
}

func contentType(t pmtiles.TileType) string {
	switch t {
	case pmtiles.Mvt:
		return "application/vnd.mapbox-vector-tile"
	case pmtiles.Png:
		return "image/png"
	case pmtiles.Jpeg:
		return "image/jpeg"
	case pmtiles.Webp:
		return "image/webp"
	case pmtiles.Avif:
		return "image/avif"
	}
	return "application/octet-stream"
}

func e7(v int32) float64 { return float64(v) / 1e7 }

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// Package tiler cuts GeoJSON into gzipped Mapbox Vector Tiles and packs
// them into a single PMTiles archive, the format the map server reads.
//
// It runs in pure Go so the catalogue archives can be rebuilt where
// tippecanoe is not installed.
package tiler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"github.com/joeblew999/plat-map/internal/pmtiles"
)

// DefaultMaxZoom is the deepest level generated when Options.MaxZoom is unset.
const DefaultMaxZoom = 14

// ErrEmpty is returned when no feature produced a tile.
var ErrEmpty = errors.New("no tiles to write")

// Options control tile generation.
type Options struct {
	// Layer is the source-layer name inside every tile. BuildFile defaults
	// it to "<archive>_tile", the catalogue convention.
	Layer       string
	MinZoom     int
	MaxZoom     int
	Attribution string
}

// Stats describes a generated archive.
type Stats struct {
	Tiles    int
	Features int
	Bound    orb.Bound
}

// BuildFile reads a GeoJSON feature collection from in and writes the
// archive to out.
func BuildFile(in, out string, opts Options) (Stats, error) {
	data, err := os.ReadFile(in)
	if err != nil {
		return Stats{}, fmt.Errorf("reading geojson: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return Stats{}, fmt.Errorf("parsing geojson: %w", err)
	}
	if opts.Layer == "" {
		opts.Layer = strings.TrimSuffix(filepath.Base(out), ".pmtiles") + "_tile"
	}

	var buf bytes.Buffer
	stats, err := Build(&buf, fc, opts)
	if err != nil {
		return stats, err
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return stats, fmt.Errorf("writing archive: %w", err)
	}
	return stats, nil
}

// Build writes the PMTiles archive of fc to w.
func Build(w io.Writer, fc *geojson.FeatureCollection, opts Options) (Stats, error) {
	if opts.Layer == "" {
		return Stats{}, errors.New("layer name is required")
	}
	if opts.MinZoom < 0 {
		opts.MinZoom = 0
	}
	if opts.MaxZoom <= 0 || opts.MaxZoom > DefaultMaxZoom {
		opts.MaxZoom = DefaultMaxZoom
	}
	if opts.MinZoom > opts.MaxZoom {
		return Stats{}, fmt.Errorf("min zoom %d above max zoom %d", opts.MinZoom, opts.MaxZoom)
	}

	stats := Stats{}
	var features []*geojson.Feature
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		if len(features) == 0 {
			stats.Bound = f.Geometry.Bound()
		} else {
			stats.Bound = stats.Bound.Union(f.Geometry.Bound())
		}
		features = append(features, f)
	}
	stats.Features = len(features)

	tiles := make(map[maptile.Tile][]byte)
	for z := opts.MinZoom; z <= opts.MaxZoom; z++ {
		for t, data := range zoomLevel(features, maptile.Zoom(z), opts.Layer) {
			tiles[t] = data
		}
	}
	if len(tiles) == 0 {
		return stats, ErrEmpty
	}
	stats.Tiles = len(tiles)
	return stats, writeArchive(w, tiles, features, stats.Bound, opts)
}

// zoomLevel encodes every tile of zoom touched by a feature.
func zoomLevel(features []*geojson.Feature, zoom maptile.Zoom, layer string) map[maptile.Tile][]byte {
	byTile := make(map[maptile.Tile][]*geojson.Feature)
	for _, f := range features {
		for _, t := range tilesInBound(f.Geometry.Bound(), zoom) {
			byTile[t] = append(byTile[t], f)
		}
	}

	out := make(map[maptile.Tile][]byte)
	for t, fs := range byTile {
		if data := encodeTile(t, fs, layer); data != nil {
			out[t] = data
		}
	}
	return out
}

// encodeTile returns the gzipped MVT of t, or nil when nothing survives
// clipping.
func encodeTile(t maptile.Tile, features []*geojson.Feature, layer string) []byte {
	bound := t.Bound()
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		if !intersects(f.Geometry, bound) {
			continue
		}
		// Clip and ProjectToTile rewrite coordinates in place.
		clone := geojson.NewFeature(orb.Clone(f.Geometry))
		for k, v := range f.Properties {
			clone.Properties[k] = v
		}
		fc.Append(clone)
	}
	if len(fc.Features) == 0 {
		return nil
	}

	l := mvt.NewLayer(layer, fc)
	if eps := simplifyEpsilon(t.Z); eps > 0 {
		l.Simplify(simplify.DouglasPeucker(eps))
	}
	l.Clip(bound)
	l.ProjectToTile(t)
	l.RemoveEmpty(0.5, 0.5)
	if len(l.Features) == 0 {
		return nil
	}

	data, err := mvt.MarshalGzipped(mvt.Layers{l})
	if err != nil {
		return nil
	}
	return data
}

// intersects refines the bounding box test for points and polygons.
func intersects(g orb.Geometry, bound orb.Bound) bool {
	if !g.Bound().Intersects(bound) {
		return false
	}
	switch g := g.(type) {
	case orb.Point:
		return bound.Contains(g)
	case orb.MultiPoint:
		for _, p := range g {
			if bound.Contains(p) {
				return true
			}
		}
		return false
	case orb.Polygon:
		for _, ring := range g {
			for _, p := range ring {
				if bound.Contains(p) {
					return true
				}
			}
		}
		// The polygon may cover the tile entirely.
		corners := []orb.Point{bound.Min, {bound.Max[0], bound.Min[1]}, bound.Max, {bound.Min[0], bound.Max[1]}, bound.Center()}
		for _, p := range corners {
			if planar.PolygonContains(g, p) {
				return true
			}
		}
		return false
	case orb.MultiPolygon:
		for _, poly := range g {
			if intersects(poly, bound) {
				return true
			}
		}
		return false
	}
	return true
}

// tilesInBound returns the tiles of zoom that cover b.
func tilesInBound(b orb.Bound, zoom maptile.Zoom) []maptile.Tile {
	lo := maptile.At(b.Min, zoom)
	hi := maptile.At(b.Max, zoom)
	minX, maxX := min(lo.X, hi.X), max(lo.X, hi.X)
	minY, maxY := min(lo.Y, hi.Y), max(lo.Y, hi.Y)

	tiles := make([]maptile.Tile, 0, int(maxX-minX+1)*int(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, maptile.New(x, y, zoom))
		}
	}
	return tiles
}

// simplifyEpsilon is the Douglas-Peucker tolerance in degrees. Municipal
// polygons stay recognisable at every level.
func simplifyEpsilon(zoom maptile.Zoom) float64 {
	switch {
	case zoom >= 14:
		return 0
	case zoom >= 10:
		return 0.00001
	case zoom >= 6:
		return 0.0001
	case zoom >= 4:
		return 0.0005
	default:
		return 0.001
	}
}

// vectorLayers describes the attribute types of layer for TileJSON.
func vectorLayers(features []*geojson.Feature, opts Options) []any {
	fields := map[string]any{}
	for _, f := range features {
		for k, v := range f.Properties {
			if _, ok := fields[k]; ok {
				continue
			}
			switch v.(type) {
			case float64, int, int64:
				fields[k] = "Number"
			case bool:
				fields[k] = "Boolean"
			default:
				fields[k] = "String"
			}
		}
	}
	return []any{map[string]any{
		"id":      opts.Layer,
		"fields":  fields,
		"minzoom": opts.MinZoom,
		"maxzoom": opts.MaxZoom,
	}}
}

// writeArchive lays out header, root directory, metadata, leaf directories
// and tile data.
func writeArchive(w io.Writer, tiles map[maptile.Tile][]byte, features []*geojson.Feature, bound orb.Bound, opts Options) error {
	type tileEntry struct {
		id   uint64
		data []byte
	}
	sorted := make([]tileEntry, 0, len(tiles))
	for t, data := range tiles {
		sorted = append(sorted, tileEntry{id: pmtiles.ZxyToID(uint8(t.Z), t.X, t.Y), data: data})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].id < sorted[j].id })

	entries := make([]pmtiles.EntryV3, 0, len(sorted))
	var data bytes.Buffer
	for _, te := range sorted {
		entries = append(entries, pmtiles.EntryV3{
			TileID:    te.id,
			Offset:    uint64(data.Len()),
			Length:    uint32(len(te.data)),
			RunLength: 1,
		})
		data.Write(te.data)
	}

	meta := map[string]any{
		"name":          opts.Layer,
		"format":        "pbf",
		"vector_layers": vectorLayers(features, opts),
	}
	if opts.Attribution != "" {
		meta["attribution"] = opts.Attribution
	}
	metaBytes, err := pmtiles.SerializeMetadata(meta, pmtiles.Gzip)
	if err != nil {
		return fmt.Errorf("serializing metadata: %w", err)
	}
	root, leaves := pmtiles.Directories(entries, pmtiles.Gzip)

	center := bound.Center()
	h := pmtiles.HeaderV3{
		SpecVersion:         3,
		RootOffset:          pmtiles.HeaderV3LenBytes,
		RootLength:          uint64(len(root)),
		AddressedTilesCount: uint64(len(entries)),
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   uint64(len(entries)),
		Clustered:           true,
		InternalCompression: pmtiles.Gzip,
		TileCompression:     pmtiles.Gzip,
		TileType:            pmtiles.Mvt,
		MinZoom:             uint8(opts.MinZoom),
		MaxZoom:             uint8(opts.MaxZoom),
		MinLonE7:            e7(bound.Min[0]),
		MinLatE7:            e7(bound.Min[1]),
		MaxLonE7:            e7(bound.Max[0]),
		MaxLatE7:            e7(bound.Max[1]),
		CenterZoom:          uint8(opts.MinZoom),
		CenterLonE7:         e7(center[0]),
		CenterLatE7:         e7(center[1]),
	}
	h.MetadataOffset = h.RootOffset + h.RootLength
	h.MetadataLength = uint64(len(metaBytes))
	h.LeafDirectoryOffset = h.MetadataOffset + h.MetadataLength
	h.LeafDirectoryLength = uint64(len(leaves))
	h.TileDataOffset = h.LeafDirectoryOffset + h.LeafDirectoryLength
	h.TileDataLength = uint64(data.Len())

	for _, part := range [][]byte{pmtiles.SerializeHeader(h), root, metaBytes, leaves, data.Bytes()} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

func e7(v float64) int32 { return int32(v * 1e7) }

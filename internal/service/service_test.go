package service

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-map/internal/engine"
	"github.com/joeblew999/plat-map/internal/pmtiles"
)

func TestDefaultCatalog(t *testing.T) {
	s, err := LoadCatalog("")
	if err != nil {
		t.Fatal(err)
	}
	c := s.Catalog()
	if c.Attribution != "Secretaría de Gobernación" || c.Zoom != 4.47 {
		t.Fatalf("catalogue header = %q %v", c.Attribution, c.Zoom)
	}
	if len(c.Layers) != 12 {
		t.Fatalf("got %d layers", len(c.Layers))
	}

	reg, err := s.Registry()
	if err != nil {
		t.Fatal(err)
	}
	got := reg.Companions("regiones_zona1")
	want := []string{"mesas_cercanas_zona1", "puntos_zona1"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("companions = %v", got)
	}
	if pulses := reg.PulseLayers(); len(pulses) != 2 || pulses[0] != "puntos_zona1-pulse" {
		t.Fatalf("pulse layers = %v", pulses)
	}

	inpi, ok := s.Get("LocalidadesSedeINPI")
	if !ok {
		t.Fatal("inpi layer missing")
	}
	if inpi.Palette == nil || !inpi.Palette.StringKeys || inpi.Palette.Count != 72 {
		t.Fatalf("inpi palette = %+v", inpi.Palette)
	}
	if c := inpi.Palette.ColorFor("1"); c != "#d95f02" {
		t.Fatalf("ID_Pueblo 1 -> %s", c)
	}

	wifi, _ := s.Get("PuntosWiFiCFE_FIBRA")
	d := wifi.Descriptor()
	if d.SourceID != "PuntosWiFiCFE" || d.Type != engine.Circle || len(d.Filter) != 3 {
		t.Fatalf("wifi descriptor = %+v", d)
	}
	if wifi.Tooltip == nil || wifi.Tooltip.CompositeKeys[0] != "INMUEBLE NOMBRE" {
		t.Fatalf("wifi tooltip = %+v", wifi.Tooltip)
	}

	vis := s.Visibility()
	if vis["regiones_zona1"] || !vis["polosBienestar"] {
		t.Fatalf("visibility = %v", vis)
	}
	vis["regiones_zona1"] = true
	if s.Visibility()["regiones_zona1"] {
		t.Fatal("Visibility returned the internal map")
	}
}

func TestParseCatalogErrors(t *testing.T) {
	tests := []struct {
		name, doc, want string
	}{
		{"no id", "layers:\n  - type: fill\n", "no id"},
		{"bad type", "layers:\n  - {id: a, type: raster}\n", "unsupported type"},
		{"duplicate", "layers:\n  - {id: a, type: fill}\n  - {id: a, type: line}\n", "declared twice"},
		{"pulse clash", "layers:\n  - {id: a, type: circle, pulse: true}\n  - {id: a-pulse, type: circle}\n", "declared twice"},
		{"companion", "layers:\n  - {id: a, type: fill, companions: [b]}\n", "unknown companion"},
		{"yaml", "layers: [", "parsing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

// writeArchive stores a one-tile archive at dir/name.pmtiles.
func writeArchive(t *testing.T, dir, name string) {
	t.Helper()
	data := []byte("tile-0-0-0")
	root := pmtiles.SerializeEntries([]pmtiles.EntryV3{{TileID: 0, Length: uint32(len(data)), RunLength: 1}}, pmtiles.NoCompression)
	meta, err := pmtiles.SerializeMetadata(map[string]interface{}{
		"vector_layers": []any{map[string]any{"id": name + "_tile"}},
		"attribution":   "INPI",
	}, pmtiles.NoCompression)
	if err != nil {
		t.Fatal(err)
	}
	h := pmtiles.HeaderV3{
		RootOffset:          pmtiles.HeaderV3LenBytes,
		RootLength:          uint64(len(root)),
		InternalCompression: pmtiles.NoCompression,
		TileCompression:     pmtiles.Gzip,
		TileType:            pmtiles.Mvt,
		MaxZoom:             5,
		MinLonE7:            -1180000000,
		MaxLonE7:            -860000000,
		MinLatE7:            140000000,
		MaxLatE7:            330000000,
	}
	h.MetadataOffset = h.RootOffset + h.RootLength
	h.MetadataLength = uint64(len(meta))
	h.LeafDirectoryOffset = h.MetadataOffset + h.MetadataLength
	h.TileDataOffset = h.LeafDirectoryOffset
	h.TileDataLength = uint64(len(data))

	var b bytes.Buffer
	b.Write(pmtiles.SerializeHeader(h))
	b.Write(root)
	b.Write(meta)
	b.Write(data)
	if err := os.WriteFile(filepath.Join(dir, name+".pmtiles"), b.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestTileService(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "inpi")
	store := pmtiles.NewStore(dir)
	defer store.Close()
	svc := NewTileService(store)

	files, err := svc.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Name != "inpi" || files[0].MaxZoom != 5 || !strings.HasSuffix(files[0].Size, "B") {
		t.Fatalf("files = %+v", files)
	}

	tj, err := svc.TileJSON("inpi", "http://localhost:8086/")
	if err != nil {
		t.Fatal(err)
	}
	if tj.Tiles[0] != "http://localhost:8086/tiles/inpi/{z}/{x}/{y}" {
		t.Fatalf("tiles = %v", tj.Tiles)
	}
	if tj.Bounds[0] != -118 || tj.Bounds[3] != 33 || tj.Attribution != "INPI" || len(tj.VectorLayers) != 1 {
		t.Fatalf("tilejson = %+v", tj)
	}

	tile, err := svc.Tile("inpi", maptile.New(0, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if string(tile.Data) != "tile-0-0-0" || tile.ContentEncoding != "gzip" || tile.ContentType != "application/vnd.mapbox-vector-tile" {
		t.Fatalf("tile = %+v", tile)
	}
	if _, err := svc.Tile("inpi", maptile.New(0, 0, 6)); !IsNotFound(err) {
		t.Fatalf("missing tile err = %v", err)
	}
	if _, err := svc.Tile("inpi", maptile.New(2, 0, 1)); !errors.Is(err, ErrInvalidTile) {
		t.Fatalf("outside pyramid err = %v", err)
	}
	if _, err := svc.TileJSON("absent", ""); !IsNotFound(err) {
		t.Fatalf("absent err = %v", err)
	}
}

func TestFormatSize(t *testing.T) {
	tests := map[int64]string{
		512:         "512 B",
		1536:        "1.5 KB",
		5 * 1 << 20: "5.0 MB",
	}
	for n, want := range tests {
		if got := formatSize(n); got != want {
			t.Errorf("formatSize(%d) = %q, want %q", n, got, want)
		}
	}
}

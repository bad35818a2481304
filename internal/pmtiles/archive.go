package pmtiles

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned for tiles or archives that do not exist.
var ErrNotFound = errors.New("not found")

const (
	// maxDirectoryDepth bounds leaf directory recursion.
	maxDirectoryDepth = 4
	// MaxRootBytes is what clients fetch up front: header plus root directory.
	MaxRootBytes = 16384
	leafEntries  = 4096
)

// Archive is an open PMTiles file. It is safe for concurrent use.
type Archive struct {
	r      io.ReaderAt
	closer io.Closer
	header HeaderV3
	root   []EntryV3
	meta   map[string]any
}

// OpenArchive opens the archive at path.
func OpenArchive(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive %s: %w", filepath.Base(path), ErrNotFound)
		}
		return nil, err
	}
	a, err := NewArchive(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("archive %s: %w", filepath.Base(path), err)
	}
	a.closer = f
	return a, nil
}

// NewArchive reads the header, root directory and metadata from r.
func NewArchive(r io.ReaderAt) (*Archive, error) {
	hb := make([]byte, HeaderV3LenBytes)
	if _, err := r.ReadAt(hb, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	h, err := DeserializeHeader(hb)
	if err != nil {
		return nil, err
	}
	if h.SpecVersion != 3 {
		return nil, fmt.Errorf("unsupported spec version %d", h.SpecVersion)
	}
	a := &Archive{r: r, header: h}

	if a.root, err = a.directory(h.RootOffset, h.RootLength); err != nil {
		return nil, fmt.Errorf("root directory: %w", err)
	}
	if h.MetadataLength > 0 {
		b, err := a.read(h.MetadataOffset, h.MetadataLength)
		if err != nil {
			return nil, err
		}
		if a.meta, err = DeserializeMetadata(b, h.InternalCompression); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Header returns the archive header.
func (a *Archive) Header() HeaderV3 { return a.header }

// Metadata returns the decoded JSON metadata, nil if absent.
func (a *Archive) Metadata() map[string]any { return a.meta }

// Close releases the underlying file.
func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// Tile returns the stored bytes of tile z/x/y, still compressed with the
// header's TileCompression.
func (a *Archive) Tile(z uint8, x, y uint32) ([]byte, error) {
	if z < a.header.MinZoom || z > a.header.MaxZoom {
		return nil, ErrNotFound
	}
	id := ZxyToID(z, x, y)
	entries := a.root
	for depth := 0; depth < maxDirectoryDepth; depth++ {
		e, ok := FindTile(entries, id)
		if !ok {
			return nil, ErrNotFound
		}
		if e.RunLength > 0 {
			return a.read(a.header.TileDataOffset+e.Offset, uint64(e.Length))
		}
		leaf, err := a.directory(a.header.LeafDirectoryOffset+e.Offset, uint64(e.Length))
		if err != nil {
			return nil, fmt.Errorf("leaf directory: %w", err)
		}
		entries = leaf
	}
	return nil, ErrNotFound
}

func (a *Archive) directory(off, n uint64) ([]EntryV3, error) {
	b, err := a.read(off, n)
	if err != nil {
		return nil, err
	}
	return DeserializeEntries(b, a.header.InternalCompression)
}

func (a *Archive) read(off, n uint64) ([]byte, error) {
	b := make([]byte, n)
	if _, err := a.r.ReadAt(b, int64(off)); err != nil && !(errors.Is(err, io.EOF) && n == 0) {
		return nil, fmt.Errorf("reading %d bytes at %d: %w", n, off, err)
	}
	return b, nil
}

// Directories serializes sorted tile entries into a root directory that
// fits in MaxRootBytes together with the header. When the entries do not fit,
// they are split into leaf directories and the root holds one pointer per
// leaf; pointer offsets are relative to the start of leaves.
func Directories(entries []EntryV3, compression Compression) (root, leaves []byte) {
	return directories(entries, compression, MaxRootBytes-HeaderV3LenBytes, leafEntries)
}

func directories(entries []EntryV3, compression Compression, limit, perLeaf int) ([]byte, []byte) {
	root := SerializeEntries(entries, compression)
	if len(root) <= limit {
		return root, nil
	}
	for ; ; perLeaf *= 2 {
		var leaves bytes.Buffer
		var pointers []EntryV3
		for i := 0; i < len(entries); i += perLeaf {
			leaf := SerializeEntries(entries[i:min(i+perLeaf, len(entries))], compression)
			pointers = append(pointers, EntryV3{
				TileID: entries[i].TileID,
				Offset: uint64(leaves.Len()),
				Length: uint32(len(leaf)),
			})
			leaves.Write(leaf)
		}
		root = SerializeEntries(pointers, compression)
		// a single pointer always fits
		if len(root) <= limit || len(pointers) == 1 {
			return root, leaves.Bytes()
		}
	}
}

// Info describes an archive in a Store.
type Info struct {
	Name    string `json:"name" doc:"Archive name without extension"`
	Size    int64  `json:"size" doc:"File size in bytes"`
	MinZoom uint8  `json:"minZoom"`
	MaxZoom uint8  `json:"maxZoom"`
}

// Store opens archives by name from a directory and keeps them open.
type Store struct {
	dir string

	mu   sync.Mutex
	open map[string]*Archive
}

// NewStore serves "<dir>/<name>.pmtiles".
func NewStore(dir string) *Store {
	return &Store{dir: dir, open: make(map[string]*Archive)}
}

// Dir returns the archive directory.
func (s *Store) Dir() string { return s.dir }

// ValidName rejects names that could escape the archive directory.
func ValidName(name string) error {
	if name == "" || name == "." || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid archive name %q", name)
	}
	return nil
}

// Archive returns the archive called name, opening it on first use.
func (s *Store) Archive(name string) (*Archive, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.open[name]; ok {
		return a, nil
	}
	a, err := OpenArchive(filepath.Join(s.dir, name+".pmtiles"))
	if err != nil {
		return nil, err
	}
	s.open[name] = a
	return a, nil
}

// List returns every archive in the directory, sorted by name.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, err
	}
	out := []Info{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".pmtiles" {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".pmtiles")
		info := Info{Name: name, Size: fi.Size()}
		if a, err := s.Archive(name); err == nil {
			info.MinZoom, info.MaxZoom = a.header.MinZoom, a.header.MaxZoom
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close closes every open archive.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for name, a := range s.open {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.open, name)
	}
	return errors.Join(errs...)
}

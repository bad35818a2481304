// Package protocol resolves custom URL schemes used by layer sources.
package protocol

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/joeblew999/plat-map/internal/pmtiles"
)

// Resolver rewrites a URL of its scheme into one the browser can fetch.
type Resolver interface {
	Resolve(url string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(url string) (string, error)

func (f ResolverFunc) Resolve(url string) (string, error) { return f(url) }

// Registry maps schemes to resolvers. URLs with an unregistered scheme are
// returned unchanged.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// Register installs r for scheme, replacing any previous resolver.
func (reg *Registry) Register(scheme string, r Resolver) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.resolvers[scheme] = r
}

// Deregister removes the resolver for scheme.
func (reg *Registry) Deregister(scheme string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.resolvers, scheme)
}

// Registered reports whether scheme has a resolver.
func (reg *Registry) Registered(scheme string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.resolvers[scheme]
	return ok
}

func (reg *Registry) Resolve(url string) (string, error) {
	scheme, _, ok := strings.Cut(url, "://")
	if !ok {
		return url, nil
	}
	reg.mu.RLock()
	r, ok := reg.resolvers[scheme]
	reg.mu.RUnlock()
	if !ok {
		return url, nil
	}
	return r.Resolve(url)
}

// PMTilesScheme is the scheme of packed tile archive URLs.
const PMTilesScheme = "pmtiles"

// PMTiles maps "pmtiles://<dir>/<name>.pmtiles" to the TileJSON endpoint
// "<BaseURL>/tiles/<name>" served from the local archive store.
type PMTiles struct {
	BaseURL string
}

func (p PMTiles) Resolve(url string) (string, error) {
	rest, ok := strings.CutPrefix(url, PMTilesScheme+"://")
	if !ok {
		return "", fmt.Errorf("not a pmtiles url: %s", url)
	}
	name := strings.TrimSuffix(path.Base(rest), ".pmtiles")
	if err := pmtiles.ValidName(name); err != nil {
		return "", err
	}
	return strings.TrimSuffix(p.BaseURL, "/") + "/tiles/" + name, nil
}

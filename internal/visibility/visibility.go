// Package visibility maps an id→bool table onto live layer visibility.
package visibility

import (
	"github.com/joeblew999/plat-map/internal/engine"
)

// Table maps layer ids to the desired visibility.
type Table map[string]bool

// Clone returns an independent copy.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// CompanionFunc returns the layer ids that follow a parent's visibility.
type CompanionFunc func(id string) []string

// Synchronizer applies visibility tables and remembers the last one so it
// can be replayed after a style reload.
type Synchronizer struct {
	companions CompanionFunc
	last       Table
}

// New creates a synchronizer. companions may be nil.
func New(companions CompanionFunc) *Synchronizer {
	if companions == nil {
		companions = func(string) []string { return nil }
	}
	return &Synchronizer{companions: companions, last: Table{}}
}

// Last returns a copy of the last table handed to Apply or Toggle.
func (s *Synchronizer) Last() Table {
	return s.last.Clone()
}

// Apply records table and, if the style is loaded, sets the visibility of
// every existing layer it names. Unknown ids are ignored. It reports whether
// the table reached the map; a deferred table is applied by Replay.
func (s *Synchronizer) Apply(m engine.Map, table Table) bool {
	s.last = table.Clone()
	if m == nil || !m.IsStyleLoaded() {
		return false
	}
	s.apply(m)
	return true
}

// Replay applies the remembered table.
func (s *Synchronizer) Replay(m engine.Map) {
	s.apply(m)
}

// Toggle flips one entry of the remembered table and applies it. It
// returns the new value.
func (s *Synchronizer) Toggle(m engine.Map, id string) bool {
	next := s.last.Clone()
	next[id] = !next[id]
	s.Apply(m, next)
	return next[id]
}

// apply cascades first so an explicit entry for a companion wins over its
// parent's value regardless of map order.
func (s *Synchronizer) apply(m engine.Map) {
	for id, visible := range s.last {
		s.cascade(m, id, value(visible), map[string]bool{id: true})
	}
	for id, visible := range s.last {
		set(m, id, value(visible))
	}
}

// cascade follows companions of companions; seen breaks cycles.
func (s *Synchronizer) cascade(m engine.Map, id, v string, seen map[string]bool) {
	for _, c := range s.companions(id) {
		if seen[c] {
			continue
		}
		seen[c] = true
		set(m, c, v)
		s.cascade(m, c, v, seen)
	}
}

func value(visible bool) string {
	if visible {
		return engine.Visible
	}
	return engine.Hidden
}

func set(m engine.Map, id, v string) {
	if !m.HasLayer(id) {
		return
	}
	// the layer can vanish between the check and the write during a reload
	_ = m.SetLayoutProperty(id, "visibility", v)
}

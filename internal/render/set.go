// Package render contains Renderer backends for tiled layers.
package render

import (
	"sort"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/tiledgeojson/internal/dataset"
	"github.com/joeblew999/tiledgeojson/internal/tiled"
)

// Drawn is one feature currently in a Set.
type Drawn struct {
	Tile    tiled.TileID     `json:"-"`
	TileKey string           `json:"tile" doc:"Tile as lod/x,y"`
	Index   int              `json:"index" doc:"Feature position inside the tile document"`
	ID      string           `json:"id,omitempty" doc:"Feature identifier"`
	Feature *geojson.Feature `json:"feature"`
}

// Set keeps every drawn feature in memory. It is safe for concurrent use
// so that snapshots can be read outside the layer loop.
type Set struct {
	mu         sync.RWMutex
	idProperty string
	style      map[string]any
	drawn      map[tiled.TileID]map[int]*geojson.Feature
}

// NewSet creates an empty set. idProperty selects the feature identifier
// reported in snapshots, as in tiled.Options.
func NewSet(idProperty string) *Set {
	return &Set{
		idProperty: idProperty,
		drawn:      make(map[tiled.TileID]map[int]*geojson.Feature),
	}
}

// SetStyle records the style the features are drawn with.
func (s *Set) SetStyle(style map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.style = style
}

// Style returns the recorded style.
func (s *Set) Style() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.style
}

func (s *Set) Add(tile tiled.TileID, index int, f *geojson.Feature) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drawn[tile] == nil {
		s.drawn[tile] = make(map[int]*geojson.Feature)
	}
	s.drawn[tile][index] = f
}

func (s *Set) Remove(tile tiled.TileID, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.drawn[tile], index)
	if len(s.drawn[tile]) == 0 {
		delete(s.drawn, tile)
	}
}

// Len returns the number of drawn features.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, feats := range s.drawn {
		n += len(feats)
	}
	return n
}

// Count returns how many drawn features carry id.
func (s *Set) Count(id dataset.FeatureID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, feats := range s.drawn {
		for _, f := range feats {
			if got, ok := dataset.IDOf(f, s.idProperty); ok && got == id {
				n++
			}
		}
	}
	return n
}

// Snapshot returns every drawn feature ordered by tile then index.
func (s *Set) Snapshot() []Drawn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Drawn, 0)
	for tile, feats := range s.drawn {
		for i, f := range feats {
			id, _ := dataset.IDOf(f, s.idProperty)
			out = append(out, Drawn{Tile: tile, TileKey: tile.String(), Index: i, ID: string(id), Feature: f})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Tile, out[j].Tile
		if a != b {
			if a.LOD != b.LOD {
				return a.LOD < b.LOD
			}
			return a.Cell.Less(b.Cell)
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// FeatureCollection returns the drawn features as one collection.
func (s *Set) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, d := range s.Snapshot() {
		fc.Append(d.Feature)
	}
	return fc
}

// Tee fans every call out to several renderers in order.
type Tee []tiled.Renderer

func (t Tee) Add(tile tiled.TileID, index int, f *geojson.Feature) {
	for _, r := range t {
		r.Add(tile, index, f)
	}
}

func (t Tee) Remove(tile tiled.TileID, index int) {
	for _, r := range t {
		r.Remove(tile, index)
	}
}

// SetStyle passes style to every member that takes one.
func (t Tee) SetStyle(style map[string]any) {
	for _, r := range t {
		if s, ok := r.(tiled.Styler); ok {
			s.SetStyle(style)
		}
	}
}

var (
	_ tiled.Renderer = (*Set)(nil)
	_ tiled.Renderer = Tee(nil)
	_ tiled.Styler   = (*Set)(nil)
	_ tiled.Styler   = Tee(nil)
)

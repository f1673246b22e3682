// Package tiled schedules the tiles of a tiled GeoJSON dataset against a
// moving viewport.
//
// A Layer picks the level of detail for the current zoom, each LodLevel
// diffs the visible cell window against the cells it already shows, and a
// per-level holder registry makes sure a feature duplicated across tile
// boundaries is drawn by exactly one visible tile.
//
// Layers are not safe for concurrent use. Every method must be called from
// the loop of the loop.Scheduler the layer was created with.
package tiled

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/tiledgeojson/internal/grid"
)

// TileID identifies a tile by level of detail and cell.
type TileID struct {
	LOD  int
	Cell grid.Cell
}

func (id TileID) String() string {
	return fmt.Sprintf("%d/%s", id.LOD, id.Cell)
}

// Renderer is the renderable set a layer draws into. index is the
// position of the feature inside its tile document.
type Renderer interface {
	Add(tile TileID, index int, f *geojson.Feature)
	Remove(tile TileID, index int)
}

// Styler is implemented by renderers that accept the layer's style
// options. The layer calls SetStyle once, before anything is drawn.
type Styler interface {
	SetStyle(style map[string]any)
}

// Viewport is the host map widget a layer is attached to.
type Viewport interface {
	Zoom() float64
	Bounds() orb.Bound
	HighDensity() bool
	// OnChange registers fn to be called after every viewport change and
	// returns a function that removes the registration. fn may be called
	// from any goroutine.
	OnChange(fn func()) (cancel func())
}

package tiled

import (
	"slices"

	"github.com/paulmach/orb"

	"github.com/joeblew999/tiledgeojson/internal/dataset"
	"github.com/joeblew999/tiledgeojson/internal/grid"
)

// LodLevel is one level of detail of a layer: its tile index, the tiles
// created so far, the subset currently visible and the feature holders.
type LodLevel struct {
	index  int
	desc   dataset.LOD
	origin orb.Point
	layer  *Layer

	tiles   map[grid.Cell]*Tile
	active  map[grid.Cell]uint64 // cell -> activation sequence
	seq     uint64
	holders registry

	view    grid.View
	hasView bool
}

func newLodLevel(layer *Layer, index int, origin orb.Point, desc dataset.LOD) *LodLevel {
	return &LodLevel{
		index:   index,
		desc:    desc,
		origin:  origin,
		layer:   layer,
		tiles:   make(map[grid.Cell]*Tile),
		active:  make(map[grid.Cell]uint64),
		holders: make(registry),
	}
}

func (l *LodLevel) Index() int              { return l.index }
func (l *LodLevel) MaxZoom() float64        { return l.desc.MaxZoom }
func (l *LodLevel) Resolution() float64     { return l.desc.Resolution }
func (l *LodLevel) Tile(c grid.Cell) *Tile  { return l.tiles[c] }
func (l *LodLevel) View() (grid.View, bool) { return l.view, l.hasView }

// Active reports whether c is in the active set.
func (l *LodLevel) Active(c grid.Cell) bool {
	_, ok := l.active[c]
	return ok
}

// ActiveCells returns the active cells in row-major order.
func (l *LodLevel) ActiveCells() []grid.Cell {
	cells := make([]grid.Cell, 0, len(l.active))
	for c := range l.active {
		cells = append(cells, c)
	}
	slices.SortFunc(cells, compareCells)
	return cells
}

// Holders returns the cells holding id, canonical holder first.
func (l *LodLevel) Holders(id dataset.FeatureID) []grid.Cell {
	return slices.Clone(l.holders[id])
}

// HolderCount returns the number of feature ids in the registry.
func (l *LodLevel) HolderCount() int {
	return len(l.holders)
}

// update brings the active set in line with the cells visible in bound.
func (l *LodLevel) update(bound orb.Bound) {
	v := grid.Compute(l.desc.Resolution, l.origin, bound)
	if l.hasView && v.SameAs(l.view) {
		return
	}

	for _, c := range l.candidates(v) {
		if l.Active(c) {
			continue
		}
		l.show(c)
	}
	for _, c := range l.ActiveCells() {
		if !v.Contains(c) {
			l.hide(c)
		}
	}

	l.view = v
	l.hasView = true
}

// candidates returns the indexed cells inside v in row-major order,
// walking whichever of the window and the index is smaller.
func (l *LodLevel) candidates(v grid.View) []grid.Cell {
	if v.Len() <= len(l.desc.Tiles) {
		cells := v.Cells()
		return slices.DeleteFunc(cells, func(c grid.Cell) bool {
			_, ok := l.desc.Tiles[c]
			return !ok
		})
	}

	cells := make([]grid.Cell, 0)
	for c := range l.desc.Tiles {
		if v.Contains(c) {
			cells = append(cells, c)
		}
	}
	slices.SortFunc(cells, compareCells)
	return cells
}

// show makes the tile at c visible, creating and loading it on first use.
func (l *LodLevel) show(c grid.Cell) {
	hash, ok := l.desc.Tiles[c]
	if !ok {
		return
	}

	t, ok := l.tiles[c]
	if !ok {
		t = newTile(TileID{LOD: l.index, Cell: c}, hash)
		l.tiles[c] = t
		t.load(l.layer.ctx, l.layer.loader, l.layer.opts.IDProperty, l.fulfilled)
	}

	if l.Active(c) {
		return
	}
	l.seq++
	l.active[c] = l.seq

	if t.Fulfilled() {
		l.register(t)
	}
}

// fulfilled runs once per tile when its data arrives. A tile hidden while
// loading stays unregistered until it is shown again.
func (l *LodLevel) fulfilled(t *Tile) {
	if !l.Active(t.id.Cell) {
		return
	}
	l.register(t)
}

// register claims every feature of t and draws it. Holder order follows
// activation order, so a tile activated earlier outranks one activated
// later even when its data arrives last.
func (l *LodLevel) register(t *Tile) {
	r := l.layer.renderer
	c := t.id.Cell

	for _, id := range t.FeatureIDs() {
		pos := l.holders.claim(id, c, l.rank)
		if pos > 0 {
			t.mask(id, r)
			continue
		}
		t.unmask(id, r)
		if seq := l.holders[id]; len(seq) > 1 {
			l.tiles[seq[1]].mask(id, r)
		}
	}
	t.addTo(r)
}

// hide removes the tile at c from view and hands its features over to the
// next holder where it was canonical.
func (l *LodLevel) hide(c grid.Cell) {
	if !l.Active(c) {
		return
	}

	t := l.tiles[c]
	if t.Fulfilled() {
		r := l.layer.renderer
		t.removeFrom(r)
		for _, id := range t.FeatureIDs() {
			if next, promoted := l.holders.release(id, c); promoted {
				l.tiles[next].unmask(id, r)
			}
		}
	}
	delete(l.active, c)
}

// deactivate tears the level down completely: every visible tile leaves
// the renderer and the active set and registry are emptied. Tiles and
// their data are kept for the next activation.
func (l *LodLevel) deactivate() {
	r := l.layer.renderer
	for _, c := range l.ActiveCells() {
		if t := l.tiles[c]; t.Fulfilled() {
			t.removeFrom(r)
		}
	}
	l.active = make(map[grid.Cell]uint64)
	l.holders = make(registry)
	l.view = grid.View{}
	l.hasView = false
}

func (l *LodLevel) rank(c grid.Cell) uint64 {
	return l.active[c]
}

func compareCells(a, b grid.Cell) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

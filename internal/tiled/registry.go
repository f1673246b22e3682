package tiled

import (
	"slices"
	"sort"

	"github.com/joeblew999/tiledgeojson/internal/dataset"
	"github.com/joeblew999/tiledgeojson/internal/grid"
)

// registry maps a feature id to the visible cells holding it, ordered by
// activation. The first cell is the canonical holder and the only one
// drawing the feature.
type registry map[dataset.FeatureID][]grid.Cell

// claim inserts c into the holders of id at the position given by rank
// and returns that position.
func (r registry) claim(id dataset.FeatureID, c grid.Cell, rank func(grid.Cell) uint64) int {
	seq := r[id]
	k := rank(c)
	i := sort.Search(len(seq), func(i int) bool { return rank(seq[i]) > k })
	r[id] = slices.Insert(seq, i, c)
	return i
}

// release removes c from the holders of id. When c was canonical and
// another holder remains, that holder is returned as the new canonical one.
func (r registry) release(id dataset.FeatureID, c grid.Cell) (grid.Cell, bool) {
	seq := r[id]
	i := slices.Index(seq, c)
	if i < 0 {
		return grid.Cell{}, false
	}
	seq = slices.Delete(seq, i, i+1)
	if len(seq) == 0 {
		delete(r, id)
		return grid.Cell{}, false
	}
	r[id] = seq
	if i == 0 {
		return seq[0], true
	}
	return grid.Cell{}, false
}

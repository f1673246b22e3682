package tiled

import (
	"context"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/tiledgeojson/internal/dataset"
)

type tileState int

const (
	tileIdle tileState = iota
	tileLoading
	tileFulfilled
)

// Tile is the data of one grid cell.
type Tile struct {
	id    TileID
	hash  string
	state tileState

	features []*geojson.Feature
	ids      []dataset.FeatureID // per feature, empty when undefined
	order    []dataset.FeatureID // distinct ids, first appearance order
	byID     map[dataset.FeatureID][]int
	masked   map[dataset.FeatureID][]int

	// shown is true while the tile is in the renderer.
	shown bool
}

func newTile(id TileID, hash string) *Tile {
	return &Tile{
		id:     id,
		hash:   hash,
		byID:   make(map[dataset.FeatureID][]int),
		masked: make(map[dataset.FeatureID][]int),
	}
}

func (t *Tile) ID() TileID      { return t.id }
func (t *Tile) Hash() string    { return t.hash }
func (t *Tile) Fulfilled() bool { return t.state == tileFulfilled }
func (t *Tile) Loading() bool   { return t.state == tileLoading }

// Features returns the parsed features, nil until fulfilled.
func (t *Tile) Features() []*geojson.Feature { return t.features }

// FeatureIDs returns the distinct feature ids of the tile.
func (t *Tile) FeatureIDs() []dataset.FeatureID { return t.order }

// Masked reports whether id is currently suppressed in this tile.
func (t *Tile) Masked(id dataset.FeatureID) bool {
	_, ok := t.masked[id]
	return ok
}

// load starts fetching the tile once. onFulfilled runs on the loop after
// the tile has been parsed.
func (t *Tile) load(ctx context.Context, ld *loader, idProperty string, onFulfilled func(*Tile)) {
	if t.state != tileIdle {
		return
	}
	t.state = tileLoading

	ld.retrieve(ctx, dataset.TilePath(t.hash), func(data []byte) error {
		fc, err := dataset.ParseTile(data)
		if err != nil {
			return err
		}
		t.fulfill(fc, idProperty)
		onFulfilled(t)
		return nil
	})
}

func (t *Tile) fulfill(fc *geojson.FeatureCollection, idProperty string) {
	t.features = fc.Features
	t.ids = make([]dataset.FeatureID, len(fc.Features))
	for i, f := range fc.Features {
		id, ok := dataset.IDOf(f, idProperty)
		if !ok {
			continue
		}
		t.ids[i] = id
		if _, seen := t.byID[id]; !seen {
			t.order = append(t.order, id)
		}
		t.byID[id] = append(t.byID[id], i)
	}
	t.state = tileFulfilled
}

// addTo draws every unmasked feature.
func (t *Tile) addTo(r Renderer) {
	if t.shown {
		return
	}
	t.shown = true
	for i, f := range t.features {
		if t.maskedAt(i) {
			continue
		}
		r.Add(t.id, i, f)
	}
}

// removeFrom erases every drawn feature.
func (t *Tile) removeFrom(r Renderer) {
	if !t.shown {
		return
	}
	t.shown = false
	for i := range t.features {
		if t.maskedAt(i) {
			continue
		}
		r.Remove(t.id, i)
	}
}

func (t *Tile) mask(id dataset.FeatureID, r Renderer) {
	if _, ok := t.masked[id]; ok {
		return
	}
	idx := t.byID[id]
	t.masked[id] = idx
	if t.shown {
		for _, i := range idx {
			r.Remove(t.id, i)
		}
	}
}

func (t *Tile) unmask(id dataset.FeatureID, r Renderer) {
	idx, ok := t.masked[id]
	if !ok {
		return
	}
	delete(t.masked, id)
	if t.shown {
		for _, i := range idx {
			r.Add(t.id, i, t.features[i])
		}
	}
}

func (t *Tile) maskedAt(i int) bool {
	id := t.ids[i]
	if id == "" {
		return false
	}
	_, ok := t.masked[id]
	return ok
}

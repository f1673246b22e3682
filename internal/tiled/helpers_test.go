package tiled

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/joeblew999/tiledgeojson/internal/dataset"
	"github.com/joeblew999/tiledgeojson/internal/loop"
)

// memFetcher serves documents from memory and can fail a name a given
// number of times before succeeding.
type memFetcher struct {
	mu    sync.Mutex
	docs  map[string][]byte
	fails map[string]int
	calls map[string]int
}

func newMemFetcher() *memFetcher {
	return &memFetcher{
		docs:  make(map[string][]byte),
		fails: make(map[string]int),
		calls: make(map[string]int),
	}
}

func (f *memFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[name]++
	if f.fails[name] > 0 {
		f.fails[name]--
		return nil, fmt.Errorf("fetch %s: connection reset", name)
	}
	data, ok := f.docs[name]
	if !ok {
		return nil, fmt.Errorf("fetch %s: not found", name)
	}
	return data, nil
}

func (f *memFetcher) put(name string, data []byte) {
	f.mu.Lock()
	f.docs[name] = data
	f.mu.Unlock()
}

func (f *memFetcher) putMetadata(t *testing.T, m dataset.Metadata) {
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	f.put(dataset.MetadataFile, data)
}

// putTile stores a tile whose features carry the given ids; a nil id
// leaves the feature without one.
func (f *memFetcher) putTile(t *testing.T, hash string, ids ...any) {
	fc := geojson.NewFeatureCollection()
	for i, id := range ids {
		feat := geojson.NewFeature(orb.Point{float64(i), 0})
		feat.ID = id
		feat.Properties["n"] = i
		fc.Append(feat)
	}
	data, err := json.Marshal(fc)
	if err != nil {
		t.Fatal(err)
	}
	f.put(dataset.TilePath(hash), data)
}

func (f *memFetcher) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// recorder is a Renderer that fails the test on inconsistent calls.
type recorder struct {
	t     *testing.T
	drawn map[TileID]map[int]*geojson.Feature
	style map[string]any
}

func (r *recorder) SetStyle(style map[string]any) {
	if r.total() > 0 {
		r.t.Errorf("style set after drawing")
	}
	r.style = style
}

func newRecorder(t *testing.T) *recorder {
	return &recorder{t: t, drawn: make(map[TileID]map[int]*geojson.Feature)}
}

func (r *recorder) Add(tile TileID, index int, f *geojson.Feature) {
	if r.drawn[tile] == nil {
		r.drawn[tile] = make(map[int]*geojson.Feature)
	}
	if _, ok := r.drawn[tile][index]; ok {
		r.t.Errorf("feature %d of %v added twice", index, tile)
	}
	r.drawn[tile][index] = f
}

func (r *recorder) Remove(tile TileID, index int) {
	if _, ok := r.drawn[tile][index]; !ok {
		r.t.Errorf("feature %d of %v removed but not drawn", index, tile)
	}
	delete(r.drawn[tile], index)
	if len(r.drawn[tile]) == 0 {
		delete(r.drawn, tile)
	}
}

// count returns how many drawn features carry id.
func (r *recorder) count(id dataset.FeatureID) int {
	n := 0
	for _, feats := range r.drawn {
		for _, f := range feats {
			if got, ok := dataset.IDOf(f, ""); ok && got == id {
				n++
			}
		}
	}
	return n
}

func (r *recorder) total() int {
	n := 0
	for _, feats := range r.drawn {
		n += len(feats)
	}
	return n
}

func (r *recorder) tiles() []TileID {
	ids := make([]TileID, 0, len(r.drawn))
	for id := range r.drawn {
		ids = append(ids, id)
	}
	return ids
}

func quietLogger() log.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func bound(west, south, east, north float64) orb.Bound {
	return orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}
}

type fixture struct {
	t       *testing.T
	fetcher *memFetcher
	sched   *loop.Manual
	rec     *recorder
	vp      *MemViewport
	layer   *Layer
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		t:       t,
		fetcher: newMemFetcher(),
		sched:   loop.NewManual(),
		rec:     newRecorder(t),
		vp:      NewMemViewport(ViewState{}),
	}
}

// start creates the layer, loads metadata and attaches the viewport.
func (fx *fixture) start(opts Options, state ViewState) {
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	fx.vp.Set(state)
	fx.layer = New(fx.fetcher, fx.sched, fx.rec, opts)
	fx.layer.Attach(fx.vp)
	fx.sched.RunPending()
}

// move sets the viewport and lets every ready callback run.
func (fx *fixture) move(state ViewState) {
	fx.vp.Set(state)
	fx.sched.RunPending()
}

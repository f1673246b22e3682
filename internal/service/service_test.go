package service

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/tiledgeojson/internal/dataset"
	"github.com/joeblew999/tiledgeojson/internal/fetch"
	"github.com/joeblew999/tiledgeojson/internal/tiled"
)

const sourceDoc = `{"type":"FeatureCollection","features":[
	{"type":"Feature","id":"a","properties":{"name":"west"},"geometry":{"type":"Point","coordinates":[5,5]}},
	{"type":"Feature","id":"b","properties":{"name":"east"},"geometry":{"type":"Point","coordinates":[15,5]}},
	{"type":"Feature","properties":{"name":"road"},"geometry":{"type":"LineString","coordinates":[[5,5],[15,5]]}}
]}`

// built writes a source file and builds a two-level dataset from it.
func built(t *testing.T) (string, *DatasetService) {
	t.Helper()
	dataDir := t.TempDir()
	sources := NewSourceService(dataDir)
	require.NoError(t, os.MkdirAll(sources.SourcesDir(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sources.SourcesDir(), "points.geojson"), []byte(sourceDoc), 0644))

	ds := NewDatasetService(dataDir)
	b := NewBuilderService(dataDir, sources, ds.Dir())

	var last int
	res, err := b.Build(context.Background(), BuildOptions{
		SourceFile: "points.geojson",
		LODs:       []LODSpec{{MaxZoom: 4, Resolution: 10}, {MaxZoom: 2, Resolution: 100}},
		Origin:     &[2]float64{0, 0},
	}, func(p int, _ string) { last = p })
	require.NoError(t, err)
	assert.Equal(t, 100, last)
	assert.Equal(t, 3, res.Features)
	require.Len(t, res.LODs, 2)
	assert.Equal(t, 2, res.LODs[0].Tiles)
	return dataDir, ds
}

func TestBuilderWritesDataset(t *testing.T) {
	_, ds := built(t)

	meta, err := ds.Metadata()
	require.NoError(t, err)
	assert.Len(t, meta.LODs, 2)

	for _, hash := range meta.Hashes() {
		doc, err := ds.TileDocument(hash)
		require.NoError(t, err)
		_, err = dataset.ParseTile(doc)
		assert.NoError(t, err)
	}

	m, err := ReadManifest(ds.Dir())
	require.NoError(t, err)
	assert.Equal(t, "points.geojson", m.Source)
	assert.Equal(t, 3, m.Features)
	assert.Len(t, m.LODs, 2)

	info, err := ds.Info()
	require.NoError(t, err)
	assert.Equal(t, len(meta.Hashes()), info.Files)
	assert.Equal(t, [2]float64{0, 0}, info.Origin)
}

func TestBuilderRejectsBadSource(t *testing.T) {
	dataDir := t.TempDir()
	sources := NewSourceService(dataDir)
	b := NewBuilderService(dataDir, sources, filepath.Join(dataDir, "dataset"))

	for _, name := range []string{"", "../x.geojson", "a/b.geojson", "notes.txt", "missing.geojson"} {
		_, err := b.Build(context.Background(), BuildOptions{SourceFile: name, LODs: []LODSpec{{Resolution: 1}}}, nil)
		assert.Error(t, err, name)
	}
}

func TestSourceList(t *testing.T) {
	dataDir := t.TempDir()
	sources := NewSourceService(dataDir)

	files, err := sources.List()
	require.NoError(t, err)
	assert.Empty(t, files)

	require.NoError(t, os.MkdirAll(sources.SourcesDir(), 0755))
	for _, name := range []string{"a.geojson", "b.gpkg", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(sources.SourcesDir(), name), []byte("{}"), 0644))
	}
	files, err = sources.List()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "GeoJSON", files[0].FileType)
	assert.Equal(t, "GeoPackage", files[1].FileType)
}

func TestDatasetServiceErrors(t *testing.T) {
	ds := NewDatasetService(t.TempDir())

	_, err := ds.Metadata()
	assert.ErrorIs(t, err, ErrNoDataset)

	_, err = ds.TileDocument("../secret")
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = ds.TileDocument("abc123")
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.True(t, ValidHash("a-b_C9"))
	assert.False(t, ValidHash("a.b"))
	assert.False(t, ValidHash(""))
}

func TestSessionLifecycle(t *testing.T) {
	_, ds := built(t)
	ctx := context.Background()

	sessions := NewSessionService(ds.Fetcher(), tiled.Options{RetryBase: 10 * time.Millisecond})
	sess, err := sessions.Create(SessionConfig{
		Viewport: Viewport{West: 0, South: 0, East: 9, North: 9, Zoom: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{sess.ID}, sessions.List())

	sub, drawn, err := sess.Subscribe(ctx)
	require.NoError(t, err)
	defer sess.Unsubscribe(sub)
	assert.Empty(t, drawn)
	events := sub.Events()

	// only cell (0,0) is visible: point a and the road
	require.Eventually(t, func() bool {
		st, err := sess.State(ctx)
		return err == nil && st.Ready && len(st.Loading) == 0 && st.Features == 2
	}, 5*time.Second, 10*time.Millisecond)

	st, err := sess.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.LOD)
	assert.Equal(t, []string{"0,0"}, st.ActiveCells)
	assert.Equal(t, 10.0, st.Resolution)

	// both cells: the road is shared but drawn once
	require.NoError(t, sess.SetViewport(Viewport{West: 0, South: 0, East: 15, North: 9, Zoom: 3}))
	require.Eventually(t, func() bool {
		st, err := sess.State(ctx)
		return err == nil && len(st.ActiveCells) == 2 && len(st.Loading) == 0 && st.Features == 3
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, sess.FeatureCollection().Features, 3)

	// zooming out switches to the coarse level, one tile with everything
	require.NoError(t, sess.SetViewport(Viewport{West: 0, South: 0, East: 15, North: 9, Zoom: 1}))
	require.Eventually(t, func() bool {
		st, err := sess.State(ctx)
		return err == nil && st.LOD == 1 && len(st.Loading) == 0 && st.Features == 3
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case e := <-events:
		assert.Contains(t, []string{"add", "remove"}, e.Action)
	case <-time.After(time.Second):
		t.Fatal("no render events")
	}

	require.NoError(t, sessions.Delete(ctx, sess.ID))
	_, err = sessions.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, sessions.Delete(ctx, sess.ID), ErrSessionNotFound)
}

func TestSessionOverrides(t *testing.T) {
	_, ds := built(t)

	sessions := NewSessionService(ds.Fetcher(), tiled.Options{Style: map[string]any{"color": "red"}})
	defer sessions.Close(context.Background())

	sess, err := sessions.Create(SessionConfig{
		Style:    map[string]any{"color": "blue"},
		Viewport: Viewport{East: 1, North: 1, Zoom: 20},
	})
	require.NoError(t, err)

	st, err := sess.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "blue", st.Style["color"])
	assert.Equal(t, 1.0, st.Viewport.East)
	assert.Equal(t, 20.0, st.Viewport.Zoom)
}

func TestParseLODs(t *testing.T) {
	lods, err := ParseLODs("8:1, 12:0.1")
	require.NoError(t, err)
	assert.Equal(t, []LODSpec{{MaxZoom: 8, Resolution: 1}, {MaxZoom: 12, Resolution: 0.1}}, lods)

	for _, bad := range []string{"", "8", "8:0", "x:1"} {
		_, err := ParseLODs(bad)
		assert.Error(t, err, bad)
	}
}

func TestViewportValidate(t *testing.T) {
	assert.NoError(t, Viewport{West: -10, South: -10, East: 10, North: 10, Zoom: 3}.Validate())

	tests := []Viewport{
		{West: -2e9, South: -2e9, East: 2e9, North: 2e9, Zoom: 3},
		{West: 10, East: 0, North: 1, Zoom: 3},
		{East: 1, North: 1, Zoom: -1},
		{East: 1, North: 1, Zoom: 31},
		{West: math.NaN(), East: 1, North: 1},
	}
	for _, vp := range tests {
		assert.ErrorIs(t, vp.Validate(), ErrBadViewport, "%+v", vp)
	}

	sessions := NewSessionService(fetch.NewDirFetcher(t.TempDir()), tiled.Options{})
	_, err := sessions.Create(SessionConfig{Viewport: tests[0]})
	assert.ErrorIs(t, err, ErrBadViewport)
	assert.Empty(t, sessions.List())
}

// manyPoints returns a collection of n points spread inside cell (0,0) of a
// resolution-10 grid.
func manyPoints(n int) string {
	var b strings.Builder
	b.WriteString(`{"type":"FeatureCollection","features":[`)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"type":"Feature","id":"p%d","properties":{},"geometry":{"type":"Point","coordinates":[%g,5]}}`,
			i, 1+8*float64(i)/float64(n))
	}
	b.WriteString(`]}`)
	return b.String()
}

func TestSubscriberResyncAfterOverflow(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	sources := NewSourceService(dataDir)
	require.NoError(t, os.MkdirAll(sources.SourcesDir(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sources.SourcesDir(), "many.geojson"), []byte(manyPoints(300)), 0644))
	ds := NewDatasetService(dataDir)
	_, err := NewBuilderService(dataDir, sources, ds.Dir()).Build(ctx, BuildOptions{
		SourceFile: "many.geojson",
		LODs:       []LODSpec{{MaxZoom: 10, Resolution: 10}},
		Origin:     &[2]float64{0, 0},
	}, nil)
	require.NoError(t, err)

	sessions := NewSessionService(ds.Fetcher(), tiled.Options{})
	defer sessions.Close(ctx)
	away := Viewport{West: 50, South: 50, East: 51, North: 51, Zoom: 3}
	sess, err := sessions.Create(SessionConfig{Viewport: away})
	require.NoError(t, err)

	// nobody reads sub while 300 features are drawn
	sub, drawn, err := sess.Subscribe(ctx)
	require.NoError(t, err)
	defer sess.Unsubscribe(sub)
	assert.Empty(t, drawn)

	require.NoError(t, sess.SetViewport(Viewport{West: 0, South: 0, East: 9, North: 9, Zoom: 3}))
	require.Eventually(t, func() bool { return len(sess.Drawn()) == 300 }, 5*time.Second, 10*time.Millisecond)
	require.True(t, sub.Overflowed())

	drawn, err = sess.Resync(ctx, sub)
	require.NoError(t, err)
	assert.ElementsMatch(t, sess.Drawn(), drawn)
	assert.False(t, sub.Overflowed())
	assert.Empty(t, sub.Events())

	// the removals overflow again and the next snapshot is empty
	require.NoError(t, sess.SetViewport(away))
	require.NoError(t, sess.Sync(ctx))
	require.True(t, sub.Overflowed())
	drawn, err = sess.Resync(ctx, sub)
	require.NoError(t, err)
	assert.Empty(t, drawn)
	assert.Empty(t, sess.Drawn())
}

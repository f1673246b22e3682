package viewer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/tiledgeojson/internal/render"
	"github.com/joeblew999/tiledgeojson/internal/service"
	"github.com/joeblew999/tiledgeojson/internal/templates"
	"github.com/joeblew999/tiledgeojson/internal/tiled"
)

func TestSignalsViewport(t *testing.T) {
	s, err := ParseSignals([]byte(`{"west":0,"south":"1.5","east":10,"north":9,"zoom":3,"hidpi":true}`))
	require.NoError(t, err)

	vp, err := s.Viewport()
	require.NoError(t, err)
	assert.Equal(t, service.Viewport{West: 0, South: 1.5, East: 10, North: 9, Zoom: 3, HighDensity: true}, vp)

	s, _ = ParseSignals([]byte(`{"west":0,"south":0,"east":10}`))
	_, err = s.Viewport()
	assert.ErrorContains(t, err, "north")

	s, _ = ParseSignals([]byte(`{"west":10,"south":0,"east":0,"north":1,"zoom":1}`))
	_, err = s.Viewport()
	assert.ErrorIs(t, err, service.ErrBadViewport)

	s, _ = ParseSignals([]byte(`{"west":-2e9,"south":-2e9,"east":2e9,"north":2e9,"zoom":3}`))
	_, err = s.Viewport()
	assert.ErrorIs(t, err, service.ErrBadViewport)

	_, err = ParseSignals([]byte(`not json`))
	assert.Error(t, err)
}

func TestFeatureKey(t *testing.T) {
	assert.Equal(t, "feature-1_-2_3_0", featureKey(1, -2, 3, 0))
}

type fixture struct {
	mux      *http.ServeMux
	sessions *service.SessionService
	sess     *service.Session
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t,
		`{"type":"FeatureCollection","features":[{"type":"Feature","id":"a","properties":{},"geometry":{"type":"Point","coordinates":[5,5]}}]}`)
}

// newFixtureWith builds a resolution-10 dataset from doc and opens a
// session looking at cell (0,0).
func newFixtureWith(t *testing.T, doc string) *fixture {
	t.Helper()
	dataDir := t.TempDir()
	sources := service.NewSourceService(dataDir)
	require.NoError(t, os.MkdirAll(sources.SourcesDir(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sources.SourcesDir(), "p.geojson"), []byte(doc), 0644))

	ds := service.NewDatasetService(dataDir)
	builder := service.NewBuilderService(dataDir, sources, ds.Dir())
	_, err := builder.Build(context.Background(), service.BuildOptions{
		SourceFile: "p.geojson",
		LODs:       []service.LODSpec{{MaxZoom: 10, Resolution: 10}},
		Origin:     &[2]float64{0, 0},
	}, nil)
	require.NoError(t, err)

	sessions := service.NewSessionService(ds.Fetcher(), tiled.Options{})
	t.Cleanup(func() { sessions.Close(context.Background()) })
	sess, err := sessions.Create(service.SessionConfig{Viewport: service.Viewport{East: 1, North: 1, Zoom: 5}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, err := sess.State(context.Background())
		return err == nil && st.Ready
	}, 5*time.Second, 10*time.Millisecond)

	renderer, err := templates.New()
	require.NoError(t, err)

	mux := http.NewServeMux()
	api := humago.New(mux, huma.DefaultConfig("test", "1.0.0"))
	NewHandler(sessions, builder, renderer).RegisterRoutes(api)
	return &fixture{mux: mux, sessions: sessions, sess: sess}
}

func (f *fixture) post(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestViewportStreamsState(t *testing.T) {
	f := newFixture(t)

	rec := f.post("/api/v1/viewer/"+f.sess.ID+"/viewport", `{"west":0,"south":0,"east":9,"north":9,"zoom":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "datastar-patch-signals")
	assert.Contains(t, rec.Body.String(), `"cells":1`)

	assert.Equal(t, http.StatusBadRequest, f.post("/api/v1/viewer/"+f.sess.ID+"/viewport", `{"west":0}`).Code)
	assert.Equal(t, http.StatusNotFound, f.post("/api/v1/viewer/nope/viewport", `{"west":0,"south":0,"east":9,"north":9,"zoom":5}`).Code)
}

func TestEventsReplayDrawnFeatures(t *testing.T) {
	f := newFixture(t)
	require.Eventually(t, func() bool { return len(f.sess.Drawn()) == 1 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/viewer/"+f.sess.ID+"/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		f.mux.ServeHTTP(rec, req)
		close(done)
	}()

	// deleting the session closes the bus, which ends the stream
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, f.sessions.Delete(context.Background(), f.sess.ID))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("stream did not end")
	}
	cancel()

	body := rec.Body.String()
	assert.Contains(t, body, "datastar-patch-elements")
	assert.Contains(t, body, "feature-0_0_0_0")
	assert.Contains(t, body, `"closed":true`)
}

// featureList mirrors the #features element of a browser following the
// event stream.
type featureList struct {
	mu    sync.Mutex
	keys  map[string]bool
	dupes int
}

var itemID = regexp.MustCompile(`id="(feature-[^"]+)"`)

func (l *featureList) follow(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	var data []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			l.apply(data)
			data = nil
			continue
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = append(data, v)
		}
	}
}

func (l *featureList) apply(data []string) {
	var mode, selector string
	var elements strings.Builder
	for _, d := range data {
		if v, ok := strings.CutPrefix(d, "mode "); ok {
			mode = v
		} else if v, ok := strings.CutPrefix(d, "selector "); ok {
			selector = v
		} else if v, ok := strings.CutPrefix(d, "elements "); ok {
			elements.WriteString(v)
		}
	}
	ids := itemID.FindAllStringSubmatch(elements.String(), -1)

	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case selector == "#features" && mode == "inner":
		l.keys = make(map[string]bool)
		fallthrough
	case selector == "#features" && mode == "append":
		for _, m := range ids {
			if l.keys[m[1]] {
				l.dupes++
			}
			l.keys[m[1]] = true
		}
	case mode == "remove":
		delete(l.keys, strings.TrimPrefix(selector, "#"))
	}
}

func (l *featureList) matches(drawn []render.Drawn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.keys) != len(drawn) {
		return false
	}
	for _, d := range drawn {
		if !l.keys[featureKey(d.Tile.LOD, d.Tile.Cell.X, d.Tile.Cell.Y, d.Index)] {
			return false
		}
	}
	return true
}

// manyPoints returns n points inside cell (1,0) of a resolution-10 grid.
func manyPoints(n int) string {
	var b strings.Builder
	b.WriteString(`{"type":"FeatureCollection","features":[`)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"type":"Feature","id":"p%d","properties":{},"geometry":{"type":"Point","coordinates":[%g,5]}}`,
			i, 11+8*float64(i)/float64(n))
	}
	b.WriteString(`]}`)
	return b.String()
}

func TestEventsClientFollowsBursts(t *testing.T) {
	f := newFixtureWith(t, manyPoints(render.SubscriberBuffer+44))
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/viewer/"+f.sess.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	list := &featureList{keys: make(map[string]bool)}
	go list.follow(resp.Body)

	settled := func(want int) func() bool {
		return func() bool {
			drawn := f.sess.Drawn()
			return len(drawn) == want && list.matches(drawn)
		}
	}
	require.Eventually(t, settled(0), 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.sess.SetViewport(service.Viewport{West: 10, South: 0, East: 19, North: 9, Zoom: 5}))
	require.Eventually(t, settled(render.SubscriberBuffer+44), 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.sess.SetViewport(service.Viewport{West: 0, South: 0, East: 1, North: 1, Zoom: 5}))
	require.Eventually(t, settled(0), 5*time.Second, 10*time.Millisecond)

	list.mu.Lock()
	defer list.mu.Unlock()
	assert.Zero(t, list.dupes)
}

func TestBuildStreamsProgress(t *testing.T) {
	f := newFixture(t)

	rec := f.post("/api/v1/viewer/build", `{"sourcefile":"p.geojson","lods":"4:100"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "buildProgress")
	assert.Contains(t, rec.Body.String(), "Built 1 tile documents from 1 features")

	assert.Equal(t, http.StatusBadRequest, f.post("/api/v1/viewer/build", `{"lods":"4:100"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/v1/viewer/build", `{"sourcefile":"p.geojson","lods":""}`).Code)
}

package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	log "github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"github.com/joeblew999/tiledgeojson/internal/dataset"
	"github.com/joeblew999/tiledgeojson/internal/fetch"
	"github.com/joeblew999/tiledgeojson/internal/loop"
	"github.com/joeblew999/tiledgeojson/internal/render"
	"github.com/joeblew999/tiledgeojson/internal/tiled"
)

// Session is one server-side viewer: a layer running on its own loop,
// moved by a viewport and drawing into an in-memory set.
type Session struct {
	ID      string
	Created time.Time

	loop     *loop.Loop
	stop     context.CancelFunc
	layer    *tiled.Layer
	viewport *tiled.MemViewport
	set      *render.Set
	bus      *render.Bus
	idProp   string
}

// SessionService manages viewer sessions.
type SessionService struct {
	fetcher  fetch.Fetcher
	defaults tiled.Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionService creates a session service. Sessions without their own
// endpoint read through fetcher; defaults seeds every session's options.
func NewSessionService(fetcher fetch.Fetcher, defaults tiled.Options) *SessionService {
	return &SessionService{
		fetcher:  fetcher,
		defaults: defaults,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session.
func (s *SessionService) Create(cfg SessionConfig) (*Session, error) {
	if err := cfg.Viewport.Validate(); err != nil {
		return nil, err
	}
	id, err := shortid.Generate()
	if err != nil {
		return nil, err
	}

	opts := s.defaults
	opts.Retina = opts.Retina || cfg.Retina
	if cfg.IDProperty != "" {
		opts.IDProperty = cfg.IDProperty
	}
	if cfg.Style != nil {
		opts.Style = cfg.Style
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	opts.Logger = logger.WithField("session", id)

	fetcher := s.fetcher
	if cfg.Endpoint != "" {
		fetcher = fetch.NewHTTPFetcher(cfg.Endpoint, nil)
	}

	ctx, stop := context.WithCancel(context.Background())
	sess := &Session{
		ID:       id,
		Created:  time.Now(),
		loop:     loop.New(),
		stop:     stop,
		viewport: tiled.NewMemViewport(viewState(cfg.Viewport)),
		set:      render.NewSet(opts.IDProperty),
		bus:      render.NewBus(),
		idProp:   opts.IDProperty,
	}
	go sess.loop.Run(ctx)

	renderer := render.Tee{sess.set, render.Publisher{Bus: sess.bus}}
	err = sess.loop.Do(ctx, func() {
		sess.layer = tiled.New(fetcher, sess.loop, renderer, opts)
		sess.layer.Attach(sess.viewport)
	})
	if err != nil {
		stop()
		return nil, err
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	opts.Logger.Info("session created")
	return sess, nil
}

// Get returns the session with id.
func (s *SessionService) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// List returns all session ids, sorted.
func (s *SessionService) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delete closes the session and forgets it.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return sess.close(ctx)
}

// Close closes every session.
func (s *SessionService) Close(ctx context.Context) error {
	var errs []error
	for _, id := range s.List() {
		if err := s.Delete(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetViewport moves the session's viewport. The layer catches up on its
// loop.
func (sess *Session) SetViewport(vp Viewport) error {
	if err := vp.Validate(); err != nil {
		return err
	}
	sess.viewport.Set(viewState(vp))
	return nil
}

// Viewport returns the current viewport.
func (sess *Session) Viewport() Viewport {
	st := sess.viewport.State()
	return Viewport{
		West:        st.Bounds.Left(),
		South:       st.Bounds.Bottom(),
		East:        st.Bounds.Right(),
		North:       st.Bounds.Top(),
		Zoom:        st.Zoom,
		HighDensity: st.HighDensity,
	}
}

// Reload refetches the dataset metadata.
func (sess *Session) Reload(ctx context.Context) error {
	return sess.loop.Do(ctx, sess.layer.Reload)
}

// Sync waits until the loop has handled everything posted before it.
func (sess *Session) Sync(ctx context.Context) error {
	return sess.loop.Do(ctx, func() {})
}

// State reads a snapshot of the layer on its loop.
func (sess *Session) State(ctx context.Context) (SessionState, error) {
	st := SessionState{
		ID:          sess.ID,
		LOD:         -1,
		ActiveCells: []string{},
		Loading:     []string{},
		Viewport:    sess.Viewport(),
		Style:       sess.set.Style(),
	}
	err := sess.loop.Do(ctx, func() {
		st.Ready = sess.layer.Ready()
		lod := sess.layer.ActiveLOD()
		if lod == nil {
			return
		}
		st.LOD = lod.Index()
		st.MaxZoom = lod.MaxZoom()
		st.Resolution = lod.Resolution()
		st.Holders = lod.HolderCount()
		for _, c := range lod.ActiveCells() {
			st.ActiveCells = append(st.ActiveCells, c.String())
			if t := lod.Tile(c); t != nil && !t.Fulfilled() {
				st.Loading = append(st.Loading, c.String())
			}
		}
	})
	if err != nil {
		return SessionState{}, err
	}
	st.Features = sess.set.Len()
	return st, nil
}

// Drawn returns every feature the session currently draws.
func (sess *Session) Drawn() []render.Drawn {
	return sess.set.Snapshot()
}

// FeatureCollection returns the drawn features as one collection.
func (sess *Session) FeatureCollection() *geojson.FeatureCollection {
	return sess.set.FeatureCollection()
}

// FeatureID returns the identifier the session deduplicates f by, or ""
// when it has none.
func (sess *Session) FeatureID(f *geojson.Feature) string {
	id, _ := dataset.IDOf(f, sess.idProp)
	return string(id)
}

// Subscribe starts following render events and returns what is drawn at
// that moment. Both happen on the loop, so every event on the subscription
// comes after the snapshot.
func (sess *Session) Subscribe(ctx context.Context) (*render.Subscription, []render.Drawn, error) {
	var (
		sub   *render.Subscription
		drawn []render.Drawn
	)
	err := sess.loop.Do(ctx, func() {
		sub = sess.bus.Subscribe()
		drawn = sess.set.Snapshot()
	})
	if err != nil {
		return nil, nil, err
	}
	return sub, drawn, nil
}

// Resync drops whatever sub still has buffered and returns a fresh
// snapshot to rebuild from. Use it once sub has overflowed.
func (sess *Session) Resync(ctx context.Context, sub *render.Subscription) ([]render.Drawn, error) {
	var drawn []render.Drawn
	err := sess.loop.Do(ctx, func() {
		sub.Reset()
		drawn = sess.set.Snapshot()
	})
	return drawn, err
}

// Unsubscribe stops sub.
func (sess *Session) Unsubscribe(sub *render.Subscription) {
	sess.bus.Unsubscribe(sub)
}

func (sess *Session) close(ctx context.Context) error {
	err := sess.loop.Do(ctx, sess.layer.Close)
	sess.stop()
	sess.bus.Close()
	return err
}

func viewState(vp Viewport) tiled.ViewState {
	return tiled.ViewState{
		Bounds: orb.Bound{
			Min: orb.Point{vp.West, vp.South},
			Max: orb.Point{vp.East, vp.North},
		},
		Zoom:        vp.Zoom,
		HighDensity: vp.HighDensity,
	}
}

package tiled

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/joeblew999/tiledgeojson/internal/dataset"
	"github.com/joeblew999/tiledgeojson/internal/fetch"
	"github.com/joeblew999/tiledgeojson/internal/loop"
)

// DefaultRetryBase is the first retry delay after a failed fetch.
const DefaultRetryBase = 500 * time.Millisecond

// Options configures a Layer.
type Options struct {
	// Retina raises the effective zoom by one on high-density displays.
	Retina bool
	// RetryBase is the first retry delay; zero means DefaultRetryBase.
	RetryBase time.Duration
	// IDProperty names the feature property holding the feature id.
	// Empty uses the GeoJSON "id" member.
	IDProperty string
	// Style is given untouched to a renderer implementing Styler.
	Style map[string]any
	// Logger defaults to the standard logrus logger.
	Logger log.FieldLogger
}

// Layer renders a tiled dataset into a Renderer as a Viewport moves.
type Layer struct {
	opts     Options
	loader   *loader
	sched    loop.Scheduler
	renderer Renderer
	log      log.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	meta       *dataset.Metadata
	lods       []*LodLevel
	active     *LodLevel
	generation int

	viewport    Viewport
	unsubscribe func()
}

// New creates a layer over the dataset served by fetcher and starts
// loading its metadata. All callbacks run on sched.
func New(fetcher fetch.Fetcher, sched loop.Scheduler, renderer Renderer, opts Options) *Layer {
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	logger := opts.Logger.WithField("component", "tiled")

	ctx, cancel := context.WithCancel(context.Background())
	l := &Layer{
		opts: opts,
		loader: &loader{
			fetcher:   fetcher,
			sched:     sched,
			retryBase: opts.RetryBase,
			log:       logger,
		},
		sched:    sched,
		renderer: renderer,
		log:      logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	if s, ok := renderer.(Styler); ok {
		s.SetStyle(opts.Style)
	}
	l.loadMetadata()
	return l
}

// Options returns the options the layer was created with.
func (l *Layer) Options() Options { return l.opts }

// Metadata returns the loaded metadata, nil while loading.
func (l *Layer) Metadata() *dataset.Metadata { return l.meta }

// Ready reports whether metadata has been loaded.
func (l *Layer) Ready() bool { return l.meta != nil }

// LODs returns one level per metadata LOD descriptor, in metadata order.
func (l *Layer) LODs() []*LodLevel { return l.lods }

// ActiveLOD returns the level currently in use, or nil.
func (l *Layer) ActiveLOD() *LodLevel { return l.active }

// Attach subscribes to viewport changes and renders the current view.
func (l *Layer) Attach(vp Viewport) {
	if l.viewport != nil {
		l.Detach()
	}
	l.viewport = vp
	l.unsubscribe = vp.OnChange(func() { l.sched.Post(l.Update) })
	l.Update()
}

// Detach drops the viewport subscription and clears everything drawn.
func (l *Layer) Detach() {
	if l.unsubscribe != nil {
		l.unsubscribe()
		l.unsubscribe = nil
	}
	l.viewport = nil
	l.deactivate()
}

// Update selects the level of detail for the current zoom, switching
// levels if needed, and updates its visible tiles.
func (l *Layer) Update() {
	if l.viewport == nil || len(l.lods) == 0 {
		return
	}

	z := l.viewport.Zoom()
	if l.opts.Retina && l.viewport.HighDensity() {
		z++
	}

	next := l.lods[SelectLOD(l.maxZooms(), z)]
	if next != l.active {
		l.deactivate()
		l.active = next
		l.log.WithFields(log.Fields{
			"lod":     next.index,
			"zoom":    z,
			"maxZoom": next.desc.MaxZoom,
		}).Debug("switched level of detail")
	}
	l.active.update(l.viewport.Bounds())
}

// Reload tears down the active level and fetches the metadata again.
func (l *Layer) Reload() {
	l.deactivate()
	l.meta = nil
	l.lods = nil
	l.loadMetadata()
}

// Close detaches the layer and abandons every pending fetch and retry.
func (l *Layer) Close() {
	l.cancel()
	l.Detach()
}

func (l *Layer) deactivate() {
	if l.active == nil {
		return
	}
	l.active.deactivate()
	l.active = nil
}

func (l *Layer) loadMetadata() {
	l.generation++
	gen := l.generation

	l.loader.retrieve(l.ctx, dataset.MetadataFile, func(data []byte) error {
		meta, err := dataset.ParseMetadata(data)
		if err != nil {
			return err
		}
		if gen != l.generation {
			return nil
		}
		l.setMetadata(meta)
		return nil
	})
}

func (l *Layer) setMetadata(meta *dataset.Metadata) {
	l.meta = meta
	l.lods = make([]*LodLevel, len(meta.LODs))
	for i, desc := range meta.LODs {
		l.lods[i] = newLodLevel(l, i, meta.Origin, desc)
	}
	l.log.WithField("lods", len(l.lods)).Info("metadata loaded")

	if l.viewport != nil {
		l.Update()
	}
}

func (l *Layer) maxZooms() []float64 {
	zs := make([]float64, len(l.lods))
	for i, lod := range l.lods {
		zs[i] = lod.desc.MaxZoom
	}
	return zs
}

// SelectLOD returns the index of the level to use at zoom z: the smallest
// max zoom that is still >= z, or, when z exceeds them all, the largest
// max zoom. Among equal max zooms the first listed wins. maxZooms must
// not be empty.
func SelectLOD(maxZooms []float64, z float64) int {
	best := -1
	for i, mz := range maxZooms {
		if mz >= z && (best < 0 || mz < maxZooms[best]) {
			best = i
		}
	}
	if best >= 0 {
		return best
	}

	best = 0
	for i, mz := range maxZooms {
		if mz > maxZooms[best] {
			best = i
		}
	}
	return best
}

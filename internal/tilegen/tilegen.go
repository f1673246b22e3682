// Package tilegen cuts a GeoJSON feature collection into a tiled GeoJSON
// dataset.
//
// Every feature is copied into each grid cell its geometry touches, at
// every level of detail. Cells are written as standalone FeatureCollection
// documents named by the SHA-1 of their content, so identical cells share
// one document.
package tilegen

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/joeblew999/tiledgeojson/internal/dataset"
	"github.com/joeblew999/tiledgeojson/internal/grid"
)

// DefaultMaxCells caps how many cells one feature may span per level.
const DefaultMaxCells = 1 << 16

// ErrTooManyCells is returned when a feature spans more than MaxCells.
var ErrTooManyCells = errors.New("feature spans too many cells")

// Level is one level of detail to cut.
type Level struct {
	MaxZoom    float64
	Resolution float64
}

// Config controls a build.
type Config struct {
	Origin orb.Point
	Levels []Level
	// IDPrefix names generated ids, "<prefix>-<index>", for features
	// without one.
	IDPrefix string
	// IDProperty, when set, is the property ids are read from and
	// written to instead of the GeoJSON id.
	IDProperty string
	MaxCells   int
}

// Result is a built dataset held in memory.
type Result struct {
	Metadata dataset.Metadata
	// Documents maps content hash to tile document.
	Documents map[string][]byte
}

// ProgressFunc receives the number of features processed so far.
type ProgressFunc func(done, total int)

// Build cuts fc into tiles. Features without an id are assigned one so
// that copies in neighbouring cells can be deduplicated by readers.
func Build(fc *geojson.FeatureCollection, cfg Config, progress ProgressFunc) (*Result, error) {
	if len(cfg.Levels) == 0 {
		return nil, dataset.ErrNoLODs
	}
	for _, lv := range cfg.Levels {
		if !(lv.Resolution > 0) || math.IsInf(lv.Resolution, 0) {
			return nil, fmt.Errorf("%w: %v", dataset.ErrBadResolution, lv.Resolution)
		}
	}
	if cfg.MaxCells <= 0 {
		cfg.MaxCells = DefaultMaxCells
	}
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = "feature"
	}

	assignIDs(fc, cfg)

	cells := make([]map[grid.Cell][]*geojson.Feature, len(cfg.Levels))
	for i := range cells {
		cells[i] = make(map[grid.Cell][]*geojson.Feature)
	}

	for n, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		for i, lv := range cfg.Levels {
			touched, err := CellsFor(f.Geometry, lv.Resolution, cfg.Origin, cfg.MaxCells)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", n, err)
			}
			for _, c := range touched {
				cells[i][c] = append(cells[i][c], f)
			}
		}
		if progress != nil {
			progress(n+1, len(fc.Features))
		}
	}

	res := &Result{
		Metadata:  dataset.Metadata{Origin: cfg.Origin, LODs: make([]dataset.LOD, len(cfg.Levels))},
		Documents: make(map[string][]byte),
	}
	for i, lv := range cfg.Levels {
		lod := dataset.LOD{
			MaxZoom:    lv.MaxZoom,
			Resolution: lv.Resolution,
			Tiles:      make(map[grid.Cell]string, len(cells[i])),
		}
		for c, feats := range cells[i] {
			doc, err := encode(feats)
			if err != nil {
				return nil, fmt.Errorf("encoding cell %s: %w", c, err)
			}
			hash := Hash(doc)
			res.Documents[hash] = doc
			lod.Tiles[c] = hash
		}
		res.Metadata.LODs[i] = lod
	}
	return res, nil
}

// Hash names a tile document by its content.
func Hash(doc []byte) string {
	sum := sha1.Sum(doc)
	return hex.EncodeToString(sum[:])
}

// CellsFor returns the cells, in row-major order, that geom touches on the
// grid of cell size res anchored at origin.
func CellsFor(geom orb.Geometry, res float64, origin orb.Point, maxCells int) ([]grid.Cell, error) {
	bound := geom.Bound()
	v := grid.Compute(res, origin, bound)
	// a degenerate bound on a cell edge still belongs to one cell
	if v.StepsX == 0 {
		v.StepsX = 1
	}
	if v.StepsY == 0 {
		v.StepsY = 1
	}
	if maxCells > 0 && v.Len() > maxCells {
		return nil, fmt.Errorf("%w: %d", ErrTooManyCells, v.Len())
	}

	var out []grid.Cell
	for _, c := range v.Cells() {
		if intersects(geom, c.Bound(res, origin)) {
			out = append(out, c)
		}
	}
	return out, nil
}

// intersects reports whether geom touches a cell. Bounds are checked
// first; polygons are refined so that cells inside a polygon's bound but
// outside its rings are skipped.
func intersects(geom orb.Geometry, cell orb.Bound) bool {
	if !geom.Bound().Intersects(cell) {
		return false
	}

	switch g := geom.(type) {
	case orb.Point:
		return cell.Contains(g)

	case orb.MultiPoint:
		for _, p := range g {
			if cell.Contains(p) {
				return true
			}
		}
		return false

	case orb.Polygon:
		for _, ring := range g {
			for _, p := range ring {
				if cell.Contains(p) {
					return true
				}
			}
		}
		corners := []orb.Point{
			cell.Min,
			{cell.Max[0], cell.Min[1]},
			cell.Max,
			{cell.Min[0], cell.Max[1]},
			cell.Center(),
		}
		for _, p := range corners {
			if planar.PolygonContains(g, p) {
				return true
			}
		}
		return edgesCross(g, cell)

	case orb.MultiPolygon:
		for _, poly := range g {
			if intersects(poly, cell) {
				return true
			}
		}
		return false

	case orb.MultiLineString:
		for _, ls := range g {
			if intersects(ls, cell) {
				return true
			}
		}
		return false

	case orb.Collection:
		for _, part := range g {
			if intersects(part, cell) {
				return true
			}
		}
		return false

	default:
		// line strings and anything else keep the bound test
		return true
	}
}

// edgesCross catches a polygon that crosses a cell without having a
// vertex inside it or containing one of its corners.
func edgesCross(poly orb.Polygon, cell orb.Bound) bool {
	for _, ring := range poly {
		for i := 1; i < len(ring); i++ {
			seg := orb.LineString{ring[i-1], ring[i]}
			if seg.Bound().Intersects(cell) && segmentCrossesBound(ring[i-1], ring[i], cell) {
				return true
			}
		}
	}
	return false
}

func segmentCrossesBound(a, b orb.Point, cell orb.Bound) bool {
	// Liang-Barsky clip of segment ab against the cell
	t0, t1 := 0.0, 1.0
	dx, dy := b[0]-a[0], b[1]-a[1]
	checks := [4][2]float64{
		{-dx, a[0] - cell.Min[0]},
		{dx, cell.Max[0] - a[0]},
		{-dy, a[1] - cell.Min[1]},
		{dy, cell.Max[1] - a[1]},
	}
	for _, pq := range checks {
		p, q := pq[0], pq[1]
		if p == 0 {
			if q < 0 {
				return false
			}
			continue
		}
		r := q / p
		if p < 0 {
			if r > t1 {
				return false
			}
			t0 = math.Max(t0, r)
		} else {
			if r < t0 {
				return false
			}
			t1 = math.Min(t1, r)
		}
	}
	return t0 <= t1
}

func assignIDs(fc *geojson.FeatureCollection, cfg Config) {
	for i, f := range fc.Features {
		if _, ok := dataset.IDOf(f, cfg.IDProperty); ok {
			continue
		}
		id := fmt.Sprintf("%s-%d", cfg.IDPrefix, i)
		if cfg.IDProperty != "" {
			if f.Properties == nil {
				f.Properties = geojson.Properties{}
			}
			f.Properties[cfg.IDProperty] = id
		} else {
			f.ID = id
		}
	}
}

func encode(feats []*geojson.Feature) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	fc.Features = feats
	return json.Marshal(fc)
}

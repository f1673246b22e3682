// Package dataset defines the two documents a tiled GeoJSON dataset is made
// of: the metadata document describing the levels of detail, and the
// per-tile feature collections it points at.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/tiledgeojson/internal/grid"
)

// File names relative to the dataset endpoint.
const (
	MetadataFile = "tiledgeojson.json"
	TilesDir     = "tiles"
)

var (
	// ErrNoLODs is returned for metadata without any level of detail.
	ErrNoLODs = errors.New("dataset: metadata has no levels of detail")
	// ErrBadResolution is returned for a level whose tile resolution is not positive.
	ErrBadResolution = errors.New("dataset: resolution must be positive")
)

// TilePath returns the path of a tile document relative to the endpoint.
func TilePath(hash string) string {
	return TilesDir + "/" + hash + ".json"
}

// Metadata describes a tiled dataset.
type Metadata struct {
	Origin orb.Point
	LODs   []LOD
}

// LOD is one level of detail: its zoom ceiling, cell size and tile index.
type LOD struct {
	MaxZoom    float64
	Resolution float64
	Tiles      map[grid.Cell]string
}

type originDoc struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type lodDoc struct {
	MaxZoom    float64           `json:"maxZoom"`
	Resolution float64           `json:"resolution"`
	Tiles      map[string]string `json:"tiles"`
}

type metadataDoc struct {
	Origin originDoc `json:"origin"`
	LODs   []lodDoc  `json:"lods"`
}

// MarshalJSON encodes the metadata document.
func (m Metadata) MarshalJSON() ([]byte, error) {
	doc := metadataDoc{
		Origin: originDoc{X: m.Origin.X(), Y: m.Origin.Y()},
		LODs:   make([]lodDoc, 0, len(m.LODs)),
	}
	for _, l := range m.LODs {
		tiles := make(map[string]string, len(l.Tiles))
		for c, h := range l.Tiles {
			tiles[c.String()] = h
		}
		doc.LODs = append(doc.LODs, lodDoc{MaxZoom: l.MaxZoom, Resolution: l.Resolution, Tiles: tiles})
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes the metadata document, parsing "x,y" cell keys.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var doc metadataDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	lods := make([]LOD, 0, len(doc.LODs))
	for i, l := range doc.LODs {
		tiles := make(map[grid.Cell]string, len(l.Tiles))
		for key, hash := range l.Tiles {
			c, err := grid.ParseCell(key)
			if err != nil {
				return fmt.Errorf("lod %d: %w", i, err)
			}
			tiles[c] = hash
		}
		lods = append(lods, LOD{MaxZoom: l.MaxZoom, Resolution: l.Resolution, Tiles: tiles})
	}

	m.Origin = orb.Point{doc.Origin.X, doc.Origin.Y}
	m.LODs = lods
	return nil
}

// ParseMetadata decodes and validates a metadata document.
func ParseMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the invariants the tile scheduler relies on.
func (m *Metadata) Validate() error {
	if len(m.LODs) == 0 {
		return ErrNoLODs
	}
	for i, l := range m.LODs {
		if !(l.Resolution > 0) {
			return fmt.Errorf("lod %d: %w", i, ErrBadResolution)
		}
	}
	return nil
}

// Hashes returns every distinct content hash referenced by the metadata, sorted.
func (m *Metadata) Hashes() []string {
	seen := make(map[string]struct{})
	for _, l := range m.LODs {
		for _, h := range l.Tiles {
			seen[h] = struct{}{}
		}
	}
	hashes := make([]string, 0, len(seen))
	for h := range seen {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes
}

// ParseTile decodes a tile document. Only the "features" array is required;
// the "type" member of a FeatureCollection is accepted but not enforced.
func ParseTile(data []byte) (*geojson.FeatureCollection, error) {
	var doc struct {
		Features []*geojson.Feature `json:"features"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing tile: %w", err)
	}
	fc := geojson.NewFeatureCollection()
	for _, f := range doc.Features {
		if f != nil {
			fc.Append(f)
		}
	}
	return fc, nil
}

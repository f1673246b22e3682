// Package service contains business logic for the tiled GeoJSON server.
package service

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidHash is returned for a tile hash that is not a plain token.
	ErrInvalidHash = errors.New("invalid tile hash")
	// ErrNoDataset is returned when the dataset directory has no metadata.
	ErrNoDataset = errors.New("dataset not built")
	// ErrBadViewport is returned for a viewport outside the accepted ranges.
	ErrBadViewport = errors.New("invalid viewport")
)

// Viewport limits. Edges are in dataset coordinates.
const (
	MaxCoordinate = 1e9
	MaxZoom       = 30
)

// DatasetInfo summarizes the served dataset.
type DatasetInfo struct {
	Origin [2]float64 `json:"origin" doc:"Grid origin (x, y)"`
	LODs   []LODInfo  `json:"lods" doc:"Levels of detail in metadata order"`
	Files  int        `json:"files" doc:"Distinct tile documents"`
	Size   string     `json:"size" doc:"Human-readable size of all tile documents" example:"5.4 MB"`
}

// LODInfo summarizes one level of detail.
type LODInfo struct {
	Index      int     `json:"index" doc:"Position in the metadata"`
	MaxZoom    float64 `json:"maxZoom" doc:"Highest zoom this level applies to" example:"12"`
	Resolution float64 `json:"resolution" doc:"Cell side length" example:"0.05"`
	Tiles      int     `json:"tiles" doc:"Number of non-empty cells"`
}

// Viewport is a viewer's map state.
type Viewport struct {
	West        float64 `json:"west" doc:"Left edge" example:"0" minimum:"-1e9" maximum:"1e9"`
	South       float64 `json:"south" doc:"Bottom edge" example:"0" minimum:"-1e9" maximum:"1e9"`
	East        float64 `json:"east" doc:"Right edge" example:"15" minimum:"-1e9" maximum:"1e9"`
	North       float64 `json:"north" doc:"Top edge" example:"5" minimum:"-1e9" maximum:"1e9"`
	Zoom        float64 `json:"zoom" doc:"Map zoom level" example:"3" minimum:"0" maximum:"30"`
	HighDensity bool    `json:"highDensity,omitempty" doc:"Display is high density (retina)"`
}

// Validate checks that the edges are finite, within MaxCoordinate and not
// inverted, and that the zoom lies in [0, MaxZoom].
func (vp Viewport) Validate() error {
	for _, c := range []float64{vp.West, vp.South, vp.East, vp.North} {
		if math.IsNaN(c) || math.Abs(c) > MaxCoordinate {
			return fmt.Errorf("%w: coordinate %v out of range", ErrBadViewport, c)
		}
	}
	if vp.West > vp.East || vp.South > vp.North {
		return fmt.Errorf("%w: inverted bounds", ErrBadViewport)
	}
	if math.IsNaN(vp.Zoom) || vp.Zoom < 0 || vp.Zoom > MaxZoom {
		return fmt.Errorf("%w: zoom %v out of range", ErrBadViewport, vp.Zoom)
	}
	return nil
}

// SessionConfig creates a viewer session.
type SessionConfig struct {
	Endpoint   string         `json:"endpoint,omitempty" doc:"Remote dataset endpoint; empty uses the served dataset" example:"http://localhost:8086"`
	Retina     bool           `json:"retina,omitempty" doc:"Raise the zoom by one on high-density displays"`
	IDProperty string         `json:"idProperty,omitempty" doc:"Feature property holding the feature id; empty uses the GeoJSON id"`
	Style      map[string]any `json:"style,omitempty" doc:"Styling options passed through to renderers"`
	Viewport   Viewport       `json:"viewport" doc:"Initial viewport"`
}

// SessionState is a snapshot of a session's layer.
type SessionState struct {
	ID          string         `json:"id" doc:"Session ID"`
	Ready       bool           `json:"ready" doc:"Metadata has been loaded"`
	LOD         int            `json:"lod" doc:"Active level of detail, -1 when none"`
	MaxZoom     float64        `json:"maxZoom,omitempty" doc:"Max zoom of the active level"`
	Resolution  float64        `json:"resolution,omitempty" doc:"Cell size of the active level"`
	ActiveCells []string       `json:"activeCells" doc:"Visible cells as x,y in row-major order"`
	Loading     []string       `json:"loading" doc:"Visible cells whose data has not arrived"`
	Holders     int            `json:"holders" doc:"Feature ids in the holder registry"`
	Features    int            `json:"features" doc:"Features currently drawn"`
	Viewport    Viewport       `json:"viewport" doc:"Current viewport"`
	Style       map[string]any `json:"style,omitempty" doc:"Styling passthrough"`
}

// SourceFile represents a source data file for the builder.
type SourceFile struct {
	Name     string `json:"name" doc:"File name" example:"buildings.geojson"`
	Size     string `json:"size" doc:"Human-readable file size" example:"1.2 MB"`
	FileType string `json:"fileType" doc:"File type" example:"GeoJSON"`
}

// LODSpec requests one level of detail from the builder.
type LODSpec struct {
	MaxZoom    float64 `json:"maxZoom" doc:"Highest zoom the level applies to" example:"8"`
	Resolution float64 `json:"resolution" exclusiveMinimum:"0" doc:"Cell side length" example:"1"`
}

// BuildOptions contains options for dataset generation.
type BuildOptions struct {
	SourceFile string     `json:"sourceFile" required:"true" doc:"Source file name in the sources directory"`
	LODs       []LODSpec  `json:"lods" required:"true" minItems:"1" doc:"Levels of detail to build"`
	Origin     *[2]float64 `json:"origin,omitempty" doc:"Grid origin; defaults to the lower-left corner of the source bound"`
	IDProperty string     `json:"idProperty,omitempty" doc:"Property holding feature ids; empty uses the GeoJSON id"`
}

// BuildResult summarizes a finished build.
type BuildResult struct {
	Features int       `json:"features" doc:"Source features"`
	Files    int       `json:"files" doc:"Distinct tile documents written"`
	LODs     []LODInfo `json:"lods" doc:"Levels written"`
}

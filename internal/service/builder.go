package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/tiledgeojson/internal/dataset"
	"github.com/joeblew999/tiledgeojson/internal/db"
	"github.com/joeblew999/tiledgeojson/internal/tilegen"
)

// ManifestFile records how a dataset was built.
const ManifestFile = "manifest.yaml"

// ProgressFunc is called with progress updates during a build.
type ProgressFunc func(progress int, status string)

// Manifest is written next to the metadata after a build.
type Manifest struct {
	Source   string        `yaml:"source"`
	Built    time.Time     `yaml:"built"`
	Features int           `yaml:"features"`
	Files    int           `yaml:"files"`
	Origin   [2]float64    `yaml:"origin"`
	LODs     []manifestLOD `yaml:"lods"`
}

type manifestLOD struct {
	MaxZoom    float64 `yaml:"max_zoom"`
	Resolution float64 `yaml:"resolution"`
	Tiles      int     `yaml:"tiles"`
}

// BuilderService turns source files into tiled GeoJSON datasets.
type BuilderService struct {
	sources *SourceService
	dataDir string
	outDir  string
}

// NewBuilderService creates a builder reading from sources and writing
// into outDir.
func NewBuilderService(dataDir string, sources *SourceService, outDir string) *BuilderService {
	return &BuilderService{sources: sources, dataDir: dataDir, outDir: outDir}
}

// Build builds the dataset from a file in the sources directory.
func (s *BuilderService) Build(ctx context.Context, opts BuildOptions, onProgress ProgressFunc) (*BuildResult, error) {
	path, err := s.sources.Resolve(opts.SourceFile)
	if err != nil {
		return nil, err
	}
	return s.BuildFile(ctx, path, opts, onProgress)
}

// BuildFile builds the dataset from any readable source path.
func (s *BuilderService) BuildFile(ctx context.Context, path string, opts BuildOptions, onProgress ProgressFunc) (*BuildResult, error) {
	progress := func(pct int, status string) {
		if onProgress != nil {
			onProgress(pct, status)
		}
	}
	logger := log.WithFields(log.Fields{"component": "builder", "path": path})

	progress(5, "Reading source...")
	fc, err := s.read(ctx, path)
	if err != nil {
		return nil, err
	}
	logger.WithField("features", len(fc.Features)).Info("source read")

	cfg := tilegen.Config{
		IDPrefix:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		IDProperty: opts.IDProperty,
	}
	for _, l := range opts.LODs {
		cfg.Levels = append(cfg.Levels, tilegen.Level{MaxZoom: l.MaxZoom, Resolution: l.Resolution})
	}
	if opts.Origin != nil {
		cfg.Origin = orb.Point{opts.Origin[0], opts.Origin[1]}
	} else {
		cfg.Origin = lowerLeft(fc)
	}

	progress(20, "Cutting tiles...")
	res, err := tilegen.Build(fc, cfg, func(done, total int) {
		if done%1000 == 0 || done == total {
			progress(20+done*60/total, fmt.Sprintf("Cut %d/%d features", done, total))
		}
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress(85, "Writing dataset...")
	if err := s.write(res, path, len(fc.Features)); err != nil {
		return nil, err
	}

	out := &BuildResult{
		Features: len(fc.Features),
		Files:    len(res.Documents),
		LODs:     lodInfos(&res.Metadata),
	}
	logger.WithFields(log.Fields{"files": out.Files, "lods": len(out.LODs)}).Info("dataset built")
	progress(100, "Dataset built successfully!")
	return out, nil
}

// OutDir returns the dataset directory builds write to.
func (s *BuilderService) OutDir() string {
	return s.outDir
}

func (s *BuilderService) read(ctx context.Context, path string) (*geojson.FeatureCollection, error) {
	if IsGeoJSON(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading geojson: %w", err)
		}
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("parsing geojson: %w", err)
		}
		return fc, nil
	}

	conn, err := db.Get(db.Config{DataDir: s.dataDir, DBName: "builder"})
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	return db.ReadFeatures(ctx, conn, path)
}

// write stores tile documents first and the metadata last, so readers
// never see metadata pointing at missing tiles.
func (s *BuilderService) write(res *tilegen.Result, source string, features int) error {
	tilesDir := filepath.Join(s.outDir, dataset.TilesDir)
	if err := os.MkdirAll(tilesDir, 0755); err != nil {
		return fmt.Errorf("failed to create tiles directory: %w", err)
	}

	for hash, doc := range res.Documents {
		if err := os.WriteFile(filepath.Join(s.outDir, dataset.TilePath(hash)), doc, 0644); err != nil {
			return fmt.Errorf("writing tile %s: %w", hash, err)
		}
	}

	meta, err := json.Marshal(res.Metadata)
	if err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(s.outDir, dataset.MetadataFile), meta); err != nil {
		return err
	}

	m := Manifest{
		Source:   filepath.Base(source),
		Built:    time.Now().UTC(),
		Features: features,
		Files:    len(res.Documents),
		Origin:   [2]float64{res.Metadata.Origin.X(), res.Metadata.Origin.Y()},
	}
	for _, lod := range res.Metadata.LODs {
		m.LODs = append(m.LODs, manifestLOD{MaxZoom: lod.MaxZoom, Resolution: lod.Resolution, Tiles: len(lod.Tiles)})
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.outDir, ManifestFile), data, 0644)
}

// ReadManifest loads the manifest of the dataset in dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func lowerLeft(fc *geojson.FeatureCollection) orb.Point {
	var b orb.Bound
	first := true
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		if first {
			b = f.Geometry.Bound()
			first = false
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b.Min
}

// ParseLODs parses "maxZoom:resolution" pairs separated by commas or
// spaces, e.g. "8:1,12:0.1".
func ParseLODs(s string) ([]LODSpec, error) {
	var out []LODSpec
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		var l LODSpec
		if _, err := fmt.Sscanf(part, "%g:%g", &l.MaxZoom, &l.Resolution); err != nil {
			return nil, fmt.Errorf("invalid level %q, want maxZoom:resolution", part)
		}
		if !(l.Resolution > 0) {
			return nil, fmt.Errorf("invalid level %q: resolution must be positive", part)
		}
		out = append(out, l)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one level is required")
	}
	return out, nil
}

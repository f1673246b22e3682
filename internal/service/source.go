package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// sourceTypes maps supported source extensions to their type names.
var sourceTypes = map[string]string{
	".geojson":    "GeoJSON",
	".json":       "GeoJSON",
	".csv":        "CSV",
	".gpkg":       "GeoPackage",
	".shp":        "Shapefile",
	".fgb":        "FlatGeobuf",
	".parquet":    "GeoParquet",
	".geoparquet": "GeoParquet",
}

// SourceService manages source data files for the builder.
type SourceService struct {
	sourcesDir string
}

// NewSourceService creates a new source service.
func NewSourceService(dataDir string) *SourceService {
	return &SourceService{
		sourcesDir: filepath.Join(dataDir, "sources"),
	}
}

// List returns all available source files.
func (s *SourceService) List() ([]SourceFile, error) {
	entries, err := os.ReadDir(s.sourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SourceFile{}, nil
		}
		return nil, err
	}

	files := []SourceFile{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		fileType, ok := sourceTypes[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, SourceFile{
			Name:     entry.Name(),
			Size:     formatSize(info.Size()),
			FileType: fileType,
		})
	}

	return files, nil
}

// Resolve validates a source file name and returns its path.
func (s *SourceService) Resolve(filename string) (string, error) {
	if filename == "" || strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return "", fmt.Errorf("invalid filename %q", filename)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := sourceTypes[ext]; !ok {
		return "", fmt.Errorf("unsupported file type: %s", ext)
	}

	path := filepath.Join(s.sourcesDir, filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("source file not found: %s", filename)
	}
	return path, nil
}

// SourcesDir returns the path to the sources directory.
func (s *SourceService) SourcesDir() string {
	return s.sourcesDir
}

// IsGeoJSON reports whether a source can be parsed without DuckDB.
func IsGeoJSON(path string) bool {
	return sourceTypes[strings.ToLower(filepath.Ext(path))] == "GeoJSON"
}

package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joeblew999/tiledgeojson/internal/dataset"
	"github.com/joeblew999/tiledgeojson/internal/fetch"
)

var hashPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// DatasetService serves a tiled GeoJSON dataset from disk.
type DatasetService struct {
	dir string
}

// NewDatasetService creates a dataset service rooted at dataDir/dataset.
func NewDatasetService(dataDir string) *DatasetService {
	return &DatasetService{
		dir: filepath.Join(dataDir, "dataset"),
	}
}

// Dir returns the dataset directory.
func (s *DatasetService) Dir() string {
	return s.dir
}

// Fetcher returns a fetcher reading the dataset directly from disk.
func (s *DatasetService) Fetcher() fetch.Fetcher {
	return fetch.NewDirFetcher(s.dir)
}

// MetadataDocument returns the raw metadata document.
func (s *DatasetService) MetadataDocument() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, dataset.MetadataFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoDataset
		}
		return nil, err
	}
	return data, nil
}

// Metadata returns the parsed metadata.
func (s *DatasetService) Metadata() (*dataset.Metadata, error) {
	data, err := s.MetadataDocument()
	if err != nil {
		return nil, err
	}
	return dataset.ParseMetadata(data)
}

// TileDocument returns the raw tile document for hash.
func (s *DatasetService) TileDocument(hash string) ([]byte, error) {
	if !ValidHash(hash) {
		return nil, ErrInvalidHash
	}
	data, err := os.ReadFile(filepath.Join(s.dir, dataset.TilePath(hash)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("tile %s: %w", hash, os.ErrNotExist)
		}
		return nil, err
	}
	return data, nil
}

// Info summarizes the dataset.
func (s *DatasetService) Info() (DatasetInfo, error) {
	meta, err := s.Metadata()
	if err != nil {
		return DatasetInfo{}, err
	}

	info := DatasetInfo{
		Origin: [2]float64{meta.Origin.X(), meta.Origin.Y()},
		LODs:   lodInfos(meta),
	}

	var total int64
	for _, hash := range meta.Hashes() {
		fi, err := os.Stat(filepath.Join(s.dir, dataset.TilePath(hash)))
		if err != nil {
			continue
		}
		info.Files++
		total += fi.Size()
	}
	info.Size = formatSize(total)
	return info, nil
}

// ValidHash reports whether hash can name a tile document.
func ValidHash(hash string) bool {
	return hashPattern.MatchString(hash)
}

func lodInfos(meta *dataset.Metadata) []LODInfo {
	out := make([]LODInfo, len(meta.LODs))
	for i, lod := range meta.LODs {
		out[i] = LODInfo{
			Index:      i,
			MaxZoom:    lod.MaxZoom,
			Resolution: lod.Resolution,
			Tiles:      len(lod.Tiles),
		}
	}
	return out
}

// formatSize formats bytes as human-readable string.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

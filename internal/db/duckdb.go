// Package db reads spatial source files through DuckDB's spatial
// extension.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/paulmach/orb/geojson"
	log "github.com/sirupsen/logrus"

	_ "github.com/marcboeker/go-duckdb"
)

var (
	instance *sql.DB
	once     sync.Once
	initErr  error
)

// Config holds database configuration.
type Config struct {
	DataDir string
	DBName  string
}

// Get returns the singleton DuckDB connection with the spatial extension
// loaded.
func Get(cfg Config) (*sql.DB, error) {
	once.Do(func() {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			initErr = fmt.Errorf("failed to create duckdb directory: %w", err)
			return
		}

		dbPath := filepath.Join(duckdbDir, cfg.DBName+".duckdb")
		instance, initErr = sql.Open("duckdb", dbPath)
		if initErr != nil {
			return
		}

		for _, ext := range []string{"spatial", "parquet"} {
			if _, err := instance.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
				// already installed, or offline with a bundled copy
				log.WithField("extension", ext).Debugf("duckdb extension: %v", err)
			}
		}
	})
	return instance, initErr
}

// Close closes the database connection.
func Close() error {
	if instance != nil {
		return instance.Close()
	}
	return nil
}

// ReadFeatures reads every row of a spatial file (GeoPackage, Shapefile,
// GeoParquet, CSV with geometry, ...) as a GeoJSON feature. The geometry
// column becomes the feature geometry and every other column a property.
func ReadFeatures(ctx context.Context, conn *sql.DB, path string) (*geojson.FeatureCollection, error) {
	table, geom := source(path)
	query := fmt.Sprintf(
		"SELECT ST_AsGeoJSON(%[1]s) AS __geometry, * EXCLUDE (%[1]s) FROM %[2]s",
		geom, table,
	)
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	fc := geojson.NewFeatureCollection()
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		f, err := toFeature(cols, vals)
		if err != nil {
			return nil, fmt.Errorf("row %d of %s: %w", len(fc.Features), path, err)
		}
		fc.Append(f)
	}
	return fc, rows.Err()
}

func toFeature(cols []string, vals []any) (*geojson.Feature, error) {
	f := &geojson.Feature{Type: "Feature", Properties: geojson.Properties{}}
	for i, col := range cols {
		if col == "__geometry" {
			raw, ok := text(vals[i])
			if !ok {
				continue
			}
			g, err := geojson.UnmarshalGeometry([]byte(raw))
			if err != nil {
				return nil, fmt.Errorf("geometry: %w", err)
			}
			f.Geometry = g.Coordinates
			continue
		}
		f.Properties[col] = property(vals[i])
	}
	return f, nil
}

// source builds the table function for path and names its geometry
// column. GeoParquet is read natively; everything else goes through GDAL.
func source(path string) (table, geom string) {
	quoted := "'" + strings.ReplaceAll(path, "'", "''") + "'"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet", ".geoparquet":
		return "read_parquet(" + quoted + ")", "geometry"
	default:
		return "ST_Read(" + quoted + ")", "geom"
	}
}

func text(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

func property(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// Package server wires the services and HTTP routes of the tiled GeoJSON
// server.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	log "github.com/sirupsen/logrus"

	"github.com/joeblew999/tiledgeojson/internal/api"
	"github.com/joeblew999/tiledgeojson/internal/api/viewer"
	"github.com/joeblew999/tiledgeojson/internal/config"
	"github.com/joeblew999/tiledgeojson/internal/dataset"
	"github.com/joeblew999/tiledgeojson/internal/db"
	"github.com/joeblew999/tiledgeojson/internal/fetch"
	"github.com/joeblew999/tiledgeojson/internal/service"
	"github.com/joeblew999/tiledgeojson/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	// Layer seeds the options of every viewer session.
	Layer config.Layer
	// NoDB skips opening DuckDB; only GeoJSON sources can be built.
	NoDB bool
}

// Server is the tiled GeoJSON HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	services *api.Services
	renderer *templates.Renderer
}

// New creates a new server.
func New(cfg Config) *Server {
	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("tiledgeojson API", "1.0.0")
	humaConfig.Info.Description = "Serves tiled GeoJSON datasets and runs server-side viewer sessions over them."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	humaAPI := humago.New(mux, humaConfig)

	ds := service.NewDatasetService(cfg.DataDir)
	sources := service.NewSourceService(cfg.DataDir)

	var fetcher fetch.Fetcher = ds.Fetcher()
	if cfg.Layer.Endpoint != "" {
		fetcher = fetch.NewHTTPFetcher(cfg.Layer.Endpoint, nil)
	}

	services := &api.Services{
		Dataset: ds,
		Session: service.NewSessionService(fetcher, cfg.Layer.Options()),
		Source:  sources,
		Builder: service.NewBuilderService(cfg.DataDir, sources, ds.Dir()),
	}

	renderer, err := templates.New()
	if err != nil {
		log.Warnf("viewer fragments unavailable: %v", err)
	}

	s := &Server{
		config:   cfg,
		mux:      mux,
		humaAPI:  humaAPI,
		services: services,
		renderer: renderer,
	}

	if !cfg.NoDB {
		conn, err := db.Get(db.Config{
			DataDir: cfg.DataDir,
			DBName:  "tiledgeojson",
		})
		if err != nil {
			log.Warnf("duckdb unavailable, only GeoJSON sources can be built: %v", err)
		} else {
			s.db = conn
		}
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler. Dataset documents are readable
// cross-origin so browser layers on other hosts can load them.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isDatasetPath(r.URL.Path) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the API description.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Services exposes the server's services.
func (s *Server) Services() *api.Services {
	return s.services
}

// Close stops every session and closes server resources.
func (s *Server) Close(ctx context.Context) error {
	return errors.Join(s.services.Session.Close(ctx), db.Close())
}

func (s *Server) routes() {
	api.RegisterRoutes(s.humaAPI, s.services)
	api.NewInfoHandler(s.config.DataDir, s.db != nil).RegisterRoutes(s.humaAPI)

	viewer.NewHandler(s.services.Session, s.services.Builder, s.renderer).RegisterRoutes(s.humaAPI)

	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "tiledgeojson",
		"status":  "running",
	})
}

func isDatasetPath(p string) bool {
	return p == "/"+dataset.MetadataFile || strings.HasPrefix(p, "/"+dataset.TilesDir+"/")
}

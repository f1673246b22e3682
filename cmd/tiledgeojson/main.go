package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/tiledgeojson/internal/config"
	"github.com/joeblew999/tiledgeojson/internal/logging"
	"github.com/joeblew999/tiledgeojson/internal/server"
)

// Options defines all CLI flags and env vars for the server.
// Flags: --host, --port, --data-dir, --config, --log-level, --no-colors, --no-db
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, ...
type Options struct {
	Host     string `doc:"Host to bind to" default:"0.0.0.0"`
	Port     int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir  string `doc:"Directory for sources and the built dataset" default:".data"`
	Config   string `doc:"Layer config file (TOML, YAML or JSON)" short:"c" default:"tiledgeojson.toml"`
	LogLevel string `doc:"Log level: debug, info, warn, error" default:"info"`
	NoColors bool   `doc:"Disable colored log output"`
	NoDB     bool   `doc:"Do not open DuckDB; only GeoJSON sources can be built"`
}

func setup(opts *Options) config.Layer {
	logging.Setup(opts.LogLevel, opts.NoColors)
	layer, err := config.Load(opts.Config)
	if err != nil {
		log.Fatal(err)
	}
	return layer
}

func newServer(opts *Options, layer config.Layer) *server.Server {
	return server.New(server.Config{
		Host:    opts.Host,
		Port:    fmt.Sprintf("%d", opts.Port),
		DataDir: opts.DataDir,
		Layer:   layer,
		NoDB:    opts.NoDB,
	})
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var httpServer *http.Server
		var srv *server.Server

		hooks.OnStart(func() {
			layer := setup(opts)
			srv = newServer(opts, layer)

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			log.WithFields(log.Fields{
				"server": baseURL,
				"data":   opts.DataDir,
			}).Info("tiledgeojson server starting")
			log.Infof("metadata: %s/tiledgeojson.json", baseURL)
			log.Infof("docs:     %s/docs", baseURL)

			httpServer = &http.Server{Addr: addr, Handler: srv}
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Server error: %v", err)
			}
		})

		hooks.OnStop(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if httpServer != nil {
				httpServer.Shutdown(ctx)
			}
			if srv != nil {
				if err := srv.Close(ctx); err != nil {
					log.Warnf("closing server: %v", err)
				}
			}
		})
	})

	cli.Root().Use = "tiledgeojson"
	cli.Root().Short = "Tiled GeoJSON server, builder and viewer sessions"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			opts.NoDB = true
			srv := newServer(opts, config.Layer{})
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	buildCmd := &cobra.Command{
		Use:   "build <source>",
		Short: "Cut a GeoJSON (or any DuckDB-readable) source into a tiled dataset",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			logging.Setup(opts.LogLevel, opts.NoColors)
			if err := runBuild(cmd, args[0], opts); err != nil {
				log.Fatal(err)
			}
		}),
	}
	buildCmd.Flags().StringSliceP("lod", "l", nil, "Level as maxZoom:resolution, repeatable (e.g. -l 8:1 -l 12:0.1)")
	buildCmd.Flags().String("origin", "", "Grid origin as x,y (default: lower-left of the source)")
	buildCmd.Flags().String("id-property", "", "Property holding feature ids (default: GeoJSON id)")
	buildCmd.Flags().StringP("out", "o", "", "Output directory (default: <data-dir>/dataset)")
	cli.Root().AddCommand(buildCmd)

	watchCmd := &cobra.Command{
		Use:   "watch <endpoint>",
		Short: "Follow a remote dataset headlessly and log what a viewer would draw",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			layer := setup(opts)
			layer.Endpoint = args[0]

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := runWatch(ctx, cmd, layer); err != nil {
				log.Fatal(err)
			}
		}),
	}
	watchCmd.Flags().String("bbox", "-180,-90,180,90", "Viewport as west,south,east,north")
	watchCmd.Flags().Float64("zoom", 0, "Viewport zoom")
	watchCmd.Flags().Bool("hidpi", false, "Report a high-density display")
	watchCmd.Flags().Duration("for", 0, "Stop after this long (default: until interrupted)")
	cli.Root().AddCommand(watchCmd)

	cli.Run()
}

func defaultOut(opts *Options) string {
	return filepath.Join(opts.DataDir, "dataset")
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/joeblew999/tiledgeojson/internal/config"
	"github.com/joeblew999/tiledgeojson/internal/dataset"
	"github.com/joeblew999/tiledgeojson/internal/fetch"
	"github.com/joeblew999/tiledgeojson/internal/loop"
	"github.com/joeblew999/tiledgeojson/internal/render"
	"github.com/joeblew999/tiledgeojson/internal/tiled"
)

// logRenderer logs every feature a viewer would draw or erase.
type logRenderer struct {
	log        log.FieldLogger
	idProperty string
}

func (r logRenderer) Add(tile tiled.TileID, index int, f *geojson.Feature) {
	id, _ := dataset.IDOf(f, r.idProperty)
	r.log.WithFields(log.Fields{"tile": tile.String(), "index": index, "id": id}).Info("draw")
}

func (r logRenderer) Remove(tile tiled.TileID, index int) {
	r.log.WithFields(log.Fields{"tile": tile.String(), "index": index}).Info("erase")
}

func (r logRenderer) SetStyle(style map[string]any) {
	if len(style) > 0 {
		r.log.WithField("style", style).Debug("style")
	}
}

func runWatch(ctx context.Context, cmd *cobra.Command, layer config.Layer) error {
	bbox, _ := cmd.Flags().GetString("bbox")
	zoom, _ := cmd.Flags().GetFloat64("zoom")
	hidpi, _ := cmd.Flags().GetBool("hidpi")
	limit, _ := cmd.Flags().GetDuration("for")

	var b orb.Bound
	if _, err := fmt.Sscanf(bbox, "%g,%g,%g,%g", &b.Min[0], &b.Min[1], &b.Max[0], &b.Max[1]); err != nil {
		return fmt.Errorf("invalid bbox %q, want west,south,east,north", bbox)
	}
	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	logger := log.WithField("component", "watch")
	set := render.NewSet(layer.IDProperty)
	renderer := render.Tee{set, logRenderer{log: logger, idProperty: layer.IDProperty}}

	opts := layer.Options()
	opts.Logger = logger
	vp := tiled.NewMemViewport(tiled.ViewState{Bounds: b, Zoom: zoom, HighDensity: hidpi})
	lp := loop.New()

	var l *tiled.Layer
	lp.Post(func() {
		l = tiled.New(fetch.NewHTTPFetcher(layer.Endpoint, nil), lp, renderer, opts)
		l.Attach(vp)
	})

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.WithField("features", set.Len()).Info("drawn")
			}
		}
	}()

	err := lp.Run(ctx)
	if l != nil {
		l.Close()
	}
	logger.WithField("features", set.Len()).Info("stopped")
	if err == context.Canceled || err == context.DeadlineExceeded {
		return nil
	}
	return err
}

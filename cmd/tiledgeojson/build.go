package main

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/joeblew999/tiledgeojson/internal/db"
	"github.com/joeblew999/tiledgeojson/internal/service"
)

func runBuild(cmd *cobra.Command, source string, opts *Options) error {
	lodFlags, _ := cmd.Flags().GetStringSlice("lod")
	originFlag, _ := cmd.Flags().GetString("origin")
	idProperty, _ := cmd.Flags().GetString("id-property")
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = defaultOut(opts)
	}

	lods, err := service.ParseLODs(strings.Join(lodFlags, ","))
	if err != nil {
		return err
	}
	build := service.BuildOptions{LODs: lods, IDProperty: idProperty}
	if originFlag != "" {
		var o [2]float64
		if _, err := fmt.Sscanf(originFlag, "%g,%g", &o[0], &o[1]); err != nil {
			return fmt.Errorf("invalid origin %q, want x,y", originFlag)
		}
		build.Origin = &o
	}

	builder := service.NewBuilderService(opts.DataDir, service.NewSourceService(opts.DataDir), out)
	defer db.Close()

	bar := pb.New(100).Prefix("Build : ")
	bar.ShowCounters = false
	bar.Start()
	res, err := builder.BuildFile(context.Background(), source, build, func(progress int, status string) {
		bar.Set(progress)
		bar.Postfix(" " + status)
	})
	bar.Finish()
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"out":      out,
		"features": res.Features,
		"files":    res.Files,
		"lods":     len(res.LODs),
	}).Info("dataset written")
	return nil
}

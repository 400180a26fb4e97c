/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rotblauer/globetiles/camera"
	"github.com/rotblauer/globetiles/datalayer"
	"github.com/rotblauer/globetiles/mesh"
	"github.com/rotblauer/globetiles/params"
	"github.com/rotblauer/globetiles/scheduler"
	"github.com/rotblauer/globetiles/tile"
	"github.com/rotblauer/globetiles/tiled"
	"github.com/rotblauer/globetiles/view"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// addLayerFlags registers the tile layer flags shared by the commands that
// drive a view.
func addLayerFlags(cmd *cobra.Command) {
	layer := params.DefaultTileLayerConfig()
	sched := params.DefaultSchedulerConfig()

	flags := cmd.Flags()
	flags.String("scheme", layer.Scheme, "root tiling scheme: s2, webmercator or geographic")
	flags.Int("root-zoom", layer.RootZoom, "scheme zoom of the root tiles")
	flags.Int("max-level", layer.MaxLevel, "deepest level to subdivide to")
	flags.Float64("sse", layer.ScreenErrorThreshold, "projected tile size, in pixels, above which a tile is split")
	flags.Bool("strict", layer.Strict, "panic on tree invariant violations")
	flags.Int("workers", sched.Workers, "concurrent commands per scheduler")
	flags.Float64("rate", sched.RateLimit, "command starts per second per scheduler, 0 for unlimited")
	flags.Duration("build-delay", 0, "simulated cost of building one tile")
	flags.Duration("fetch-latency", 5*time.Millisecond, "simulated latency of one synthetic texture fetch")
	flags.Bool("textures", false, "serve textures from the seeded database instead of synthesizing them")
	flags.Bool("no-color", false, "do not attach the color layer")
	flags.Bool("no-elevation", false, "do not attach the elevation layer")
}

// bindLayerFlags binds the command's flags to viper. It must run in the
// command's Run, not init, since commands share the flag names.
func bindLayerFlags(cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if e := viper.BindPFlag(f.Name, f); e != nil && err == nil {
			err = e
		}
	})
	return err
}

func texturesPath() string {
	return filepath.Join(viper.GetString("datadir"), params.TexturesDBName)
}

// newView builds a view with one tile layer and its data layers, as
// configured by the layer flags. release closes everything it opened;
// on error there is nothing left to release.
func newView(ctx context.Context, cam *camera.Camera, viewConfig *params.ViewConfig) (v *view.View, release func(), err error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	defer func() {
		if err != nil {
			closeAll()
		}
	}()

	schedConfig := &params.SchedulerConfig{
		Workers:   viper.GetInt("workers"),
		RateLimit: viper.GetFloat64("rate"),
		Burst:     1,
	}
	layerConfig := params.DefaultTileLayerConfig()
	layerConfig.Scheme = viper.GetString("scheme")
	layerConfig.RootZoom = viper.GetInt("root-zoom")
	layerConfig.MaxLevel = viper.GetInt("max-level")
	layerConfig.ScreenErrorThreshold = viper.GetFloat64("sse")
	layerConfig.Strict = viper.GetBool("strict")

	fetcher := datalayer.Synthetic(viper.GetDuration("fetch-latency"))
	if viper.GetBool("textures") {
		bf, err := datalayer.OpenBoltFetcher(texturesPath())
		if err != nil {
			return nil, nil, fmt.Errorf("open textures: %w", err)
		}
		closers = append(closers, func() { _ = bf.Close() })
		fetcher = bf
	}

	v = view.New(viewConfig, cam)
	var layer *tiled.Layer
	onLoad := datalayer.WithOnLoad(func(n *tile.Node) {
		v.NotifyChange(tiled.NodeChanged(layer.ID(), n.ID()), false)
	})

	var sources []datalayer.Attachment
	for _, dc := range []struct {
		skip   bool
		config *params.DataLayerConfig
	}{
		{viper.GetBool("no-color"), params.DefaultColorLayerConfig()},
		{viper.GetBool("no-elevation"), params.DefaultElevationLayerConfig()},
	} {
		if dc.skip {
			continue
		}
		src, err := datalayer.NewSource(dc.config, fetcher, schedConfig, onLoad)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, src.Close)
		sources = append(sources, src)
	}

	sched := scheduler.New[tiled.Children]("subdivide", schedConfig)
	closers = append(closers, sched.Stop)

	layer, err = tiled.New(ctx, layerConfig, mesh.NewBuilder(viper.GetDuration("build-delay")),
		tiled.WithScheduler(sched),
		tiled.WithAttachments(sources...),
	)
	if err != nil {
		return nil, nil, err
	}
	// Layers close before their schedulers stop.
	closers = append(closers, v.Close)
	v.AddLayer(layer)
	return v, closeAll, nil
}

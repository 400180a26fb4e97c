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
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/rotblauer/globetiles/camera"
	"github.com/rotblauer/globetiles/common"
	"github.com/rotblauer/globetiles/daemon/webd"
	"github.com/rotblauer/globetiles/params"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var optHTTPAddr string

// webdCmd represents the serve command
var webdCmd = &cobra.Command{
	Use:   "webd",
	Short: "Start the webserver",
	Long: `Runs the frame loop and serves the tile layers over HTTP.
POST /camera moves the camera; /layers/{layer}/tiles returns the displayed
tiles as GeoJSON; the websocket streams every frame's changes.`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)
		cobra.CheckErr(bindLayerFlags(cmd))

		ctx, cancel := common.InterruptContext(context.Background())
		defer cancel()

		viewConfig := params.DefaultViewConfig()
		cam := camera.New(orb.Point{0, 0}, 2e7, viewConfig)
		v, release, err := newView(ctx, cam, viewConfig)
		cobra.CheckErr(err)
		defer release()

		config := params.DefaultWebDaemonConfig()
		config.Address = optHTTPAddr
		server := webd.NewWebDaemon(config, v)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return v.Run(gctx) })
		g.Go(func() error { return server.Run(gctx) })
		if err := g.Wait(); err != nil {
			slog.Error("webd exited", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(webdCmd)
	addLayerFlags(webdCmd)

	defaults := params.DefaultWebDaemonConfig()
	webdCmd.Flags().StringVar(&optHTTPAddr, "address", defaults.Address, "HTTP address to listen on")
}

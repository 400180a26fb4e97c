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
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotblauer/globetiles/datalayer"
	"github.com/rotblauer/globetiles/extent"
	"github.com/rotblauer/globetiles/params"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// seedCmd represents the seed command
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the textures database",
	Long: `Writes a synthetic texture for every tile of the root scheme down to
--zoom into the textures database, for each data layer. Run webd or simulate
with --textures to serve them.`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)

		flags := cmd.Flags()
		scheme, _ := flags.GetString("scheme")
		rootZoom, _ := flags.GetInt("root-zoom")
		zoom, _ := flags.GetInt("zoom")

		roots, err := extent.Roots(extent.Scheme(scheme), rootZoom)
		cobra.CheckErr(err)
		cobra.CheckErr(os.MkdirAll(viper.GetString("datadir"), 0755))

		db, err := datalayer.OpenBoltFetcher(texturesPath())
		cobra.CheckErr(err)
		defer db.Close()

		start := time.Now()
		for _, dc := range []*params.DataLayerConfig{
			params.DefaultColorLayerConfig(),
			params.DefaultElevationLayerConfig(),
		} {
			id := dc.ID
			n, err := db.Seed(id, roots, min(zoom, dc.ZoomMax), func(e extent.Extent) []byte {
				return datalayer.SyntheticData(id, e)
			})
			cobra.CheckErr(err)
			slog.Info("Seeded layer", "layer", id, "textures", humanize.Comma(int64(n)))
		}
		slog.Info("Seeded", "path", texturesPath(), "took", time.Since(start).Round(time.Millisecond))
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)

	defaults := params.DefaultTileLayerConfig()
	flags := seedCmd.Flags()
	flags.String("scheme", defaults.Scheme, "root tiling scheme: s2, webmercator or geographic")
	flags.Int("root-zoom", defaults.RootZoom, "scheme zoom of the root tiles")
	flags.Int("zoom", 6, "deepest zoom to seed")
}

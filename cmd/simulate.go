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
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/montanaflynn/stats"
	"github.com/paulmach/orb"
	"github.com/rotblauer/globetiles/camera"
	"github.com/rotblauer/globetiles/common"
	"github.com/rotblauer/globetiles/metrics/influxdb"
	"github.com/rotblauer/globetiles/params"
	"github.com/rotblauer/globetiles/tiled"
	"github.com/rotblauer/globetiles/view"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type descent struct {
	Target  orb.Point
	From    float64
	To      float64
	Steps   int
	Timeout time.Duration
}

// altitude returns the camera altitude at step i, falling geometrically
// from From to To.
func (d descent) altitude(i int) float64 {
	if d.Steps <= 1 {
		return d.To
	}
	t := float64(i) / float64(d.Steps-1)
	return d.From * math.Pow(d.To/d.From, t)
}

type stepReport struct {
	Altitude float64
	Settle   time.Duration
	Stats    tiled.Stats
	Err      error
}

// run moves v's camera through the descent, settling the view at every step.
func (d descent) run(ctx context.Context, v *view.View) ([]stepReport, error) {
	reports := make([]stepReport, 0, d.Steps)
	for i := 0; i < d.Steps; i++ {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		alt := d.altitude(i)
		cam := v.Camera()
		if cam == nil {
			cam = camera.New(d.Target, alt, nil)
		}
		v.SetCamera(cam.Moved(d.Target, alt))

		stepCtx, cancel := context.WithTimeout(ctx, d.Timeout)
		start := time.Now()
		err := v.Settle(stepCtx)
		cancel()

		r := stepReport{Altitude: alt, Settle: time.Since(start), Err: err}
		v.Do(func(layers []*tiled.Layer) {
			for _, l := range layers {
				s := l.Stats()
				r.Stats.Nodes += s.Nodes
				r.Stats.Leaves += s.Leaves
				r.Stats.Visible += s.Visible
				r.Stats.Displayed += s.Displayed
				r.Stats.Pending += s.Pending
				r.Stats.MaxLevel = max(r.Stats.MaxLevel, s.MaxLevel)
			}
		})
		slog.Info("Step", "i", i,
			"altitude", humanize.SIWithDigits(alt, 1, "m"),
			"nodes", humanize.Comma(int64(r.Stats.Nodes)),
			"displayed", humanize.Comma(int64(r.Stats.Displayed)),
			"max.level", r.Stats.MaxLevel,
			"settle", r.Settle.Round(time.Microsecond),
			"error", err)
		reports = append(reports, r)
	}
	return reports, nil
}

func summarize(reports []stepReport) {
	var settles, nodes []float64
	failed := 0
	for _, r := range reports {
		settles = append(settles, float64(r.Settle.Milliseconds()))
		nodes = append(nodes, float64(r.Stats.Nodes))
		if r.Err != nil {
			failed++
		}
	}
	statsMustFloat := func(fn func() (float64, error)) float64 {
		out, err := fn()
		if err != nil {
			return 0
		}
		return out
	}
	settleData := stats.Float64Data(settles)
	nodeData := stats.Float64Data(nodes)
	slog.Info("Simulation done",
		"steps", len(reports),
		"failed", failed,
		"settle.mean.ms", common.DecimalToFixed(statsMustFloat(settleData.Mean), 1),
		"settle.median.ms", common.DecimalToFixed(statsMustFloat(settleData.Median), 1),
		"settle.max.ms", common.DecimalToFixed(statsMustFloat(settleData.Max), 1),
		"nodes.mean", common.DecimalToFixed(statsMustFloat(nodeData.Mean), 0),
		"nodes.max", humanize.Comma(int64(statsMustFloat(nodeData.Max))))
}

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Fly a camera down onto a point and report how the tree follows",
	Long: `Descends a camera from --from to --to meters above --lon,--lat in
--steps geometric steps, settling every layer at each step.`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)
		cobra.CheckErr(bindLayerFlags(cmd))

		flags := cmd.Flags()
		lon, _ := flags.GetFloat64("lon")
		lat, _ := flags.GetFloat64("lat")
		from, _ := flags.GetFloat64("from")
		to, _ := flags.GetFloat64("to")
		steps, _ := flags.GetInt("steps")
		timeout, _ := flags.GetDuration("step-timeout")
		if from <= 0 || to <= 0 || steps < 1 {
			cobra.CheckErr(fmt.Errorf("need positive altitudes and at least one step"))
		}

		ctx, cancel := common.InterruptContext(context.Background())
		defer cancel()

		d := descent{Target: orb.Point{lon, lat}, From: from, To: to, Steps: steps, Timeout: timeout}
		cam := camera.New(d.Target, from, params.DefaultViewConfig())
		v, release, err := newView(ctx, cam, params.DefaultViewConfig())
		cobra.CheckErr(err)
		defer release()

		reports, err := d.run(ctx, v)
		summarize(reports)
		if err != nil {
			slog.Warn("Simulation interrupted", "error", err)
		}
		if err := exportMetrics(v); err != nil {
			slog.Error("Failed to export metrics", "error", err)
		}
	},
}

// exportMetrics posts every layer's and scheduler's metrics to InfluxDB,
// if an URL is configured.
func exportMetrics(v *view.View) error {
	config := &params.InfluxDBConfig{
		URL:    viper.GetString("influx-url"),
		Token:  viper.GetString("influx-token"),
		Org:    viper.GetString("influx-org"),
		Bucket: viper.GetString("influx-bucket"),
	}
	if !config.Enabled() {
		return nil
	}
	at := time.Now()
	var points []*write.Point
	v.Do(func(layers []*tiled.Layer) {
		for _, l := range layers {
			tags := map[string]string{"layer": l.ID()}
			points = append(points, influxdb.RegistryPoints("tilelayer", tags, l.Registry(), at)...)
			points = append(points, influxdb.RegistryPoints("scheduler", tags, l.Scheduler().Registry(), at)...)
		}
	})
	slog.Info("Exporting metrics", "url", config.URL, "points", len(points))
	return influxdb.Export(config, points)
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	addLayerFlags(simulateCmd)

	flags := simulateCmd.Flags()
	flags.Float64("lon", 13.4, "target longitude")
	flags.Float64("lat", 52.5, "target latitude")
	flags.Float64("from", 2e7, "starting altitude, meters")
	flags.Float64("to", 500, "final altitude, meters")
	flags.Int("steps", 12, "number of camera positions")
	flags.Duration("step-timeout", 30*time.Second, "how long one step may take to settle")

	influx := params.DefaultInfluxDBConfig()
	flags.String("influx-url", influx.URL, "InfluxDB URL to export metrics to when done; empty to skip")
	flags.String("influx-token", influx.Token, "InfluxDB API token")
	flags.String("influx-org", influx.Org, "InfluxDB organization")
	flags.String("influx-bucket", influx.Bucket, "InfluxDB bucket")
}

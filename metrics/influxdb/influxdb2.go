package influxdb

import (
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rotblauer/globetiles/params"
)

// RegistryPoints returns one point per metric in reg, measured as measurement
// and tagged with tags plus the metric's name. Metric kinds without a
// mapping are skipped.
func RegistryPoints(measurement string, tags map[string]string, reg metrics.Registry, at time.Time) []*write.Point {
	var points []*write.Point
	reg.Each(func(name string, i interface{}) {
		fields := map[string]interface{}{}
		switch m := i.(type) {
		case metrics.Counter:
			fields["count"] = m.Snapshot().Count()
		case metrics.Gauge:
			fields["value"] = m.Snapshot().Value()
		case metrics.Meter:
			s := m.Snapshot()
			fields["count"] = s.Count()
			fields["rate1"] = s.Rate1()
			fields["rate_mean"] = s.RateMean()
		case metrics.Timer:
			s := m.Snapshot()
			fields["count"] = s.Count()
			fields["mean"] = s.Mean()
			fields["p50"] = s.Percentile(0.5)
			fields["p95"] = s.Percentile(0.95)
			fields["max"] = s.Max()
		default:
			return
		}
		t := map[string]string{"metric": name}
		for k, v := range tags {
			t[k] = v
		}
		points = append(points, influxdb2.NewPoint(measurement, t, fields, at))
	})
	// Each walks a map.
	sort.Slice(points, func(i, j int) bool {
		return metricTag(points[i]) < metricTag(points[j])
	})
	return points
}

func metricTag(p *write.Point) string {
	for _, t := range p.TagList() {
		if t.Key == "metric" {
			return t.Value
		}
	}
	return ""
}

// Export posts points to an InfluxDB Write API.
// The Write API buffers; Export flushes before returning.
// The last error encountered is returned.
func Export(config *params.InfluxDBConfig, points []*write.Point) error {
	opts := influxdb2.DefaultOptions()
	opts.SetPrecision(time.Millisecond)
	client := influxdb2.NewClientWithOptions(config.URL, config.Token, opts)
	writeAPI := client.WriteAPI(config.Org, config.Bucket)

	// Must be drained or the writer blocks.
	errorsCh := writeAPI.Errors()
	var err error
	wait := sync.WaitGroup{}
	wait.Add(1)
	go func() {
		defer wait.Done()
		for e := range errorsCh {
			if e != nil {
				err = e
			}
		}
	}()

	for _, p := range points {
		writeAPI.WritePoint(p)
	}
	writeAPI.Flush()
	client.Close()
	wait.Wait()
	return err
}

// Package mesh is a reference tile builder. It materializes each extent as
// a lon/lat outline, which is enough to serve, inspect and test a tile tree
// without a renderer.
package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/rotblauer/globetiles/extent"
	"github.com/rotblauer/globetiles/tile"
)

// Outline is the object of one tile.
type Outline struct {
	Key     string
	Level   int
	Polygon orb.Polygon
	Center  orb.Point

	// Offset is the center's displacement from the parent's center,
	// set when the outline is placed under its parent.
	Offset orb.Point

	shown    atomic.Bool
	disposed atomic.Bool
}

func (o *Outline) Shown() bool    { return o.shown.Load() && !o.disposed.Load() }
func (o *Outline) Disposed() bool { return o.disposed.Load() }

func (o *Outline) Dispose() {
	o.disposed.Store(true)
}

// Place implements tile.Placer.
func (o *Outline) Place(parent tile.Object) {
	p, ok := parent.(*Outline)
	if !ok {
		return
	}
	o.Offset = orb.Point{o.Center[0] - p.Center[0], o.Center[1] - p.Center[1]}
}

// Feature returns the outline as a GeoJSON feature.
func (o *Outline) Feature() *geojson.Feature {
	f := geojson.NewFeature(o.Polygon)
	f.ID = o.Key
	f.Properties["key"] = o.Key
	f.Properties["level"] = o.Level
	return f
}

// Builder builds Outlines. Delay simulates the cost of building a real mesh.
type Builder struct {
	Delay time.Duration

	built atomic.Int64
}

func NewBuilder(delay time.Duration) *Builder {
	return &Builder{Delay: delay}
}

// Built returns the number of outlines built so far.
func (b *Builder) Built() int64 { return b.built.Load() }

func (b *Builder) Build(ctx context.Context, parent *tile.Info, e extent.Extent) (tile.Object, error) {
	if err := extent.Validate(e); err != nil {
		return nil, err
	}
	if b.Delay > 0 {
		t := time.NewTimer(b.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	level := 0
	if parent != nil {
		level = parent.Level + 1
	}
	poly := extent.Polygon(e)
	center, _ := planar.CentroidArea(poly)
	o := &Outline{
		Key:     e.Key(),
		Level:   level,
		Polygon: poly,
		Center:  center,
	}
	o.shown.Store(true)
	b.built.Add(1)
	slog.Debug("Built outline", "tile", e.Key(), "level", level)
	return o, nil
}

func (o *Outline) String() string {
	return fmt.Sprintf("outline(%s@%d)", o.Key, o.Level)
}

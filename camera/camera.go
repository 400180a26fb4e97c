// Package camera is a minimal viewpoint model: a point above the surface
// looking straight down. It is enough to cull tiles and estimate their size
// on screen; real projections live with the renderer.
package camera

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/rotblauer/globetiles/extent"
	"github.com/rotblauer/globetiles/params"
)

const earthRadius = orb.EarthRadius

type Camera struct {
	// Position is the lon/lat point under the camera.
	Position orb.Point

	// Altitude above the surface in meters.
	Altitude float64

	// FovY is the vertical field of view in degrees.
	FovY float64

	// ViewportHeight is in pixels.
	ViewportHeight float64
}

func New(pos orb.Point, altitude float64, config *params.ViewConfig) *Camera {
	if config == nil {
		config = params.DefaultViewConfig()
	}
	return &Camera{
		Position:       pos,
		Altitude:       altitude,
		FovY:           config.FovY,
		ViewportHeight: config.ViewportHeight,
	}
}

// Moved returns a copy of c at a new position and altitude.
func (c *Camera) Moved(pos orb.Point, altitude float64) *Camera {
	cp := *c
	cp.Position = pos
	cp.Altitude = altitude
	return &cp
}

func (c *Camera) halfFov() float64 {
	return c.FovY * math.Pi / 360
}

// Reach is the ground distance, in meters, from Position to the edge of view.
// It is bounded by the horizon.
func (c *Camera) Reach() float64 {
	h := math.Max(c.Altitude, 0)
	footprint := 2 * h * math.Tan(c.halfFov())
	horizon := math.Sqrt(2*earthRadius*h + h*h)
	return math.Min(footprint, horizon)
}

// View is the lon/lat bound of the ground in sight. A view across the
// antimeridian is unwrapped, with Max[0] past 180.
func (c *Camera) View() orb.Bound {
	b := geo.NewBoundAroundPoint(c.Position, c.Reach())
	if math.IsNaN(b.Min[0]) || math.IsNaN(b.Max[0]) {
		b.Min[0], b.Max[0] = -180, 180
	}
	if b.Min[0] > b.Max[0] {
		b.Max[0] += 360
	}
	return b
}

// Sees reports whether any part of b may be in view.
func (c *Camera) Sees(b orb.Bound) bool {
	if c.Reach() >= math.Pi*earthRadius/2 {
		return true
	}
	return extent.Intersects(c.View(), b)
}

// Distance is the straight line distance in meters from the camera to the
// closest point of b, going whichever way around the antimeridian is shorter.
func (c *Camera) Distance(b orb.Bound) float64 {
	ground := math.Inf(1)
	for _, shift := range []float64{0, -360, 360} {
		lon := c.Position[0] + shift
		closest := orb.Point{
			clamp(lon, b.Min[0], b.Max[0]),
			clamp(c.Position[1], b.Min[1], b.Max[1]),
		}
		ground = math.Min(ground, geo.Distance(orb.Point{lon, c.Position[1]}, closest))
	}
	return math.Hypot(ground, c.Altitude)
}

// ProjectedSize estimates the on-screen size, in pixels, of b's diagonal.
func (c *Camera) ProjectedSize(b orb.Bound) float64 {
	d := c.Distance(b)
	if d <= 0 {
		return math.Inf(1)
	}
	size := geo.Distance(b.Min, b.Max)
	return size / d * c.ViewportHeight / (2 * math.Tan(c.halfFov()))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

package extent

import (
	"math"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

// Bounds crossing the antimeridian are kept unwrapped: Min[0] stays in
// [-180,180] and Max[0] runs past 180. Views near the antimeridian may do
// the same on either side.

// Intersects reports whether a and b overlap, modulo 360 degrees of longitude.
func Intersects(a, b orb.Bound) bool {
	for _, shift := range []float64{0, -360, 360} {
		s := orb.Bound{
			Min: orb.Point{b.Min[0] + shift, b.Min[1]},
			Max: orb.Point{b.Max[0] + shift, b.Max[1]},
		}
		if a.Intersects(s) {
			return true
		}
	}
	return false
}

// Deepest zooms each extent kind can be subdivided to.
const (
	MaxS2Zoom         = s2.MaxLevel
	MaxMapTileZoom    = 30
	MaxGeographicZoom = 48
)

// MaxZoom returns the deepest zoom e's scheme can represent.
func MaxZoom(e Extent) int {
	switch e.(type) {
	case S2Cell:
		return MaxS2Zoom
	case MapTile:
		return MaxMapTileZoom
	case Geographic:
		return MaxGeographicZoom
	}
	return math.MaxInt
}

// Divisible reports whether e has children in its scheme.
func Divisible(e Extent) bool {
	return e.Zoom() < MaxZoom(e)
}

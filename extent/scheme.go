package extent

import (
	"errors"
	"fmt"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

// Scheme names a tiling of the whole surface into root extents.
type Scheme string

const (
	// SchemeS2 uses the six S2 cube faces.
	SchemeS2 Scheme = "s2"

	// SchemeWebMercator uses slippy map tiles.
	SchemeWebMercator Scheme = "webmercator"

	// SchemeGeographic uses two lon/lat hemispheres, west and east.
	SchemeGeographic Scheme = "geographic"
)

// MaxRootZoom bounds the size of a root set.
const MaxRootZoom = 6

var ErrUnknownScheme = errors.New("unknown tiling scheme")

// Roots returns the extents covering the full domain of the scheme at zoom.
func Roots(s Scheme, zoom int) ([]Extent, error) {
	if zoom < 0 || zoom > MaxRootZoom {
		return nil, fmt.Errorf("root zoom %d out of range [0,%d]", zoom, MaxRootZoom)
	}
	switch s {
	case SchemeS2:
		return S2Roots(CellLevel(zoom)), nil
	case SchemeWebMercator:
		n := uint32(1) << zoom
		out := make([]Extent, 0, n*n)
		for y := uint32(0); y < n; y++ {
			for x := uint32(0); x < n; x++ {
				out = append(out, NewMapTile(x, y, zoom))
			}
		}
		return out, nil
	case SchemeGeographic:
		out := []Extent{
			Geographic{B: orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{0, 90}}},
			Geographic{B: orb.Bound{Min: orb.Point{0, -90}, Max: orb.Point{180, 90}}},
		}
		for i := 0; i < zoom; i++ {
			next := make([]Extent, 0, len(out)*4)
			for _, e := range out {
				q := e.Subdivide()
				next = append(next, q[:]...)
			}
			out = next
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, s)
}

// S2Roots returns every cell at level, walking each face in Hilbert order.
func S2Roots(level CellLevel) []Extent {
	out := []Extent{}
	for face := 0; face < 6; face++ {
		id := s2.CellIDFromFace(face)
		if level == CellLevel0 {
			out = append(out, S2Cell{id})
			continue
		}
		end := id.ChildEndAtLevel(int(level))
		for ci := id.ChildBeginAtLevel(int(level)); ci != end; ci = ci.Next() {
			out = append(out, S2Cell{ci})
		}
	}
	return out
}

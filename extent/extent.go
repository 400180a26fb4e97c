// Package extent describes the regions covered by tiles and the schemes used
// to cut a surface into root tiles.
package extent

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Extent is the region owned by a tile. Extents are values and never change
// once created.
type Extent interface {
	// Key uniquely identifies the extent within its scheme.
	Key() string

	// Bound is the lon/lat bounding box of the extent.
	Bound() orb.Bound

	// Zoom is the absolute depth of the extent in its scheme.
	// Data sources express their coverage limits in this unit.
	Zoom() int

	// Subdivide quarters the extent. The order is fixed per scheme.
	Subdivide() [4]Extent
}

var ErrMalformed = errors.New("malformed extent")

// Validate reports whether e describes a usable, non-degenerate region.
func Validate(e Extent) error {
	if e == nil {
		return fmt.Errorf("%w: nil", ErrMalformed)
	}
	b := e.Bound()
	for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s has non-finite bound", ErrMalformed, e.Key())
		}
	}
	if b.Min[0] >= b.Max[0] || b.Min[1] >= b.Max[1] {
		return fmt.Errorf("%w: %s has empty bound %v", ErrMalformed, e.Key(), b)
	}
	return nil
}

// Polygon returns the outline of the extent.
func Polygon(e Extent) orb.Polygon {
	if c, ok := e.(S2Cell); ok {
		return c.Polygon()
	}
	return e.Bound().ToPolygon()
}

// Geographic is a plain lon/lat rectangle, quartered at its center.
type Geographic struct {
	B orb.Bound
	Z int
}

func (g Geographic) Key() string {
	return fmt.Sprintf("geo/%d/%g,%g,%g,%g", g.Z, g.B.Min[0], g.B.Min[1], g.B.Max[0], g.B.Max[1])
}

func (g Geographic) Bound() orb.Bound { return g.B }

func (g Geographic) Zoom() int { return g.Z }

// Subdivide returns the quadrants in NW, NE, SW, SE order.
func (g Geographic) Subdivide() [4]Extent {
	c := g.B.Center()
	z := g.Z + 1
	return [4]Extent{
		Geographic{B: orb.Bound{Min: orb.Point{g.B.Min[0], c[1]}, Max: orb.Point{c[0], g.B.Max[1]}}, Z: z},
		Geographic{B: orb.Bound{Min: c, Max: g.B.Max}, Z: z},
		Geographic{B: orb.Bound{Min: g.B.Min, Max: c}, Z: z},
		Geographic{B: orb.Bound{Min: orb.Point{c[0], g.B.Min[1]}, Max: orb.Point{g.B.Max[0], c[1]}}, Z: z},
	}
}

func (g Geographic) String() string { return g.Key() }

package extent

import (
	"math"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

// CellLevel represents the S2 cell level, from 0-30.
// See https://s2geometry.io/resources/s2cell_statistics.html for sizes.
type CellLevel int

const (
	// CellLevel0 covers earth in 6 cells.
	CellLevel0 CellLevel = 0

	// CellLevel5 cells are continental sized, ~83,000 km2.
	CellLevel5 CellLevel = 5

	// CellLevel8 is about a day's walk/ride across.
	CellLevel8 CellLevel = 8

	// CellLevel13 is about a kilometer (square).
	CellLevel13 CellLevel = 13

	// CellLevel16 is approximately 140m on an edge.
	CellLevel16 CellLevel = 16

	// CellLevel23 is approximately a human body; 1 square meter.
	CellLevel23 CellLevel = 23

	CellLevel30 CellLevel = s2.MaxLevel
)

// S2Cell is a cell of the S2 cube-face hierarchy.
type S2Cell struct {
	ID s2.CellID
}

func (c S2Cell) Key() string { return "s2/" + c.ID.ToToken() }

// Bound is the cell's lon/lat rectangle. Cells straddling the antimeridian
// get an unwrapped bound, with Max[0] past 180.
func (c S2Cell) Bound() orb.Bound {
	rect := s2.CellFromCellID(c.ID).RectBound()
	lo, hi := rect.Lng.Lo*180/math.Pi, rect.Lng.Hi*180/math.Pi
	if rect.Lng.IsInverted() {
		hi += 360
	}
	return orb.Bound{
		Min: orb.Point{lo, rect.Lat.Lo * 180 / math.Pi},
		Max: orb.Point{hi, rect.Lat.Hi * 180 / math.Pi},
	}
}

func (c S2Cell) Zoom() int { return c.ID.Level() }

// Subdivide returns the children in Hilbert curve order.
func (c S2Cell) Subdivide() [4]Extent {
	ch := c.ID.Children()
	return [4]Extent{S2Cell{ch[0]}, S2Cell{ch[1]}, S2Cell{ch[2]}, S2Cell{ch[3]}}
}

// Polygon returns the cell's four vertices as a ring.
func (c S2Cell) Polygon() orb.Polygon {
	cell := s2.CellFromCellID(c.ID)
	ring := make(orb.Ring, 0, 5)
	for i := 0; i < 4; i++ {
		ll := s2.LatLngFromPoint(cell.Vertex(i))
		ring = append(ring, orb.Point{ll.Lng.Degrees(), ll.Lat.Degrees()})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

func (c S2Cell) String() string { return c.Key() }

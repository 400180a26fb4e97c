package extent

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MapTile is a slippy-map (web mercator z/x/y) tile.
type MapTile struct {
	T maptile.Tile
}

func NewMapTile(x, y uint32, z int) MapTile {
	return MapTile{T: maptile.New(x, y, maptile.Zoom(z))}
}

func (m MapTile) Key() string { return fmt.Sprintf("%d/%d/%d", m.T.Z, m.T.X, m.T.Y) }

func (m MapTile) Bound() orb.Bound { return m.T.Bound() }

func (m MapTile) Zoom() int { return int(m.T.Z) }

// Subdivide returns the children in maptile order:
// top-left, top-right, bottom-right, bottom-left.
func (m MapTile) Subdivide() [4]Extent {
	ch := m.T.Children()
	return [4]Extent{MapTile{ch[0]}, MapTile{ch[1]}, MapTile{ch[2]}, MapTile{ch[3]}}
}

func (m MapTile) String() string { return m.Key() }

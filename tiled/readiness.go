package tiled

import (
	"github.com/rotblauer/globetiles/datalayer"
	"github.com/rotblauer/globetiles/tile"
)

// HasEnoughTexturesToSubdivide reports whether every attached layer that
// could paint n has loaded its texture for it. Frozen layers, layers not
// ready yet, layers that do not cover n and layers that failed on n place
// no constraint; hidden color layers neither.
func HasEnoughTexturesToSubdivide(c *Context, n *tile.Node) bool {
	for _, l := range c.ElevationLayers {
		if blocks(l, n) {
			return false
		}
	}
	for _, l := range c.ColorLayers {
		if !l.Visible() {
			continue
		}
		if blocks(l, n) {
			return false
		}
	}
	return true
}

func blocks(l datalayer.Layer, n *tile.Node) bool {
	if l.Frozen() || !l.Ready() || !l.Covers(n.Extent()) {
		return false
	}
	if st, ok := n.LayerState(l.ID()); ok && st.InError() {
		return false
	}
	return !l.Loaded(n)
}

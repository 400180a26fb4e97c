// Package datalayer provides the color and elevation layers attached to a
// tile layer, and the status API the tile layer reads to decide whether a
// node is ready to subdivide.
package datalayer

import (
	"github.com/rotblauer/globetiles/extent"
	"github.com/rotblauer/globetiles/params"
	"github.com/rotblauer/globetiles/tile"
)

type Kind = params.DataLayerKind

const (
	KindColor     = params.DataLayerColor
	KindElevation = params.DataLayerElevation
)

// Layer is the read-only view of a data layer.
type Layer interface {
	ID() string
	Kind() Kind
	Frozen() bool
	Ready() bool
	Visible() bool
	ZoomMax() int

	// Covers reports whether e lies within the source's coverage limits,
	// zoom limits included.
	Covers(e extent.Extent) bool

	// Loaded reports whether the layer's texture for n is loaded.
	Loaded(n *tile.Node) bool
}

// Attachment is a data layer updated alongside every node its tile layer visits.
type Attachment interface {
	Layer

	// Update requests whatever n still needs from this layer. It does not block.
	Update(n *tile.Node)

	// Resolve applies finished loads to their nodes. It must run on the update turn.
	Resolve() int

	// Pending returns the number of loads not yet resolved.
	Pending() int
}

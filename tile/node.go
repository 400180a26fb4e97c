// Package tile holds the quadtree of tile nodes.
//
// Nodes live in an arena (Tree) keyed by a stable ID. A parent owns its
// children; a child only knows its parent's ID, so removing a subtree never
// leaves dangling pointers behind, only IDs that no longer resolve.
package tile

import (
	"time"

	"github.com/rotblauer/globetiles/extent"
)

// ID identifies a node within its Tree. The zero ID means "none".
type ID uint64

// Status is the load state of one attached data layer for one node.
type Status int

const (
	StatusNotRequested Status = iota
	StatusPending
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusNotRequested:
		return "not-requested"
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// LayerState is the per-layer status record kept on a node.
type LayerState struct {
	Status    Status
	Err       error
	UpdatedAt time.Time
}

func (s LayerState) InError() bool { return s.Status == StatusError }

// Object is the renderable representation of a tile.
// It is built and drawn by collaborators outside this package.
type Object interface {
	// Shown reports whether the object's material is in a drawable state.
	Shown() bool

	// Dispose releases the resources held by the object.
	Dispose()
}

// Placer is implemented by objects positioned relative to their parent's
// object. Place is called once a child has been attached.
type Placer interface {
	Place(parent Object)
}

// Info is a copy of a node's immutable fields, safe to hand to other goroutines.
type Info struct {
	ID     ID
	Extent extent.Extent
	Level  int
}

// Node is one cell of the quadtree.
type Node struct {
	id       ID
	extent   extent.Extent
	level    int
	parent   ID
	children []ID
	detached bool

	// PendingSubdivision is true exactly while a subdivision command for
	// this node is outstanding.
	PendingSubdivision bool

	// Visible is the result of the last culling test.
	Visible bool

	// Displayed is whether the node's own object is currently shown.
	// A visible node is hidden once its children take over.
	Displayed bool

	// Object is nil until the node has been materialized.
	Object Object

	layerState map[string]LayerState
}

func (n *Node) ID() ID                { return n.id }
func (n *Node) Extent() extent.Extent { return n.extent }
func (n *Node) Level() int            { return n.level }
func (n *Node) ParentID() ID          { return n.parent }
func (n *Node) IsRoot() bool          { return n.parent == 0 }
func (n *Node) HasChildren() bool     { return len(n.children) > 0 }
func (n *Node) NumChildren() int      { return len(n.children) }

// Detached reports whether the node has been removed from its tree.
func (n *Node) Detached() bool { return n.detached }

func (n *Node) ChildIDs() []ID {
	out := make([]ID, len(n.children))
	copy(out, n.children)
	return out
}

func (n *Node) Info() Info {
	return Info{ID: n.id, Extent: n.extent, Level: n.level}
}

// LayerState returns the load state recorded for the data layer id.
func (n *Node) LayerState(id string) (LayerState, bool) {
	s, ok := n.layerState[id]
	return s, ok
}

// SetLayerState is meant for a data layer's own load callbacks.
func (n *Node) SetLayerState(id string, s LayerState) {
	if n.layerState == nil {
		n.layerState = map[string]LayerState{}
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	n.layerState[id] = s
}

func (n *Node) String() string {
	if n.extent == nil {
		return "tile(nil)"
	}
	return n.extent.Key()
}

package tiled

import (
	"fmt"
	"math"

	"github.com/rotblauer/globetiles/camera"
	"github.com/rotblauer/globetiles/datalayer"
	"github.com/rotblauer/globetiles/scheduler"
	"github.com/rotblauer/globetiles/tile"
)

// Unbounded is the MaxElevationLevel of a context with no elevation layer attached.
const Unbounded = math.MaxInt

type SourceKind int

const (
	// SourceUnconditional forces a walk of the whole root set.
	SourceUnconditional SourceKind = iota

	// SourceCamera is a camera move. It always forces a full walk.
	SourceCamera

	// SourceLayer is a change to a whole layer, eg. a data layer toggled visible.
	SourceLayer

	// SourceNode is a change to one node of a layer, eg. a subdivision landing.
	SourceNode
)

func (k SourceKind) String() string {
	switch k {
	case SourceUnconditional:
		return "unconditional"
	case SourceCamera:
		return "camera"
	case SourceLayer:
		return "layer"
	case SourceNode:
		return "node"
	}
	return "unknown"
}

// Source is the origin of a change request.
type Source struct {
	Kind  SourceKind
	Layer string
	Node  tile.ID
}

func Unconditional() Source { return Source{Kind: SourceUnconditional} }

func CameraMoved() Source { return Source{Kind: SourceCamera} }

func LayerChanged(layer string) Source { return Source{Kind: SourceLayer, Layer: layer} }

func NodeChanged(layer string, id tile.ID) Source {
	return Source{Kind: SourceNode, Layer: layer, Node: id}
}

func (s Source) String() string {
	switch s.Kind {
	case SourceLayer:
		return fmt.Sprintf("layer(%s)", s.Layer)
	case SourceNode:
		return fmt.Sprintf("node(%s/%d)", s.Layer, s.Node)
	}
	return s.Kind.String()
}

// Notifier receives change requests. A View implements it.
type Notifier interface {
	NotifyChange(src Source, forceFullRedraw bool)
}

type NotifierFunc func(src Source, forceFullRedraw bool)

func (f NotifierFunc) NotifyChange(src Source, forceFullRedraw bool) { f(src, forceFullRedraw) }

// Diagnostics observes update passes.
type Diagnostics interface {
	// UpdateStarted is called once per pass with the level the walk starts from.
	UpdateStarted(layer string, level int)
}

type DiagnosticsFunc func(layer string, level int)

func (f DiagnosticsFunc) UpdateStarted(layer string, level int) { f(layer, level) }

// Context is the per-pass update context. The data layer lists and
// MaxElevationLevel are refreshed by ComputeNodesToUpdate at the start of
// every pass; the rest is supplied by the caller.
type Context struct {
	Camera    *camera.Camera
	View      Notifier
	Scheduler *scheduler.Scheduler[Children]

	ColorLayers     []datalayer.Layer
	ElevationLayers []datalayer.Layer

	// MaxElevationLevel is the deepest zoom any elevation layer serves.
	// The built-in criterion and gate do not read it; it is there for
	// criteria that stop refining geometry once elevation runs out.
	MaxElevationLevel int

	Diagnostics Diagnostics
}

func (c *Context) notify(src Source, full bool) {
	if c.View != nil {
		c.View.NotifyChange(src, full)
	}
}

func (c *Context) started(layer string, level int) {
	if c.Diagnostics != nil {
		c.Diagnostics.UpdateStarted(layer, level)
	}
}

// Updatable is a layer driven by a View: one ComputeNodesToUpdate per pass,
// then one UpdateNode per visited node, depth first, descending into the
// nodes UpdateNode returns.
type Updatable interface {
	ID() string
	ComputeNodesToUpdate(c *Context, sources []Source) []*tile.Node
	UpdateNode(c *Context, n *tile.Node) []*tile.Node
}

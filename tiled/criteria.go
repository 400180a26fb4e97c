package tiled

import (
	"context"

	"github.com/rotblauer/globetiles/camera"
	"github.com/rotblauer/globetiles/extent"
	"github.com/rotblauer/globetiles/tile"
)

// Culler decides whether a node is outside the camera's view.
type Culler interface {
	Cull(n *tile.Node, cam *camera.Camera) bool
}

type CullerFunc func(n *tile.Node, cam *camera.Camera) bool

func (f CullerFunc) Cull(n *tile.Node, cam *camera.Camera) bool { return f(n, cam) }

// BoundCuller culls nodes whose bound the camera cannot see.
// Nothing is culled without a camera.
type BoundCuller struct{}

func (BoundCuller) Cull(n *tile.Node, cam *camera.Camera) bool {
	if cam == nil {
		return false
	}
	return !cam.Sees(n.Extent().Bound())
}

// Criterion decides whether a visible node is detailed enough.
type Criterion interface {
	ShouldSubdivide(c *Context, l *Layer, n *tile.Node) bool
}

type CriterionFunc func(c *Context, l *Layer, n *tile.Node) bool

func (f CriterionFunc) ShouldSubdivide(c *Context, l *Layer, n *tile.Node) bool { return f(c, l, n) }

// ScreenSpaceCriterion splits nodes whose projected size exceeds Threshold
// pixels, down to MaxLevel.
type ScreenSpaceCriterion struct {
	Threshold float64
	MaxLevel  int
}

func (s ScreenSpaceCriterion) ShouldSubdivide(c *Context, l *Layer, n *tile.Node) bool {
	if n.Level() >= s.MaxLevel || c.Camera == nil {
		return false
	}
	return c.Camera.ProjectedSize(n.Extent().Bound()) > s.Threshold
}

// Builder materializes the object of one extent. parent is nil for roots.
// Build runs off the update turn and must honor ctx.
type Builder interface {
	Build(ctx context.Context, parent *tile.Info, e extent.Extent) (tile.Object, error)
}

type BuilderFunc func(ctx context.Context, parent *tile.Info, e extent.Extent) (tile.Object, error)

func (f BuilderFunc) Build(ctx context.Context, parent *tile.Info, e extent.Extent) (tile.Object, error) {
	return f(ctx, parent, e)
}

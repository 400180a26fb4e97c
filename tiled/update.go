package tiled

import (
	"github.com/rotblauer/globetiles/extent"
	"github.com/rotblauer/globetiles/tile"
)

// ComputeNodesToUpdate returns the nodes a pass must walk from: the whole
// root set, or the closest common ancestor of every node-level source of
// this layer when that is enough. It refreshes the context's data layer
// lists first.
func (l *Layer) ComputeNodesToUpdate(c *Context, sources []Source) []*tile.Node {
	l.refresh(c)
	roots := l.tree.Roots()

	var ancestor *tile.Node
	resolved := false
	for _, src := range sources {
		switch src.Kind {
		case SourceUnconditional, SourceCamera:
			c.started(l.id, 0)
			return roots
		case SourceLayer:
			if src.Layer == l.id {
				c.started(l.id, 0)
				return roots
			}
		case SourceNode:
			if src.Layer != l.id {
				continue
			}
			n := l.tree.Node(src.Node)
			if !resolved {
				ancestor, resolved = n, true
				continue
			}
			ancestor = FindCommonAncestor(l.tree, ancestor, n)
		}
	}

	if !resolved || ancestor == nil || ancestor.Object == nil {
		c.started(l.id, 0)
		return roots
	}
	c.started(l.id, ancestor.Level())
	return []*tile.Node{ancestor}
}

// FindCommonAncestor returns the closest node that is an ancestor of, or
// equal to, both a and b. It returns nil when either is nil or no longer
// in t, so a fold over many nodes stays nil once it fails.
func FindCommonAncestor(t *tile.Tree, a, b *tile.Node) *tile.Node {
	if a == nil || b == nil {
		return nil
	}
	return t.CommonAncestor(a, b)
}

// UpdateNode applies the per-node rules for one pass and returns the
// children to visit next, if any.
func (l *Layer) UpdateNode(c *Context, n *tile.Node) []*tile.Node {
	if n.Detached() {
		return nil
	}
	// Removing a node detaches its whole subtree, so a live node always has
	// its parent. Should one turn up orphaned anyway, it is torn down quietly.
	if !n.IsRoot() && l.tree.Parent(n) == nil {
		if _, err := l.tree.Remove(n, l.release); err != nil {
			l.logger.Error("Failed to remove orphan", "tile", n, "error", err)
		}
		l.logger.Debug("Removed orphan", "tile", n)
		return nil
	}

	if p := l.tree.Parent(n); p != nil && p.PendingSubdivision {
		n.Displayed = false
		return nil
	}

	n.Visible = !l.culler.Cull(n, c.Camera)
	if !n.Visible {
		n.Displayed = false
		l.prune(n)
		return nil
	}

	if n.PendingSubdivision || (extent.Divisible(n.Extent()) &&
		HasEnoughTexturesToSubdivide(c, n) && l.criterion.ShouldSubdivide(c, l, n)) {
		l.Subdivide(c, n)
		// Shown while its children load, hidden once they are attached.
		n.Displayed = n.PendingSubdivision
		return l.tree.Children(n)
	}

	n.Displayed = true
	if n.Object == nil || n.Object.Shown() {
		l.prune(n)
	}
	return nil
}

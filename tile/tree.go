package tile

import (
	"errors"
	"fmt"

	"github.com/rotblauer/globetiles/extent"
)

// ErrInvariant marks a structural error in the tree. It is a programming error.
var ErrInvariant = errors.New("tile tree invariant violated")

// Tree is an arena of nodes. It is not safe for concurrent use;
// all mutation belongs to the update turn.
type Tree struct {
	nodes map[ID]*Node
	roots []ID
	next  ID
}

func NewTree() *Tree {
	return &Tree{nodes: map[ID]*Node{}}
}

func (t *Tree) alloc(e extent.Extent, level int, parent ID, obj Object) *Node {
	t.next++
	n := &Node{id: t.next, extent: e, level: level, parent: parent, Object: obj}
	t.nodes[n.id] = n
	return n
}

// AddRoot creates a parentless level 0 node.
func (t *Tree) AddRoot(e extent.Extent, obj Object) *Node {
	n := t.alloc(e, 0, 0, obj)
	t.roots = append(t.roots, n.id)
	return n
}

// Node returns the node with id, or nil.
func (t *Tree) Node(id ID) *Node {
	return t.nodes[id]
}

// Contains reports whether n is a live member of the tree.
func (t *Tree) Contains(n *Node) bool {
	return n != nil && t.nodes[n.id] == n
}

// Parent returns n's parent, or nil for roots and orphans.
func (t *Tree) Parent(n *Node) *Node {
	if n == nil || n.parent == 0 {
		return nil
	}
	return t.nodes[n.parent]
}

func (t *Tree) Children(n *Node) []*Node {
	if n == nil || len(n.children) == 0 {
		return nil
	}
	out := make([]*Node, 0, len(n.children))
	for _, id := range n.children {
		if c := t.nodes[id]; c != nil {
			out = append(out, c)
		}
	}
	return out
}

func (t *Tree) Roots() []*Node {
	out := make([]*Node, 0, len(t.roots))
	for _, id := range t.roots {
		out = append(out, t.nodes[id])
	}
	return out
}

func (t *Tree) Len() int { return len(t.nodes) }

// Attach creates the four children of parent at once.
func (t *Tree) Attach(parent *Node, extents [4]extent.Extent, objects [4]Object) ([4]*Node, error) {
	var out [4]*Node
	if !t.Contains(parent) || parent.detached {
		return out, fmt.Errorf("%w: attach to detached node %s", ErrInvariant, parent)
	}
	if len(parent.children) != 0 {
		return out, fmt.Errorf("%w: %s already has %d children", ErrInvariant, parent, len(parent.children))
	}
	parent.children = make([]ID, 0, 4)
	for i := range extents {
		out[i] = t.alloc(extents[i], parent.level+1, parent.id, objects[i])
		parent.children = append(parent.children, out[i].id)
	}
	return out, nil
}

// Prune removes every descendant of n, deepest first, calling onRemove for each.
// It returns the number of nodes removed.
func (t *Tree) Prune(n *Node, onRemove func(*Node)) int {
	if n == nil {
		return 0
	}
	removed := 0
	for _, id := range n.children {
		c := t.nodes[id]
		if c == nil {
			continue
		}
		removed += t.Prune(c, onRemove)
		t.drop(c, onRemove)
		removed++
	}
	n.children = nil
	return removed
}

// Remove removes n and its subtree. Roots cannot be removed.
func (t *Tree) Remove(n *Node, onRemove func(*Node)) (int, error) {
	if n == nil {
		return 0, nil
	}
	if n.IsRoot() && t.Contains(n) {
		return 0, fmt.Errorf("%w: cannot remove root %s", ErrInvariant, n)
	}
	removed := t.Prune(n, onRemove)
	if p := t.Parent(n); p != nil {
		for i, id := range p.children {
			if id == n.id {
				// A parent never keeps fewer than four children.
				p.children = append(p.children[:i:i], p.children[i+1:]...)
				break
			}
		}
		if len(p.children) != 0 {
			removed += t.Prune(p, onRemove)
		}
	}
	if t.Contains(n) {
		t.drop(n, onRemove)
		removed++
	}
	return removed, nil
}

func (t *Tree) drop(n *Node, onRemove func(*Node)) {
	delete(t.nodes, n.id)
	n.detached = true
	if onRemove != nil {
		onRemove(n)
	}
}

// Walk visits the subtree at n in pre-order. Returning false from fn skips
// the visited node's children.
func (t *Tree) Walk(n *Node, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range t.Children(n) {
		t.Walk(c, fn)
	}
}

// Leaves returns every childless node under all roots.
func (t *Tree) Leaves() []*Node {
	out := []*Node{}
	for _, r := range t.Roots() {
		t.Walk(r, func(n *Node) bool {
			if !n.HasChildren() {
				out = append(out, n)
			}
			return true
		})
	}
	return out
}

// CommonAncestor returns the closest node that is an ancestor of, or equal
// to, both a and b. It returns nil if either is no longer in the tree or
// they live under different roots.
func (t *Tree) CommonAncestor(a, b *Node) *Node {
	if !t.Contains(a) || !t.Contains(b) {
		return nil
	}
	for a != nil && b != nil && a.level > b.level {
		a = t.Parent(a)
	}
	for a != nil && b != nil && b.level > a.level {
		b = t.Parent(b)
	}
	for a != nil && b != nil && a != b {
		a, b = t.Parent(a), t.Parent(b)
	}
	if a == nil || b == nil {
		return nil
	}
	return a
}

// Validate checks the structural invariants of the subtree at n.
func (t *Tree) Validate(n *Node) error {
	var err error
	t.Walk(n, func(x *Node) bool {
		if err != nil {
			return false
		}
		err = t.validateNode(x)
		return err == nil
	})
	return err
}

func (t *Tree) validateNode(n *Node) error {
	if !t.Contains(n) {
		return fmt.Errorf("%w: %s is not in the tree", ErrInvariant, n)
	}
	if !n.IsRoot() && t.Parent(n) == nil {
		return fmt.Errorf("%w: %s has a missing parent", ErrInvariant, n)
	}
	switch len(n.children) {
	case 0:
	case 4:
		if n.PendingSubdivision {
			return fmt.Errorf("%w: %s is pending with children attached", ErrInvariant, n)
		}
	default:
		return fmt.Errorf("%w: %s has %d children", ErrInvariant, n, len(n.children))
	}
	for _, c := range t.Children(n) {
		if c.parent != n.id {
			return fmt.Errorf("%w: %s lists foreign child %s", ErrInvariant, n, c)
		}
		if c.level != n.level+1 {
			return fmt.Errorf("%w: child %s level %d under %s level %d", ErrInvariant, c, c.level, n, n.level)
		}
	}
	return nil
}

package tiled

import (
	"context"
	"testing"

	"github.com/rotblauer/globetiles/extent"
	"github.com/rotblauer/globetiles/params"
	"github.com/rotblauer/globetiles/tile"
	"github.com/stretchr/testify/require"
)

// twoLevels builds a layer on the two geographic hemispheres, each
// subdivided twice.
func twoLevels(t *testing.T) (*Layer, *Context) {
	t.Helper()
	config := testConfig()
	config.Scheme = string(extent.SchemeGeographic)
	l, err := New(context.Background(), config, BuilderFunc(build),
		WithCuller(neverCull), WithCriterion(untilLevel(2)))
	require.NoError(t, err)
	t.Cleanup(l.Close)
	c := l.NewContext(nil)
	require.NoError(t, cycle(t, l, c))
	require.NoError(t, cycle(t, l, c))
	require.Len(t, l.tree.Leaves(), 32)
	return l, c
}

func child(l *Layer, n *tile.Node, i int) *tile.Node {
	return l.tree.Children(n)[i]
}

func TestComputeNodesToUpdate(t *testing.T) {
	l, c := twoLevels(t)
	roots := l.Roots()
	west, east := roots[0], roots[1]
	nw := child(l, west, 0)
	g1, g2 := child(l, nw, 0), child(l, nw, 3)
	cousin := child(l, child(l, west, 2), 1)
	node := func(n *tile.Node) Source { return NodeChanged(l.ID(), n.ID()) }

	for _, tc := range []struct {
		name    string
		sources []Source
		want    []*tile.Node
	}{
		{"no sources", nil, roots},
		{"unconditional", []Source{node(g1), Unconditional()}, roots},
		{"camera", []Source{node(g1), node(g2), CameraMoved()}, roots},
		{"this layer", []Source{LayerChanged(l.ID()), node(g1)}, roots},
		{"single node", []Source{node(g1)}, []*tile.Node{g1}},
		{"siblings", []Source{node(g1), node(g2)}, []*tile.Node{nw}},
		{"cousins", []Source{node(g1), node(cousin)}, []*tile.Node{west}},
		{"other roots", []Source{node(g1), node(east)}, roots},
		{"other layer only", []Source{NodeChanged("other", g1.ID())}, roots},
		{"other layers ignored", []Source{LayerChanged("other"), NodeChanged("other", east.ID()), node(g2)}, []*tile.Node{g2}},
		{"unknown node", []Source{node(g1), NodeChanged(l.ID(), 9999)}, roots},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, l.ComputeNodesToUpdate(c, tc.sources))
		})
	}
}

func TestComputeNodesToUpdateNeedsObject(t *testing.T) {
	l, c := twoLevels(t)
	nw := child(l, l.Roots()[0], 0)
	sources := []Source{NodeChanged(l.ID(), child(l, nw, 0).ID()), NodeChanged(l.ID(), child(l, nw, 1).ID())}

	require.Equal(t, []*tile.Node{nw}, l.ComputeNodesToUpdate(c, sources))
	obj := nw.Object
	nw.Object = nil
	require.Equal(t, l.Roots(), l.ComputeNodesToUpdate(c, sources))
	nw.Object = obj
}

func TestComputeNodesToUpdateDiagnostics(t *testing.T) {
	l, c := twoLevels(t)
	var levels []int
	c.Diagnostics = DiagnosticsFunc(func(layer string, level int) {
		require.Equal(t, l.ID(), layer)
		levels = append(levels, level)
	})
	nw := child(l, l.Roots()[0], 0)
	l.ComputeNodesToUpdate(c, []Source{NodeChanged(l.ID(), nw.ID())})
	l.ComputeNodesToUpdate(c, []Source{CameraMoved()})
	require.Equal(t, []int{1, 0}, levels)
}

func TestFindCommonAncestorOrderIndependent(t *testing.T) {
	l, _ := twoLevels(t)
	west := l.Roots()[0]
	a := child(l, child(l, west, 0), 0)
	b := child(l, child(l, west, 0), 2)
	cc := child(l, child(l, west, 3), 3)

	fold := func(nodes ...*tile.Node) *tile.Node {
		acc := nodes[0]
		for _, n := range nodes[1:] {
			acc = FindCommonAncestor(l.tree, acc, n)
		}
		return acc
	}
	perms := [][]*tile.Node{
		{a, b, cc}, {a, cc, b}, {b, a, cc}, {b, cc, a}, {cc, a, b}, {cc, b, a},
	}
	for _, p := range perms {
		require.Same(t, west, fold(p...))
	}
	require.Same(t, a, FindCommonAncestor(l.tree, a, a))
	require.Same(t, west, FindCommonAncestor(l.tree, west, a))

	// Once one side is gone, every order agrees on none.
	_, err := l.tree.Remove(cc, nil)
	require.NoError(t, err)
	for _, p := range perms {
		require.Nil(t, fold(p...))
	}
	require.Nil(t, FindCommonAncestor(l.tree, nil, a))
}

func TestUpdateNodeSkipsRemovedNode(t *testing.T) {
	l, c := twoLevels(t)
	nw := child(l, l.Roots()[0], 0)
	g := child(l, nw, 0)
	_, err := l.tree.Remove(g, nil)
	require.NoError(t, err)
	require.True(t, g.Detached())
	require.Nil(t, l.UpdateNode(c, g))
}

func TestUpdateNodeHidesChildrenOfPendingParent(t *testing.T) {
	l, c := twoLevels(t)
	nw := child(l, l.Roots()[0], 0)
	g := child(l, nw, 0)
	g.Displayed = true

	// Not reachable through Subdivide; forced to exercise the rule.
	nw.PendingSubdivision = true
	require.Nil(t, l.UpdateNode(c, g))
	require.False(t, g.Displayed)
	nw.PendingSubdivision = false
}

func TestUpdateIsPerLayer(t *testing.T) {
	a, err := New(context.Background(), &params.TileLayerConfig{ID: "a", Scheme: "geographic", Strict: true},
		BuilderFunc(build), WithCuller(neverCull), WithCriterion(untilLevel(1)))
	require.NoError(t, err)
	defer a.Close()
	var u Updatable = a
	require.Equal(t, "a", u.ID())
	require.Len(t, u.ComputeNodesToUpdate(a.NewContext(nil), nil), 2)
}

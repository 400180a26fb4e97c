package tiled

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/paulmach/orb"
	"github.com/rotblauer/globetiles/camera"
	"github.com/rotblauer/globetiles/datalayer"
	"github.com/rotblauer/globetiles/extent"
	"github.com/rotblauer/globetiles/params"
	"github.com/rotblauer/globetiles/scheduler"
	"github.com/rotblauer/globetiles/tile"
	"github.com/stretchr/testify/require"
)

type object struct {
	disposed atomic.Bool
}

func (o *object) Shown() bool { return true }
func (o *object) Dispose()    { o.disposed.Store(true) }

var world = extent.Geographic{B: orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}}

func build(ctx context.Context, parent *tile.Info, e extent.Extent) (tile.Object, error) {
	return &object{}, nil
}

var (
	neverCull       = CullerFunc(func(*tile.Node, *camera.Camera) bool { return false })
	alwaysSubdivide = CriterionFunc(func(*Context, *Layer, *tile.Node) bool { return true })
)

func untilLevel(level int) Criterion {
	return CriterionFunc(func(_ *Context, _ *Layer, n *tile.Node) bool { return n.Level() < level })
}

func testConfig() *params.TileLayerConfig {
	config := params.DefaultTileLayerConfig()
	config.ID = "test"
	config.Strict = true
	return config
}

func newTestLayer(t *testing.T, b Builder, opts ...Option) (*Layer, *Context) {
	t.Helper()
	opts = append([]Option{
		WithRoots(world),
		WithCuller(neverCull),
		WithCriterion(alwaysSubdivide),
	}, opts...)
	l, err := New(context.Background(), testConfig(), b, opts...)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l, l.NewContext(nil)
}

func settle(t *testing.T, l *Layer, c *Context) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := l.Settle(ctx, c)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

// cycle runs one update pass and waits for everything it requested.
func cycle(t *testing.T, l *Layer, c *Context, sources ...Source) error {
	t.Helper()
	if len(sources) == 0 {
		sources = []Source{Unconditional()}
	}
	require.NoError(t, l.Update(c, sources...))
	return settle(t, l, c)
}

func counter(l *Layer, name string) int64 {
	return l.Registry().Get(name).(metrics.Counter).Snapshot().Count()
}

// overlapping reports whether a displayed node has a displayed ancestor.
func overlapping(l *Layer) bool {
	for _, n := range l.Displayed() {
		for p := l.tree.Parent(n); p != nil; p = l.tree.Parent(p) {
			if p.Displayed {
				return true
			}
		}
	}
	return false
}

func TestNewRequiresSchemeAndBuilder(t *testing.T) {
	_, err := New(context.Background(), testConfig(), nil)
	require.ErrorIs(t, err, ErrNoBuilder)

	config := testConfig()
	config.Scheme = ""
	_, err = New(context.Background(), config, BuilderFunc(build))
	require.ErrorIs(t, err, ErrNoScheme)

	config.Scheme = "hex"
	_, err = New(context.Background(), config, BuilderFunc(build))
	require.ErrorIs(t, err, ErrNoScheme)
	require.ErrorIs(t, err, extent.ErrUnknownScheme)
}

func TestNewBuildsRootSet(t *testing.T) {
	config := testConfig()
	config.Scheme = string(extent.SchemeS2)
	l, err := New(context.Background(), config, BuilderFunc(build))
	require.NoError(t, err)
	defer l.Close()

	roots := l.Roots()
	require.Len(t, roots, 6)
	for _, r := range roots {
		require.True(t, r.IsRoot())
		require.Zero(t, r.Level())
		require.NotNil(t, r.Object)
	}
}

func TestNewDisposesRootsOnFailure(t *testing.T) {
	var mu sync.Mutex
	var built []*object
	b := BuilderFunc(func(ctx context.Context, parent *tile.Info, e extent.Extent) (tile.Object, error) {
		if e.Bound().Min[0] >= 0 {
			return nil, errors.New("east is down")
		}
		o := &object{}
		mu.Lock()
		built = append(built, o)
		mu.Unlock()
		return o, nil
	})
	config := testConfig()
	config.Scheme = string(extent.SchemeGeographic)
	_, err := New(context.Background(), config, b)
	require.ErrorContains(t, err, "east is down")

	mu.Lock()
	defer mu.Unlock()
	for _, o := range built {
		require.True(t, o.disposed.Load())
	}
}

func TestSubdivisionCycles(t *testing.T) {
	l, c := newTestLayer(t, BuilderFunc(build))
	root := l.Roots()[0]

	require.NoError(t, cycle(t, l, c))
	require.Equal(t, 4, root.NumChildren())
	require.False(t, root.PendingSubdivision)
	for _, child := range l.tree.Children(root) {
		require.Equal(t, 1, child.Level())
		require.NotNil(t, child.Object)
	}

	require.NoError(t, cycle(t, l, c))
	require.Len(t, l.tree.Leaves(), 16)
	require.NoError(t, l.tree.Validate(root))
	require.EqualValues(t, 5, counter(l, "tiles.subdivisions"))
}

func TestBuilderFailureLeavesLeaf(t *testing.T) {
	bad := world.Subdivide()[2].Key()
	var mu sync.Mutex
	var built []*object
	b := BuilderFunc(func(ctx context.Context, parent *tile.Info, e extent.Extent) (tile.Object, error) {
		if e.Key() == bad {
			return nil, errors.New("boom")
		}
		o := &object{}
		mu.Lock()
		built = append(built, o)
		mu.Unlock()
		return o, nil
	})
	l, c := newTestLayer(t, b)
	root := l.Roots()[0]

	err := cycle(t, l, c)
	require.ErrorContains(t, err, "boom")
	require.Zero(t, root.NumChildren())
	require.False(t, root.PendingSubdivision)
	require.EqualValues(t, 1, counter(l, "tiles.failures"))

	mu.Lock()
	for _, o := range built {
		require.True(t, o.disposed.Load())
	}
	mu.Unlock()

	// Surfaced once.
	require.NoError(t, settle(t, l, c))
	require.NoError(t, l.Resolve(c))
}

func TestFailedNodeIsRetried(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	b := BuilderFunc(func(ctx context.Context, parent *tile.Info, e extent.Extent) (tile.Object, error) {
		if parent != nil && fail.Load() {
			return nil, errors.New("boom")
		}
		return &object{}, nil
	})
	l, c := newTestLayer(t, b, WithCriterion(untilLevel(1)))
	root := l.Roots()[0]

	require.Error(t, cycle(t, l, c))
	require.Zero(t, root.NumChildren())

	fail.Store(false)
	require.NoError(t, cycle(t, l, c))
	require.Equal(t, 4, root.NumChildren())
}

func TestCancelledSubdivision(t *testing.T) {
	b := BuilderFunc(func(ctx context.Context, parent *tile.Info, e extent.Extent) (tile.Object, error) {
		if parent != nil {
			return nil, scheduler.ErrCancelled
		}
		return &object{}, nil
	})
	l, c := newTestLayer(t, b)
	root := l.Roots()[0]

	require.NoError(t, cycle(t, l, c))
	require.False(t, root.PendingSubdivision)
	require.Zero(t, root.NumChildren())
	require.EqualValues(t, 1, counter(l, "tiles.cancelled"))
	require.Zero(t, counter(l, "tiles.failures"))
}

func TestStoppedSchedulerCancels(t *testing.T) {
	sched := scheduler.New[Children]("shared", nil)
	b := BuilderFunc(func(ctx context.Context, parent *tile.Info, e extent.Extent) (tile.Object, error) {
		if parent == nil {
			return &object{}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	l, c := newTestLayer(t, b, WithScheduler(sched))
	root := l.Roots()[0]

	require.NoError(t, l.Update(c, Unconditional()))
	require.True(t, root.PendingSubdivision)
	sched.Stop()

	require.NoError(t, settle(t, l, c))
	require.False(t, root.PendingSubdivision)
	require.Zero(t, root.NumChildren())
}

func TestDuplicateRequestGuard(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})
	b := BuilderFunc(func(ctx context.Context, parent *tile.Info, e extent.Extent) (tile.Object, error) {
		if parent == nil {
			return &object{}, nil
		}
		calls.Add(1)
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &object{}, nil
	})
	l, c := newTestLayer(t, b)
	root := l.Roots()[0]

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Update(c, Unconditional()))
	}
	require.Eventually(t, func() bool { return calls.Load() == 4 }, 5*time.Second, time.Millisecond)
	require.NoError(t, l.Update(c, Unconditional()))
	require.Equal(t, 1, l.Pending())
	require.Equal(t, 1, l.Scheduler().Len())
	require.True(t, root.PendingSubdivision)

	close(gate)
	require.NoError(t, settle(t, l, c))
	require.EqualValues(t, 4, calls.Load())
	require.Equal(t, 4, root.NumChildren())
}

func TestDisplayHandoff(t *testing.T) {
	l, c := newTestLayer(t, BuilderFunc(build))
	root := l.Roots()[0]

	require.NoError(t, l.Update(c, Unconditional()))
	require.True(t, root.PendingSubdivision)
	require.True(t, root.Displayed, "a pending node stays shown while its children load")
	require.False(t, overlapping(l))

	require.NoError(t, settle(t, l, c))
	require.False(t, overlapping(l))
	for _, child := range l.tree.Children(root) {
		require.False(t, child.Displayed)
	}

	require.NoError(t, l.Update(c, Unconditional()))
	require.False(t, root.Displayed)
	for _, child := range l.tree.Children(root) {
		require.True(t, child.Displayed)
	}
	require.False(t, overlapping(l))
}

func TestCulledNodeReclaimsChildren(t *testing.T) {
	var cull atomic.Bool
	var removed atomic.Int32
	l, c := newTestLayer(t, BuilderFunc(build),
		WithCriterion(untilLevel(1)),
		WithCuller(CullerFunc(func(*tile.Node, *camera.Camera) bool { return cull.Load() })),
		WithRemovalHook(func(*tile.Node) { removed.Add(1) }),
	)
	root := l.Roots()[0]

	require.NoError(t, cycle(t, l, c))
	children := l.tree.Children(root)
	require.Len(t, children, 4)

	cull.Store(true)
	require.NoError(t, l.Update(c, Unconditional()))
	require.False(t, root.Visible)
	require.False(t, root.Displayed)
	require.Zero(t, root.NumChildren())
	require.EqualValues(t, 4, removed.Load())
	for _, child := range children {
		require.True(t, child.Detached())
		require.True(t, child.Object.(*object).disposed.Load())
	}
}

func TestStableNodeReclaimsChildren(t *testing.T) {
	var deep atomic.Bool
	deep.Store(true)
	criterion := CriterionFunc(func(_ *Context, _ *Layer, n *tile.Node) bool {
		return deep.Load() && n.Level() < 1
	})
	l, c := newTestLayer(t, BuilderFunc(build), WithCriterion(criterion))
	root := l.Roots()[0]

	require.NoError(t, cycle(t, l, c))
	require.Equal(t, 4, root.NumChildren())

	deep.Store(false)
	require.NoError(t, l.Update(c, Unconditional()))
	require.True(t, root.Displayed)
	require.Zero(t, root.NumChildren())
	require.EqualValues(t, 1, counter(l, "tiles.merges"))
}

func TestRemovedNodeCancelsItsSubdivision(t *testing.T) {
	var cull atomic.Bool
	b := BuilderFunc(func(ctx context.Context, parent *tile.Info, e extent.Extent) (tile.Object, error) {
		if parent == nil || parent.Level == 0 {
			return &object{}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	l, c := newTestLayer(t, b,
		WithCuller(CullerFunc(func(n *tile.Node, _ *camera.Camera) bool { return cull.Load() && n.IsRoot() })),
	)
	root := l.Roots()[0]

	require.NoError(t, cycle(t, l, c))
	children := l.tree.Children(root)
	require.Len(t, children, 4)

	require.NoError(t, l.Update(c, Unconditional()))
	for _, child := range children {
		require.True(t, child.PendingSubdivision)
	}

	cull.Store(true)
	require.NoError(t, l.Update(c, Unconditional()))
	require.Zero(t, root.NumChildren())
	require.NoError(t, settle(t, l, c))
	require.Zero(t, l.Pending())
	require.EqualValues(t, 4, counter(l, "tiles.cancelled"))
}

func TestSubdivisionNotifiesView(t *testing.T) {
	l, c := newTestLayer(t, BuilderFunc(build), WithCriterion(untilLevel(1)))
	var got []Source
	var full []bool
	c.View = NotifierFunc(func(src Source, forceFullRedraw bool) {
		got = append(got, src)
		full = append(full, forceFullRedraw)
	})

	require.NoError(t, cycle(t, l, c))
	require.Equal(t, []Source{NodeChanged(l.ID(), l.Roots()[0].ID())}, got)
	require.Equal(t, []bool{false}, full)
}

func TestAttachmentsUpdatedPerNode(t *testing.T) {
	f := &fakeLayer{id: "imagery", kind: datalayer.KindColor, visible: true, ready: true, covers: true, loaded: true}
	l, c := newTestLayer(t, BuilderFunc(build), WithCriterion(untilLevel(1)), WithAttachments(f))

	require.NoError(t, cycle(t, l, c))
	require.Equal(t, 1, f.updates)
	require.NoError(t, cycle(t, l, c))
	require.Equal(t, 1+5, f.updates)
}

func TestCloseDisposesTree(t *testing.T) {
	l, err := New(context.Background(), testConfig(), BuilderFunc(build),
		WithRoots(world), WithCuller(neverCull), WithCriterion(untilLevel(1)))
	require.NoError(t, err)
	c := l.NewContext(nil)
	require.NoError(t, cycle(t, l, c))

	var objects []*object
	for _, r := range l.Roots() {
		l.tree.Walk(r, func(n *tile.Node) bool {
			objects = append(objects, n.Object.(*object))
			return true
		})
	}
	require.Len(t, objects, 5)
	l.Close()
	for _, o := range objects {
		require.True(t, o.disposed.Load())
	}
}

func TestStats(t *testing.T) {
	l, c := newTestLayer(t, BuilderFunc(build), WithCriterion(untilLevel(2)))
	require.NoError(t, cycle(t, l, c))
	require.NoError(t, cycle(t, l, c))
	require.NoError(t, l.Update(c, Unconditional()))

	s := l.Stats()
	require.Equal(t, 21, s.Nodes)
	require.Equal(t, 16, s.Leaves)
	require.Equal(t, 16, s.Displayed)
	require.Equal(t, 21, s.Visible)
	require.Zero(t, s.Pending)
	require.Equal(t, 2, s.MaxLevel)
}

func TestCriteriaWithCamera(t *testing.T) {
	cam := camera.New(orb.Point{10, 10}, 1000, params.DefaultViewConfig())
	l, c := newTestLayer(t, BuilderFunc(build))
	c.Camera = cam

	near := l.tree.AddRoot(extent.Geographic{B: orb.Bound{Min: orb.Point{9.99, 9.99}, Max: orb.Point{10.01, 10.01}}}, &object{})
	far := l.tree.AddRoot(extent.Geographic{B: orb.Bound{Min: orb.Point{-100, -50}, Max: orb.Point{-90, -40}}}, &object{})

	require.False(t, BoundCuller{}.Cull(near, cam))
	require.True(t, BoundCuller{}.Cull(far, cam))
	require.False(t, BoundCuller{}.Cull(far, nil))

	sse := ScreenSpaceCriterion{Threshold: 384, MaxLevel: 18}
	require.True(t, sse.ShouldSubdivide(c, l, near))
	require.False(t, ScreenSpaceCriterion{Threshold: 384, MaxLevel: 0}.ShouldSubdivide(c, l, near))

	c.Camera = nil
	require.False(t, sse.ShouldSubdivide(c, l, near))
}

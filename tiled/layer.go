/*
Package tiled drives a quadtree of tiles towards the level of detail the
camera needs.

A Layer owns the tree. Each pass, ComputeNodesToUpdate picks the smallest
set of subtrees that may need to change and UpdateNode walks them, culling,
requesting subdivisions and reclaiming children. Subdivisions are built off
the update turn by a scheduler; their outcomes are queued and applied by
Resolve, on the update turn, at the start of the next pass.

All Layer methods except Settle's wait must be called from one goroutine,
the update turn.
*/
package tiled

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/rotblauer/globetiles/datalayer"
	"github.com/rotblauer/globetiles/extent"
	"github.com/rotblauer/globetiles/params"
	"github.com/rotblauer/globetiles/scheduler"
	"github.com/rotblauer/globetiles/tile"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoScheme  = errors.New("tile layer has no root scheme")
	ErrNoBuilder = errors.New("tile layer has no builder")
)

type Layer struct {
	id     string
	config *params.TileLayerConfig
	logger *slog.Logger

	tree      *tile.Tree
	roots     []extent.Extent
	builder   Builder
	culler    Culler
	criterion Criterion
	onRemove  func(*tile.Node)
	attached  []datalayer.Attachment

	sched     *scheduler.Scheduler[Children]
	ownsSched bool

	// Only touched on the update turn.
	pending     map[tile.ID]*scheduler.Future[Children]
	outstanding int

	inbox *inbox

	registry     metrics.Registry
	walked       metrics.Counter
	subdivisions metrics.Counter
	merges       metrics.Counter
	failures     metrics.Counter
	cancels      metrics.Counter
	walkTimer    metrics.Timer
}

var _ Updatable = (*Layer)(nil)

type Option func(*Layer)

// WithRoots replaces the config's root scheme with explicit root extents.
func WithRoots(roots ...extent.Extent) Option {
	return func(l *Layer) { l.roots = roots }
}

func WithCuller(c Culler) Option {
	return func(l *Layer) { l.culler = c }
}

func WithCriterion(c Criterion) Option {
	return func(l *Layer) { l.criterion = c }
}

// WithRemovalHook registers fn to be called for every node torn down,
// after its object has been disposed.
func WithRemovalHook(fn func(*tile.Node)) Option {
	return func(l *Layer) { l.onRemove = fn }
}

// WithScheduler runs subdivisions on s instead of a scheduler owned by the layer.
func WithScheduler(s *scheduler.Scheduler[Children]) Option {
	return func(l *Layer) { l.sched = s }
}

// WithAttachments attaches data layers, as Attach does.
func WithAttachments(a ...datalayer.Attachment) Option {
	return func(l *Layer) { l.attached = append(l.attached, a...) }
}

// New builds a tile layer and its root set. Roots are built concurrently;
// if any fails, the ones already built are disposed and the error returned.
func New(ctx context.Context, config *params.TileLayerConfig, builder Builder, opts ...Option) (*Layer, error) {
	if config == nil {
		config = params.DefaultTileLayerConfig()
	}
	if builder == nil {
		return nil, ErrNoBuilder
	}
	reg := metrics.NewRegistry()
	l := &Layer{
		id:           config.ID,
		config:       config,
		logger:       slog.With("layer", config.ID),
		tree:         tile.NewTree(),
		builder:      builder,
		culler:       BoundCuller{},
		criterion:    ScreenSpaceCriterion{Threshold: config.ScreenErrorThreshold, MaxLevel: config.MaxLevel},
		pending:      map[tile.ID]*scheduler.Future[Children]{},
		inbox:        newInbox(),
		registry:     reg,
		walked:       metrics.NewRegisteredCounter("tiles.walked", reg),
		subdivisions: metrics.NewRegisteredCounter("tiles.subdivisions", reg),
		merges:       metrics.NewRegisteredCounter("tiles.merges", reg),
		failures:     metrics.NewRegisteredCounter("tiles.failures", reg),
		cancels:      metrics.NewRegisteredCounter("tiles.cancelled", reg),
		walkTimer:    metrics.NewRegisteredTimer("tiles.walk", reg),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.roots == nil {
		if config.Scheme == "" {
			return nil, ErrNoScheme
		}
		roots, err := extent.Roots(extent.Scheme(config.Scheme), config.RootZoom)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoScheme, err)
		}
		l.roots = roots
	}
	if len(l.roots) == 0 {
		return nil, ErrNoScheme
	}

	if ss, ok := l.criterion.(ScreenSpaceCriterion); ok {
		if deepest := extent.MaxZoom(l.roots[0]) - l.roots[0].Zoom(); ss.MaxLevel > deepest {
			l.logger.Warn("Max level clamped to scheme depth", "max.level", ss.MaxLevel, "clamped", deepest)
			ss.MaxLevel = deepest
			l.criterion = ss
		}
	}

	objects := make([]tile.Object, len(l.roots))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range l.roots {
		i, e := i, e
		g.Go(func() error {
			if err := extent.Validate(e); err != nil {
				return err
			}
			o, err := builder.Build(gctx, nil, e)
			if err != nil {
				return fmt.Errorf("build root %s: %w", e.Key(), err)
			}
			objects[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, o := range objects {
			if o != nil {
				o.Dispose()
			}
		}
		return nil, err
	}
	for i, e := range l.roots {
		l.tree.AddRoot(e, objects[i])
	}

	if l.sched == nil {
		l.sched = scheduler.New[Children](l.id, nil)
		l.ownsSched = true
	}
	l.logger.Info("Tile layer ready", "scheme", config.Scheme, "roots", len(l.roots))
	return l, nil
}

func (l *Layer) ID() string                 { return l.id }
func (l *Layer) Tree() *tile.Tree           { return l.tree }
func (l *Layer) Roots() []*tile.Node        { return l.tree.Roots() }
func (l *Layer) Registry() metrics.Registry { return l.registry }

func (l *Layer) Scheduler() *scheduler.Scheduler[Children] { return l.sched }

// Attach adds a data layer updated with every node this layer visits.
func (l *Layer) Attach(a datalayer.Attachment) {
	l.attached = append(l.attached, a)
}

func (l *Layer) Attachments() []datalayer.Attachment { return l.attached }

// NewContext returns a context for this layer's passes.
func (l *Layer) NewContext(view Notifier) *Context {
	c := &Context{View: view, Scheduler: l.sched}
	l.refresh(c)
	return c
}

// refresh rebuilds the context's data layer lists from the attachments.
func (l *Layer) refresh(c *Context) {
	c.ColorLayers = c.ColorLayers[:0]
	c.ElevationLayers = c.ElevationLayers[:0]
	c.MaxElevationLevel = -1
	for _, a := range l.attached {
		switch a.Kind() {
		case datalayer.KindColor:
			c.ColorLayers = append(c.ColorLayers, a)
		case datalayer.KindElevation:
			c.ElevationLayers = append(c.ElevationLayers, a)
			c.MaxElevationLevel = max(c.MaxElevationLevel, a.ZoomMax())
		}
	}
	if c.MaxElevationLevel < 0 {
		c.MaxElevationLevel = Unbounded
	}
	if c.Scheduler == nil {
		c.Scheduler = l.sched
	}
}

// Update runs one pass: it applies finished subdivisions and loads, then
// walks the nodes sources call for. Subdivision failures applied this
// pass are returned joined; they never stop the walk.
func (l *Layer) Update(c *Context, sources ...Source) error {
	if c == nil {
		c = l.NewContext(nil)
	}
	err := l.Resolve(c)
	start := time.Now()
	for _, n := range l.ComputeNodesToUpdate(c, sources) {
		l.walk(c, n)
	}
	l.walkTimer.UpdateSince(start)
	return err
}

func (l *Layer) walk(c *Context, n *tile.Node) {
	l.walked.Inc(1)
	next := l.UpdateNode(c, n)
	if !n.Detached() {
		for _, a := range l.attached {
			a.Update(n)
		}
	}
	for _, child := range next {
		l.walk(c, child)
	}
}

// release tears down one removed node.
func (l *Layer) release(n *tile.Node) {
	if f, ok := l.pending[n.ID()]; ok {
		f.Cancel()
	}
	if n.Object != nil {
		n.Object.Dispose()
	}
	n.Displayed = false
	if l.onRemove != nil {
		l.onRemove(n)
	}
}

// prune reclaims the children of n.
func (l *Layer) prune(n *tile.Node) {
	if !n.HasChildren() {
		return
	}
	if removed := l.tree.Prune(n, l.release); removed > 0 {
		l.merges.Inc(1)
		l.logger.Debug("Merged tile", "tile", n, "removed", removed)
	}
}

// violation handles a broken tree invariant.
func (l *Layer) violation(err error) error {
	if l.config.Strict {
		panic(err)
	}
	l.logger.Error("Tree invariant violated", "error", err)
	return err
}

// Close cancels outstanding subdivisions and disposes every node.
// A scheduler supplied with WithScheduler is left running.
func (l *Layer) Close() {
	for _, f := range l.pending {
		f.Cancel()
	}
	if l.ownsSched {
		l.sched.Stop()
	}
	for _, r := range l.tree.Roots() {
		l.tree.Prune(r, l.release)
		l.release(r)
	}
	l.logger.Info("Tile layer closed")
}

package tiled

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotblauer/globetiles/extent"
	"github.com/rotblauer/globetiles/scheduler"
	"github.com/rotblauer/globetiles/tile"
	"golang.org/x/sync/errgroup"
)

// Children is the product of a subdivision command: the four built objects,
// in the order of the parent extent's quarters.
type Children struct {
	Objects [4]tile.Object
}

func (c Children) dispose() {
	for _, o := range c.Objects {
		if o != nil {
			o.Dispose()
		}
	}
}

type completion struct {
	node    tile.ID
	extents [4]extent.Extent
	future  *scheduler.Future[Children]
}

// inbox hands completions from scheduler workers to the update turn.
type inbox struct {
	mu     sync.Mutex
	done   []completion
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (b *inbox) push(c completion) {
	b.mu.Lock()
	b.done = append(b.done, c)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *inbox) drain() []completion {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.done
	b.done = nil
	return out
}

// Subdivide requests the four children of n. It is a no-op while a request
// is outstanding, once n has children, or if n is as deep as its scheme goes.
func (l *Layer) Subdivide(c *Context, n *tile.Node) {
	if n.PendingSubdivision || n.HasChildren() || !extent.Divisible(n.Extent()) {
		return
	}
	sched := c.Scheduler
	if sched == nil {
		sched = l.sched
	}

	parent := n.Info()
	extents := n.Extent().Subdivide()
	n.PendingSubdivision = true
	l.outstanding++

	f := sched.Execute(&scheduler.Command[Children]{
		Label:    l.id + "/" + parent.Extent.Key(),
		Priority: scheduler.PriorityStructural,
		Run: func(ctx context.Context) (Children, error) {
			return l.build(ctx, &parent, extents)
		},
		OnDone: func(f *scheduler.Future[Children]) {
			l.inbox.push(completion{node: parent.ID, extents: extents, future: f})
		},
	})
	select {
	case <-f.Done():
	default:
		l.pending[parent.ID] = f
	}
}

// build runs on a scheduler worker. Either all four objects are returned
// or none: a partial set is disposed before the error is returned.
func (l *Layer) build(ctx context.Context, parent *tile.Info, extents [4]extent.Extent) (Children, error) {
	var out Children
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range extents {
		i, e := i, e
		g.Go(func() error {
			if err := extent.Validate(e); err != nil {
				return err
			}
			o, err := l.builder.Build(gctx, parent, e)
			if err != nil {
				return fmt.Errorf("build %s: %w", e.Key(), err)
			}
			out.Objects[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		out.dispose()
		return Children{}, err
	}
	return out, nil
}

// Resolve applies every subdivision finished since the last call, then
// resolves the attached data layers. Failures are logged, counted and
// returned joined; cancellations are not errors.
func (l *Layer) Resolve(c *Context) error {
	var errs []error
	for _, d := range l.inbox.drain() {
		if err := l.apply(c, d); err != nil {
			errs = append(errs, err)
		}
	}
	for _, a := range l.attached {
		a.Resolve()
	}
	return errors.Join(errs...)
}

func (l *Layer) apply(c *Context, d completion) error {
	l.outstanding--
	if l.pending[d.node] == d.future {
		delete(l.pending, d.node)
	}
	children, err := d.future.Result()

	n := l.tree.Node(d.node)
	if n == nil || n.Detached() {
		// Removed while building; nothing left to attach to.
		children.dispose()
		l.cancels.Inc(1)
		return nil
	}
	n.PendingSubdivision = false

	if scheduler.IsCancelled(err) {
		children.dispose()
		l.cancels.Inc(1)
		l.logger.Debug("Subdivision cancelled", "tile", n, "cause", err)
		return nil
	}
	if err != nil {
		l.failures.Inc(1)
		l.logger.Error("Subdivision failed", "tile", n, "level", n.Level(), "error", err)
		return fmt.Errorf("subdivide %s: %w", n, err)
	}

	kids, err := l.tree.Attach(n, d.extents, children.Objects)
	if err != nil {
		children.dispose()
		return l.violation(err)
	}
	for _, k := range kids {
		if p, ok := k.Object.(tile.Placer); ok {
			p.Place(n.Object)
		}
	}
	if l.config.Strict {
		if err := l.tree.Validate(n); err != nil {
			return l.violation(err)
		}
	}
	l.subdivisions.Inc(1)
	l.logger.Debug("Subdivided tile", "tile", n, "level", n.Level())
	c.notify(NodeChanged(l.id, n.ID()), false)
	return nil
}

// Pending returns the number of subdivisions requested and not yet resolved.
func (l *Layer) Pending() int { return l.outstanding }

// Settle resolves completions as they arrive until no subdivision or data
// load is outstanding, or ctx is done. It returns the joined failures.
func (l *Layer) Settle(ctx context.Context, c *Context) error {
	var errs []error
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := l.Resolve(c); err != nil {
			errs = append(errs, err)
		}
		if !l.Busy() {
			return errors.Join(errs...)
		}
		select {
		case <-l.inbox.notify:
		case <-tick.C:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
			return errors.Join(errs...)
		}
	}
}

func (l *Layer) loading() int {
	total := 0
	for _, a := range l.attached {
		total += a.Pending()
	}
	return total
}

// Busy reports whether a subdivision or an attached data layer load is outstanding.
func (l *Layer) Busy() bool {
	return l.outstanding > 0 || l.loading() > 0
}

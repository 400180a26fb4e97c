package datalayer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/jellydator/ttlcache/v3"
	"github.com/paulmach/orb"
	"github.com/rotblauer/globetiles/extent"
	"github.com/rotblauer/globetiles/params"
	"github.com/rotblauer/globetiles/scheduler"
	"github.com/rotblauer/globetiles/tile"
)

var ErrNoTexture = errors.New("no texture")

type Texture struct {
	Key  string
	Data []byte
}

// Fetcher loads the texture of one extent for one layer.
type Fetcher interface {
	Fetch(ctx context.Context, layerID string, e extent.Extent) (Texture, error)
}

type FetcherFunc func(ctx context.Context, layerID string, e extent.Extent) (Texture, error)

func (f FetcherFunc) Fetch(ctx context.Context, layerID string, e extent.Extent) (Texture, error) {
	return f(ctx, layerID, e)
}

type loaded struct {
	node   *tile.Node
	future *scheduler.Future[Texture]
}

// Source is a data layer backed by a Fetcher. Loads run on the layer's own
// scheduler at data priority; their results are applied by Resolve.
type Source struct {
	config   *params.DataLayerConfig
	fetcher  Fetcher
	coverage orb.Bound
	logger   *slog.Logger

	sched    *scheduler.Scheduler[Texture]
	textures *lru.Cache[string, Texture]
	failed   *ttlcache.Cache[string, error]

	frozen  atomic.Bool
	visible atomic.Bool
	ready   atomic.Bool

	mu     sync.Mutex
	inbox  []loaded
	onLoad func(*tile.Node)
}

type SourceOption func(*Source)

// WithCoverage limits the source to the given lon/lat bound.
func WithCoverage(b orb.Bound) SourceOption {
	return func(s *Source) { s.coverage = b }
}

// WithOnLoad registers a callback run on the update turn for each resolved load.
func WithOnLoad(fn func(*tile.Node)) SourceOption {
	return func(s *Source) { s.onLoad = fn }
}

func NewSource(config *params.DataLayerConfig, fetcher Fetcher, sched *params.SchedulerConfig, opts ...SourceOption) (*Source, error) {
	if config == nil {
		return nil, errors.New("data layer config required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("data layer %s: fetcher required", config.ID)
	}
	if config.Kind != KindColor && config.Kind != KindElevation {
		return nil, fmt.Errorf("data layer %s: unknown kind %q", config.ID, config.Kind)
	}
	size := config.CacheSize
	if size < 1 {
		size = 1
	}
	textures, err := lru.New[string, Texture](size)
	if err != nil {
		return nil, err
	}
	s := &Source{
		config:   config,
		fetcher:  fetcher,
		logger:   slog.With("datalayer", config.ID),
		sched:    scheduler.New[Texture](config.ID, sched),
		textures: textures,
		failed:   ttlcache.New[string, error](ttlcache.WithTTL[string, error](config.RetryAfter)),
	}
	s.visible.Store(true)
	s.ready.Store(true)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Source) ID() string   { return s.config.ID }
func (s *Source) Kind() Kind   { return s.config.Kind }
func (s *Source) ZoomMax() int { return s.config.ZoomMax }

func (s *Source) Frozen() bool  { return s.frozen.Load() }
func (s *Source) Visible() bool { return s.visible.Load() }
func (s *Source) Ready() bool   { return s.ready.Load() }

func (s *Source) SetFrozen(v bool)  { s.frozen.Store(v) }
func (s *Source) SetVisible(v bool) { s.visible.Store(v) }
func (s *Source) SetReady(v bool)   { s.ready.Store(v) }

func (s *Source) Covers(e extent.Extent) bool {
	z := e.Zoom()
	if z < s.config.ZoomMin || z > s.config.ZoomMax {
		return false
	}
	if s.coverage.IsZero() {
		return true
	}
	return extent.Intersects(s.coverage, e.Bound())
}

func (s *Source) Loaded(n *tile.Node) bool {
	st, ok := n.LayerState(s.ID())
	if !ok || st.Status != tile.StatusReady {
		return false
	}
	return s.textures.Contains(n.Extent().Key())
}

// Texture returns the loaded texture for n, if any.
func (s *Source) Texture(n *tile.Node) (Texture, bool) {
	return s.textures.Get(n.Extent().Key())
}

func (s *Source) Update(n *tile.Node) {
	if !s.Ready() || s.Frozen() || !n.Visible || n.Object == nil {
		return
	}
	if s.Kind() == KindColor && !s.Visible() {
		return
	}
	if !s.Covers(n.Extent()) {
		return
	}
	key := n.Extent().Key()
	st, _ := n.LayerState(s.ID())
	switch st.Status {
	case tile.StatusPending:
		return
	case tile.StatusReady:
		if s.textures.Contains(key) {
			return
		}
	case tile.StatusError:
		if s.failed.Has(key) {
			return
		}
	}
	s.request(n)
}

func (s *Source) request(n *tile.Node) {
	n.SetLayerState(s.ID(), tile.LayerState{Status: tile.StatusPending})
	e := n.Extent()
	s.sched.Execute(&scheduler.Command[Texture]{
		Label:    s.ID() + "/" + e.Key(),
		Priority: scheduler.PriorityData + e.Zoom(),
		Run: func(ctx context.Context) (Texture, error) {
			if s.config.FetchTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, s.config.FetchTimeout)
				defer cancel()
			}
			return s.fetcher.Fetch(ctx, s.ID(), e)
		},
		OnDone: func(f *scheduler.Future[Texture]) {
			s.mu.Lock()
			s.inbox = append(s.inbox, loaded{node: n, future: f})
			s.mu.Unlock()
		},
	})
}

// Resolve applies finished loads and returns how many were applied.
func (s *Source) Resolve() int {
	s.mu.Lock()
	done := s.inbox
	s.inbox = nil
	s.mu.Unlock()

	applied := 0
	for _, l := range done {
		if l.node.Detached() {
			continue
		}
		key := l.node.Extent().Key()
		tex, err := l.future.Result()
		switch {
		case err == nil:
			s.textures.Add(key, tex)
			l.node.SetLayerState(s.ID(), tile.LayerState{Status: tile.StatusReady})
		case scheduler.IsCancelled(err):
			l.node.SetLayerState(s.ID(), tile.LayerState{Status: tile.StatusNotRequested})
		default:
			s.failed.Set(key, err, ttlcache.DefaultTTL)
			l.node.SetLayerState(s.ID(), tile.LayerState{Status: tile.StatusError, Err: err})
			s.logger.Warn("Texture load failed", "tile", key, "error", err)
		}
		applied++
		if s.onLoad != nil {
			s.onLoad(l.node)
		}
	}
	s.failed.DeleteExpired()
	return applied
}

// Pending returns the number of loads not yet resolved.
func (s *Source) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched.Len() + len(s.inbox)
}

func (s *Source) Close() {
	s.sched.Stop()
}

// Package view drives tile layers the way a render loop would: change
// requests accumulate between frames and each frame runs one update pass
// per layer with everything requested since the last one.
package view

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/rotblauer/globetiles/camera"
	"github.com/rotblauer/globetiles/params"
	"github.com/rotblauer/globetiles/tiled"
)

// Change is published after every frame that walked a layer.
type Change struct {
	Frame   uint64      `json:"frame"`
	Layer   string      `json:"layer"`
	Sources []string    `json:"sources"`
	Stats   tiled.Stats `json:"stats"`
}

type View struct {
	config *params.ViewConfig
	logger *slog.Logger

	// mu is the update turn.
	mu       sync.Mutex
	layers   []*tiled.Layer
	contexts map[string]*tiled.Context
	camera   *camera.Camera
	frame    uint64

	srcMu   sync.Mutex
	sources []tiled.Source

	feed  event.FeedOf[Change]
	meter *frameMeter
}

var _ tiled.Notifier = (*View)(nil)

func New(config *params.ViewConfig, cam *camera.Camera) *View {
	if config == nil {
		config = params.DefaultViewConfig()
	}
	return &View{
		config:   config,
		logger:   slog.With("view", "frames"),
		contexts: map[string]*tiled.Context{},
		camera:   cam,
		meter:    newFrameMeter(config.MeterInterval),
	}
}

// AddLayer hands l to the view. The view drives it from now on.
func (v *View) AddLayer(l *tiled.Layer) {
	v.mu.Lock()
	v.layers = append(v.layers, l)
	v.contexts[l.ID()] = l.NewContext(v)
	v.mu.Unlock()
	v.NotifyChange(tiled.LayerChanged(l.ID()), true)
}

// NotifyChange queues src for the next frame. forceFullRedraw walks every
// layer from its roots as well.
func (v *View) NotifyChange(src tiled.Source, forceFullRedraw bool) {
	v.srcMu.Lock()
	defer v.srcMu.Unlock()
	v.sources = append(v.sources, src)
	if forceFullRedraw {
		v.sources = append(v.sources, tiled.Unconditional())
	}
}

// SetCamera moves the camera and requests a frame.
func (v *View) SetCamera(cam *camera.Camera) {
	v.mu.Lock()
	v.camera = cam
	v.mu.Unlock()
	v.NotifyChange(tiled.CameraMoved(), false)
}

func (v *View) Camera() *camera.Camera {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.camera
}

// Subscribe delivers a Change for every layer walked by a frame.
// Frames block until ch receives.
func (v *View) Subscribe(ch chan<- Change) event.Subscription {
	return v.feed.Subscribe(ch)
}

// Do runs fn on the update turn, between frames.
func (v *View) Do(fn func(layers []*tiled.Layer)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(v.layers)
}

func (v *View) takeSources() []tiled.Source {
	v.srcMu.Lock()
	defer v.srcMu.Unlock()
	out := v.sources
	v.sources = nil
	return out
}

// Frame applies finished work and, if anything was requested since the
// last frame, runs an update pass over every layer. It reports whether a
// pass ran. Subdivision failures are returned joined.
func (v *View) Frame() (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var errs []error
	for _, l := range v.layers {
		if err := l.Resolve(v.contexts[l.ID()]); err != nil {
			errs = append(errs, err)
		}
	}
	sources := v.takeSources()
	if len(sources) == 0 {
		return false, errors.Join(errs...)
	}

	start := time.Now()
	v.frame++
	labels := make([]string, len(sources))
	for i, s := range sources {
		labels[i] = s.String()
	}
	nodes := 0
	for _, l := range v.layers {
		c := v.contexts[l.ID()]
		c.Camera = v.camera
		if err := l.Update(c, sources...); err != nil {
			errs = append(errs, err)
		}
		stats := l.Stats()
		nodes += stats.Nodes
		v.feed.Send(Change{Frame: v.frame, Layer: l.ID(), Sources: labels, Stats: stats})
	}
	v.meter.mark(time.Since(start), nodes)
	return true, errors.Join(errs...)
}

// Busy reports whether any frame is requested or any layer still has work outstanding.
func (v *View) Busy() bool {
	v.srcMu.Lock()
	queued := len(v.sources)
	v.srcMu.Unlock()
	if queued > 0 {
		return true
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, l := range v.layers {
		if l.Busy() {
			return true
		}
	}
	return false
}

// Settle runs frames until the view is idle or ctx is done.
func (v *View) Settle(ctx context.Context) error {
	var errs []error
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := v.Frame(); err != nil {
			errs = append(errs, err)
		}
		if !v.Busy() {
			return errors.Join(errs...)
		}
		select {
		case <-tick.C:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
			return errors.Join(errs...)
		}
	}
}

// Run runs frames every FrameInterval until ctx is done.
// Frame failures are logged; they never stop the loop.
func (v *View) Run(ctx context.Context) error {
	v.meter.start()
	defer v.meter.stop()
	tick := time.NewTicker(v.config.FrameInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if _, err := v.Frame(); err != nil {
				v.logger.Warn("Frame had failures", "error", err)
			}
		}
	}
}

// Close closes every layer.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, l := range v.layers {
		l.Close()
	}
	v.layers = nil
}

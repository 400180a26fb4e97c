package view

import (
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/rotblauer/globetiles/common"
)

type frameMeter struct {
	interval time.Duration
	started  time.Time
	ticker   *time.Ticker
	done     chan struct{}

	reg    metrics.Registry
	frames metrics.Meter
	nodes  metrics.Gauge
	timer  metrics.Timer
}

func newFrameMeter(interval time.Duration) *frameMeter {
	reg := metrics.NewRegistry()
	return &frameMeter{
		interval: interval,
		reg:      reg,
		frames:   metrics.NewRegisteredMeter("frames.meter", reg),
		nodes:    metrics.NewRegisteredGauge("frames.nodes", reg),
		timer:    metrics.NewRegisteredTimer("frames.duration", reg),
	}
}

func (m *frameMeter) mark(d time.Duration, nodes int) {
	m.frames.Mark(1)
	m.nodes.Update(int64(nodes))
	m.timer.Update(d)
}

func (m *frameMeter) start() {
	if m.interval <= 0 || m.ticker != nil {
		return
	}
	m.started = time.Now()
	m.ticker = time.NewTicker(m.interval)
	m.done = make(chan struct{})
	go m.run()
}

func (m *frameMeter) run() {
	for {
		select {
		case <-m.ticker.C:
			m.log()
		case <-m.done:
			return
		}
	}
}

func (m *frameMeter) log() {
	frames := m.frames.Snapshot()
	timer := m.timer.Snapshot()
	slog.Info("Frames", "n", humanize.Comma(frames.Count()),
		"fps", common.DecimalToFixed(frames.Rate1(), 1),
		"nodes", humanize.Comma(m.nodes.Snapshot().Value()),
		"frame.mean", time.Duration(timer.Mean()).Round(time.Microsecond),
		"frame.max", time.Duration(timer.Max()).Round(time.Microsecond),
		"running", time.Since(m.started).Round(time.Second))
}

func (m *frameMeter) stop() {
	if m == nil || m.ticker == nil {
		return
	}
	m.ticker.Stop()
	close(m.done)
	m.ticker = nil
	m.frames.Stop()
}

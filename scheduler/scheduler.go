/*
Package scheduler runs prioritized, cancellable commands on a pool of workers.

A Command is queued by Execute and resolves exactly once, through its Future,
to a value, a failure, or a cancellation. Cancellation is never reported as a
failure: callers tell them apart with IsCancelled.

Commands are picked highest priority first, then in submission order.
Completion callbacks (Command.OnDone) run on the worker goroutine; callers
owning single-threaded state are expected to hand the Future over to their
own turn rather than mutate state from the callback.
*/
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/google/uuid"
	"github.com/rotblauer/globetiles/params"
	"golang.org/x/time/rate"
)

var (
	ErrCancelled = errors.New("command cancelled")
	ErrStopped   = fmt.Errorf("%w: scheduler stopped", ErrCancelled)
)

// IsCancelled reports whether err is a cancellation outcome rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

const (
	// PriorityData is for data refreshes, eg. texture loads.
	PriorityData = 100

	// PriorityStructural is for commands that change the shape of a tree.
	PriorityStructural = 10000
)

type Command[T any] struct {
	ID       uuid.UUID
	Label    string
	Priority int

	// Run does the work. It must return promptly once ctx is done.
	Run func(ctx context.Context) (T, error)

	// OnDone, if set, is called once from the resolving goroutine.
	OnDone func(*Future[T])
}

type Scheduler[T any] struct {
	name    string
	logger  *slog.Logger
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	cond    *sync.Cond
	queue   futureHeap[T]
	running int
	seq     uint64
	stopped bool
	wg      sync.WaitGroup

	registry  metrics.Registry
	executed  metrics.Counter
	cancelled metrics.Counter
	failed    metrics.Counter
	latency   metrics.Timer
}

// New starts a scheduler named name. A nil config uses the defaults.
func New[T any](name string, config *params.SchedulerConfig) *Scheduler[T] {
	if config == nil {
		config = params.DefaultSchedulerConfig()
	}
	workers := config.Workers
	if workers < 1 {
		workers = 1
	}
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	burst := config.Burst
	if burst < 1 {
		burst = 1
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	reg := metrics.NewRegistry()
	s := &Scheduler[T]{
		name:      name,
		logger:    slog.With("scheduler", name),
		limiter:   rate.NewLimiter(limit, burst),
		ctx:       ctx,
		cancel:    cancel,
		registry:  reg,
		executed:  metrics.NewRegisteredCounter("commands.executed", reg),
		cancelled: metrics.NewRegisteredCounter("commands.cancelled", reg),
		failed:    metrics.NewRegisteredCounter("commands.failed", reg),
		latency:   metrics.NewRegisteredTimer("commands.latency", reg),
	}
	s.cond = sync.NewCond(&s.mu)
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.work()
	}
	return s
}

func (s *Scheduler[T]) Registry() metrics.Registry { return s.registry }

// Execute queues cmd and returns its future. It never blocks.
func (s *Scheduler[T]) Execute(cmd *Command[T]) *Future[T] {
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	ctx, cancel := context.WithCancelCause(s.ctx)
	f := &Future[T]{
		cmd:      cmd,
		s:        s,
		ctx:      ctx,
		cancel:   cancel,
		index:    -1,
		queuedAt: time.Now(),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.resolve(f, ErrStopped)
		return f
	}
	s.seq++
	f.seq = s.seq
	heap.Push(&s.queue, f)
	s.mu.Unlock()
	s.cond.Signal()
	return f
}

// Len returns the number of queued and running commands.
func (s *Scheduler[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) + s.running
}

// Stop cancels every queued and running command and waits for the workers to exit.
func (s *Scheduler[T]) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	queued := s.queue
	s.queue = nil
	for _, f := range queued {
		f.index = -1
	}
	s.mu.Unlock()

	s.cancel(ErrStopped)
	s.cond.Broadcast()
	for _, f := range queued {
		s.resolve(f, ErrStopped)
	}
	s.wg.Wait()
	s.logger.Debug("Scheduler stopped", "dropped", len(queued))
}

func (s *Scheduler[T]) work() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}
		f := heap.Pop(&s.queue).(*Future[T])
		s.running++
		s.mu.Unlock()

		s.run(f)

		s.mu.Lock()
		s.running--
		s.mu.Unlock()
	}
}

func (s *Scheduler[T]) run(f *Future[T]) {
	if err := s.limiter.Wait(f.ctx); err != nil {
		if f.ctx.Err() != nil {
			err = context.Cause(f.ctx)
		}
		s.resolve(f, err)
		return
	}
	if f.ctx.Err() != nil {
		s.resolve(f, context.Cause(f.ctx))
		return
	}

	v, err := f.cmd.Run(f.ctx)
	f.value = v

	// A command cancelled while running resolves as cancelled even if Run
	// succeeded; its value is left for the owner to release.
	if f.ctx.Err() != nil {
		s.resolve(f, context.Cause(f.ctx))
		return
	}
	s.resolve(f, err)
}

func (s *Scheduler[T]) cancelFuture(f *Future[T], cause error) {
	s.mu.Lock()
	queued := f.index >= 0
	if queued {
		heap.Remove(&s.queue, f.index)
	}
	s.mu.Unlock()

	f.cancel(cause)
	if queued {
		s.resolve(f, cause)
	}
}

func (s *Scheduler[T]) resolve(f *Future[T], err error) {
	f.once.Do(func() {
		f.err = err
		switch {
		case err == nil:
			s.executed.Inc(1)
		case IsCancelled(err):
			s.cancelled.Inc(1)
			s.logger.Debug("Command cancelled", "id", f.cmd.ID, "label", f.cmd.Label, "cause", err)
		default:
			s.failed.Inc(1)
		}
		s.latency.UpdateSince(f.queuedAt)
		f.cancel(ErrCancelled)
		close(f.done)
		if f.cmd.OnDone != nil {
			f.cmd.OnDone(f)
		}
	})
}

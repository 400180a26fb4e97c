package scheduler

import (
	"context"
	"sync"
	"time"
)

// Future is the pending outcome of one Command.
type Future[T any] struct {
	cmd *Command[T]
	s   *Scheduler[T]

	ctx      context.Context
	cancel   context.CancelCauseFunc
	seq      uint64
	index    int
	queuedAt time.Time

	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func (f *Future[T]) Command() *Command[T] { return f.cmd }

// Done is closed once the command has resolved.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Result returns the command's outcome. It is only meaningful after Done.
// A cancelled command may still carry whatever its Run returned.
func (f *Future[T]) Result() (T, error) { return f.value, f.err }

// Cancel withdraws the command. A queued command resolves immediately;
// a running one resolves once its Run returns. Cancelling a resolved
// command has no effect.
func (f *Future[T]) Cancel() {
	f.s.cancelFuture(f, ErrCancelled)
}

// Wait blocks until the command resolves or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

type futureHeap[T any] []*Future[T]

func (h futureHeap[T]) Len() int { return len(h) }

func (h futureHeap[T]) Less(i, j int) bool {
	if h[i].cmd.Priority != h[j].cmd.Priority {
		return h[i].cmd.Priority > h[j].cmd.Priority
	}
	return h[i].seq < h[j].seq
}

func (h futureHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *futureHeap[T]) Push(x any) {
	f := x.(*Future[T])
	f.index = len(*h)
	*h = append(*h, f)
}

func (h *futureHeap[T]) Pop() any {
	old := *h
	n := len(old)
	f := old[n-1]
	old[n-1] = nil
	f.index = -1
	*h = old[:n-1]
	return f
}

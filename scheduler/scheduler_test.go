package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/rotblauer/globetiles/params"
	"github.com/stretchr/testify/require"
)

func oneWorker() *params.SchedulerConfig {
	return &params.SchedulerConfig{Workers: 1}
}

// block occupies the single worker until the returned func is called.
func block(t *testing.T, s *Scheduler[string]) (release func()) {
	t.Helper()
	started := make(chan struct{})
	gate := make(chan struct{})
	s.Execute(&Command[string]{
		Label: "blocker",
		Run: func(ctx context.Context) (string, error) {
			close(started)
			<-gate
			return "blocker", nil
		},
	})
	<-started
	return func() { close(gate) }
}

func wait(t *testing.T, f *Future[string]) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return v, err
}

func TestPriorityOrder(t *testing.T) {
	s := New[string]("test", oneWorker())
	defer s.Stop()
	release := block(t, s)

	var mu sync.Mutex
	order := []string{}
	submit := func(label string, prio int) *Future[string] {
		return s.Execute(&Command[string]{
			Label:    label,
			Priority: prio,
			Run: func(ctx context.Context) (string, error) {
				mu.Lock()
				order = append(order, label)
				mu.Unlock()
				return label, nil
			},
		})
	}
	fl := submit("low", PriorityData)
	fh := submit("high", PriorityStructural)
	fm := submit("mid", PriorityData+1)
	fh2 := submit("high2", PriorityStructural)
	require.Equal(t, 5, s.Len())

	release()
	for _, f := range []*Future[string]{fl, fh, fm, fh2} {
		_, err := wait(t, f)
		require.NoError(t, err)
	}
	require.Equal(t, []string{"high", "high2", "mid", "low"}, order)
}

func TestCancelQueued(t *testing.T) {
	s := New[string]("test", oneWorker())
	defer s.Stop()
	release := block(t, s)
	defer release()

	ran := false
	var delivered *Future[string]
	f := s.Execute(&Command[string]{
		Run: func(ctx context.Context) (string, error) {
			ran = true
			return "nope", nil
		},
		OnDone: func(f *Future[string]) { delivered = f },
	})
	f.Cancel()

	select {
	case <-f.Done():
	default:
		t.Fatal("queued command did not resolve on cancel")
	}
	_, err := f.Result()
	require.True(t, IsCancelled(err))
	require.ErrorIs(t, err, ErrCancelled)
	require.Equal(t, f, delivered)
	require.False(t, ran)

	// Cancelling twice is harmless.
	f.Cancel()
}

func TestCancelRunning(t *testing.T) {
	s := New[string]("test", oneWorker())
	defer s.Stop()

	started := make(chan struct{})
	f := s.Execute(&Command[string]{
		Run: func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			return "late", ctx.Err()
		},
	})
	<-started
	f.Cancel()
	_, err := wait(t, f)
	require.True(t, IsCancelled(err))
	require.ErrorIs(t, err, ErrCancelled)
}

func TestFailureIsNotCancellation(t *testing.T) {
	s := New[string]("test", nil)
	defer s.Stop()

	boom := errors.New("boom")
	f := s.Execute(&Command[string]{
		Run: func(ctx context.Context) (string, error) { return "", boom },
	})
	_, err := wait(t, f)
	require.ErrorIs(t, err, boom)
	require.False(t, IsCancelled(err))

	g := s.Execute(&Command[string]{
		Run: func(ctx context.Context) (string, error) { return "", ErrCancelled },
	})
	_, err = wait(t, g)
	require.True(t, IsCancelled(err))

	failed := s.Registry().Get("commands.failed").(metrics.Counter)
	require.EqualValues(t, 1, failed.Snapshot().Count())
	cancelled := s.Registry().Get("commands.cancelled").(metrics.Counter)
	require.EqualValues(t, 1, cancelled.Snapshot().Count())
}

func TestStopCancelsEverything(t *testing.T) {
	s := New[string]("test", oneWorker())

	started := make(chan struct{})
	running := s.Execute(&Command[string]{
		Run: func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	<-started
	queued := s.Execute(&Command[string]{
		Run: func(ctx context.Context) (string, error) { return "queued", nil },
	})

	s.Stop()
	for _, f := range []*Future[string]{running, queued} {
		_, err := wait(t, f)
		require.ErrorIs(t, err, ErrStopped)
		require.True(t, IsCancelled(err))
	}

	late := s.Execute(&Command[string]{
		Run: func(ctx context.Context) (string, error) { return "late", nil },
	})
	_, err := wait(t, late)
	require.ErrorIs(t, err, ErrStopped)
	require.Zero(t, s.Len())

	// Stop is idempotent.
	s.Stop()
}

func TestRateLimit(t *testing.T) {
	s := New[string]("test", &params.SchedulerConfig{Workers: 2, RateLimit: 1000, Burst: 1})
	defer s.Stop()
	futures := []*Future[string]{}
	for i := 0; i < 5; i++ {
		futures = append(futures, s.Execute(&Command[string]{
			Run: func(ctx context.Context) (string, error) { return "ok", nil },
		}))
	}
	for _, f := range futures {
		v, err := wait(t, f)
		require.NoError(t, err)
		require.Equal(t, "ok", v)
	}
}

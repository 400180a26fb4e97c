package common

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func Interrupted() <-chan os.Signal {
	return interrupted()
}

func interrupted() chan os.Signal {
	interrupt := make(chan os.Signal, 2)
	signal.Notify(interrupt,
		os.Interrupt,
		syscall.SIGTERM, syscall.SIGQUIT,
	)
	return interrupt
}

// InterruptContext returns a child of parent cancelled on the first interrupt.
// The signal handler is removed when the returned cancel is called.
func InterruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	interrupt := interrupted()
	go func() {
		defer signal.Stop(interrupt)
		select {
		case sig := <-interrupt:
			slog.Warn("Interrupted", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

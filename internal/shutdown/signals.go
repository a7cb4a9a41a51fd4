package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// RegisterSignals arms the supervisor against SIGINT/SIGTERM and
// blocks until one
// arrives or ctx is done. Callers run this in the goroutine that owns
// the process lifecycle; a second call from another goroutine (an
// uncaught-panic recover, for instance) racing the same Supervisor is
// safe — Trigger only runs the sequence once.
func (s *Supervisor) RegisterSignals(ctx context.Context) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case sig := <-stop:
		s.log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}
	s.Trigger(context.Background())
}

package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/toolhost-go/internal/infra/shutdown"
)

// Run starts the server, blocks until SIGINT/SIGTERM, ctx ends or the
// transport dies, then shuts down within opts.ShutdownTimeout.
//
// It returns nil only when shutdown completed and the transport had not
// failed.
func Run(ctx context.Context, opts Options, register RegisterFunc) error {
	srv, err := Start(ctx, opts, register)
	if err != nil {
		return err
	}
	return srv.serveUntilStopped(ctx, opts.ShutdownTimeout)
}

func (s *Server) serveUntilStopped(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = shutdown.DefaultShutdownTimeout
	}
	log := s.logger

	waitCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()

	g, gctx := errgroup.WithContext(waitCtx)
	g.Go(func() error {
		defer stopWaiting()
		sig, err := shutdown.WaitForSignal(gctx)
		if sig != nil {
			log.Info("received signal, shutting down", "signal", sig.String())
			return nil
		}
		if ctx.Err() != nil {
			log.Info("context cancelled, shutting down", "reason", err)
		}
		return nil
	})
	g.Go(func() error {
		defer stopWaiting()
		select {
		case <-s.Signal().Done():
			log.Warn("server stopping without an external signal", "state", s.State().String())
		case <-gctx.Done():
		}
		return nil
	})
	_ = g.Wait()

	log.Info("initiating graceful shutdown", "timeout", timeout)
	s.Cancel()
	return s.reportOutcome(s.WaitForCompletion(timeout), timeout)
}

func (s *Server) reportOutcome(err error, timeout time.Duration) error {
	log := s.logger
	switch {
	case err == nil:
		if terr := s.transport.Err(); terr != nil {
			log.Error("shutdown completed after transport failure", "error", terr)
			return fmt.Errorf("host: transport exited unexpectedly: %w", terr)
		}
		log.Info("shutdown completed successfully")
		return nil
	case errors.Is(err, shutdown.ErrTimeout):
		log.Error("shutdown timed out",
			"timeout", timeout,
			"state", s.State().String(),
			"likely_causes", "slow request handlers, blocked manager cleanup, stuck database connections",
		)
		return fmt.Errorf("host: %w", err)
	case errors.Is(err, shutdown.ErrSignalLost):
		log.Error("shutdown completion signal lost, the orchestrator exited without confirming",
			"hint", `check logs for "HTTP SERVER TASK EXITED UNEXPECTEDLY"`,
		)
		return fmt.Errorf("host: %w", err)
	default:
		log.Error("shutdown failed", "error", err)
		return fmt.Errorf("host: %w", err)
	}
}

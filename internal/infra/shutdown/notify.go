package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WaitForSignal blocks until SIGINT or SIGTERM arrives or ctx ends.
// It returns the received signal, or nil and ctx.Err().
func WaitForSignal(ctx context.Context) (os.Signal, error) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return sig, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

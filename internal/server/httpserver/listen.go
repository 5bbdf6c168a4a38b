package httpserver

import (
	"context"
	"fmt"
	"net"
)

// Listen binds a TCP listener on addr with address and port reuse enabled.
// A malformed address is reported before any socket is created.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("httpserver: invalid address %q: %w", addr, err)
	}
	lc := net.ListenConfig{Control: reuseControl}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("httpserver: listen %s: %w", addr, err)
	}
	return ln, nil
}

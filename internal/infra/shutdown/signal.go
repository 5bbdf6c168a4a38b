package shutdown

import (
	"context"
	"sync"
)

// Signal is a cancel-once latch. Once cancelled it stays cancelled, and
// every current and future waiter observes it.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal returns an armed signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Cancel fires the signal. It never blocks and may be called any number of
// times from any goroutine.
func (s *Signal) Cancel() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns a channel closed on cancellation.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Cancelled reports whether Cancel has been called.
func (s *Signal) Cancelled() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal fires or ctx ends.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Context returns a context cancelled together with the signal.
func (s *Signal) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

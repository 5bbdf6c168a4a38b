package shutdown

import (
	"sync"
	"sync/atomic"
	"time"
)

// completion is a single-fire event with exactly one consumer.
// fire delivers a value, abandon closes without one.
type completion struct {
	ch   chan struct{}
	once sync.Once
	gone atomic.Bool
}

func newCompletion() *completion {
	return &completion{ch: make(chan struct{}, 1)}
}

func (c *completion) fire() error {
	fired := false
	c.once.Do(func() {
		c.ch <- struct{}{}
		close(c.ch)
		fired = true
	})
	if !fired {
		return nil
	}
	if c.gone.Load() {
		return ErrReceiverGone
	}
	return nil
}

func (c *completion) abandon() {
	c.once.Do(func() { close(c.ch) })
}

// Handle is the external control object of a running server.
type Handle struct {
	signal   *Signal
	done     *completion
	consumed atomic.Bool
}

func newHandle(sig *Signal, done *completion) *Handle {
	return &Handle{signal: sig, done: done}
}

// Cancel begins shutdown. Idempotent, never blocks.
func (h *Handle) Cancel() {
	h.signal.Cancel()
}

// Signal exposes the cancellation signal for additional waiters.
func (h *Handle) Signal() *Signal {
	return h.signal
}

// WaitForCompletion blocks until shutdown completes or timeout elapses.
//
// It returns nil when the orchestrator confirmed completion, a
// *TimeoutError when timeout elapsed first, and ErrSignalLost when the
// orchestrator died without confirming. The handle is consumed by the
// first call; later calls return ErrHandleConsumed.
func (h *Handle) WaitForCompletion(timeout time.Duration) error {
	if !h.consumed.CompareAndSwap(false, true) {
		return ErrHandleConsumed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case _, ok := <-h.done.ch:
		if !ok {
			return ErrSignalLost
		}
		return nil
	case <-timer.C:
		h.done.gone.Store(true)
		return &TimeoutError{Timeout: timeout}
	}
}

// Package inflight counts request handlers that are currently running.
//
// The counter is the only source the shutdown orchestrator consults when
// it waits for in-flight work, so every handler scope must be bracketed
// by Enter and a deferred Release.
package inflight

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is an atomic in-flight request counter.
type Counter struct {
	active atomic.Int64
	total  atomic.Uint64
}

// New returns a zeroed counter.
func New() *Counter {
	return &Counter{}
}

// Guard releases one Enter. Release is idempotent.
type Guard struct {
	c    *Counter
	once sync.Once
}

// Enter marks the start of a handler scope.
//
//	g := c.Enter()
//	defer g.Release()
func (c *Counter) Enter() *Guard {
	c.active.Add(1)
	c.total.Add(1)
	return &Guard{c: c}
}

// Release marks the end of the scope. Extra calls are no-ops.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.c.active.Add(-1)
	})
}

// Active returns the number of open scopes.
func (c *Counter) Active() int64 {
	return c.active.Load()
}

// Total returns the number of scopes ever entered.
func (c *Counter) Total() uint64 {
	return c.total.Load()
}

// Track runs fn inside a scope. The scope is released even if fn panics.
func (c *Counter) Track(fn func()) {
	g := c.Enter()
	defer g.Release()
	fn()
}

// WaitIdle polls until no scope is open or ctx ends.
func (c *Counter) WaitIdle(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for c.Active() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

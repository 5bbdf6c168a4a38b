// Package actor provides a generic single-consumer background actor.
//
// Producers enqueue events with Send, which never blocks and never waits
// for persistence. One goroutine owns all mutable state: it applies events
// in order, flushes on a fixed interval, and performs a final flush when
// the actor is stopped.
package actor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// ErrStopped is returned when the actor no longer accepts work.
var ErrStopped = errors.New("actor: stopped")

// Handler owns the actor state. All methods are called from the consumer
// goroutine only.
type Handler[E any] interface {
	// Apply folds one event into the state.
	Apply(ev E)
	// Flush persists pending state. Called on every tick and on FlushNow.
	Flush(ctx context.Context) error
	// Close performs the final flush before the consumer exits.
	Close(ctx context.Context) error
}

// PanicError wraps a panic recovered while applying an event.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("actor: panic applying event: %v", e.Value)
}

type options struct {
	interval time.Duration
	onError  func(op string, err error)
}

// Option configures an Actor.
type Option func(*options)

// WithFlushInterval sets the periodic flush interval. Zero disables the timer.
func WithFlushInterval(d time.Duration) Option {
	return func(o *options) {
		o.interval = d
	}
}

// WithErrorHandler sets the callback for flush, close and apply failures.
// op is one of "apply", "flush" or "close".
func WithErrorHandler(fn func(op string, err error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

type envelope[E any] struct {
	ev   E
	ack  chan struct{}
	sync bool
}

// Actor is an unbounded mailbox drained by a single consumer goroutine.
type Actor[E any] struct {
	handler Handler[E]
	opts    options

	mu     sync.Mutex
	queue  []envelope[E]
	closed bool

	notify   chan struct{}
	flushReq chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopCtx  context.Context
	stopOnce sync.Once
	closeErr error
}

// New starts an actor around h.
func New[E any](h Handler[E], opts ...Option) *Actor[E] {
	o := options{onError: func(string, error) {}}
	for _, opt := range opts {
		opt(&o)
	}

	a := &Actor[E]{
		handler:  h,
		opts:     o,
		notify:   make(chan struct{}, 1),
		flushReq: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Send enqueues ev and returns immediately. It returns false once the
// actor has been stopped.
func (a *Actor[E]) Send(ev E) bool {
	return a.enqueue(envelope[E]{ev: ev})
}

// FlushNow asks the consumer to flush after applying everything queued so far.
func (a *Actor[E]) FlushNow() {
	select {
	case a.flushReq <- struct{}{}:
	default:
	}
}

// Sync blocks until every event sent before the call has been applied.
func (a *Actor[E]) Sync(ctx context.Context) error {
	ack := make(chan struct{})
	if !a.enqueue(envelope[E]{ack: ack, sync: true}) {
		return ErrStopped
	}
	select {
	case <-ack:
		return nil
	case <-a.doneCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the number of queued, not yet applied, events.
func (a *Actor[E]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// Done is closed when the consumer goroutine has exited.
func (a *Actor[E]) Done() <-chan struct{} {
	return a.doneCh
}

// Stop refuses new events, applies what is queued, runs the final flush and
// waits for the consumer to exit or ctx to end. Safe to call more than once.
func (a *Actor[E]) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.stopCtx = ctx
		a.mu.Unlock()
		close(a.stopCh)
	})

	select {
	case <-a.doneCh:
		return a.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor[E]) enqueue(env envelope[E]) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	a.queue = append(a.queue, env)
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
	return true
}

func (a *Actor[E]) run() {
	defer close(a.doneCh)

	var tick <-chan time.Time
	if a.opts.interval > 0 {
		t := time.NewTicker(a.opts.interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-a.notify:
			a.drain()
		case <-a.flushReq:
			a.drain()
			a.flush()
		case <-tick:
			a.drain()
			a.flush()
		case <-a.stopCh:
			a.drain()
			a.mu.Lock()
			ctx := a.stopCtx
			a.mu.Unlock()
			if err := a.handler.Close(context.WithoutCancel(ctx)); err != nil {
				a.closeErr = err
				a.opts.onError("close", err)
			}
			return
		}
	}
}

func (a *Actor[E]) drain() {
	a.mu.Lock()
	batch := a.queue
	a.queue = nil
	a.mu.Unlock()

	for _, env := range batch {
		if env.sync {
			close(env.ack)
			continue
		}
		a.apply(env.ev)
	}
}

func (a *Actor[E]) apply(ev E) {
	defer func() {
		if r := recover(); r != nil {
			a.opts.onError("apply", &PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	a.handler.Apply(ev)
}

func (a *Actor[E]) flush() {
	if err := a.handler.Flush(context.Background()); err != nil {
		a.opts.onError("flush", err)
	}
}

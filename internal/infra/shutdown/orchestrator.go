package shutdown

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// Transport is the accept layer as seen by the orchestrator.
type Transport interface {
	// Done is closed when the transport goroutine has exited.
	Done() <-chan struct{}
	// Err is the reason the transport exited, nil after a graceful stop.
	Err() error
	// Shutdown stops accepting and closes idle connections.
	Shutdown(ctx context.Context) error
}

// InFlight reports the number of request handlers currently running.
type InFlight interface {
	Active() int64
}

// State is a phase of the orchestrator.
type State int32

const (
	// StateRunning means serving, no cancellation seen yet.
	StateRunning State = iota
	// StateCancelObserved means the signal fired and shutdown has begun.
	StateCancelObserved
	// StateTransportDied means the transport exited without being asked to.
	StateTransportDied
	// StateDraining means the transport is stopping and closing idle connections.
	StateDraining
	// StateWaitingForRequests means waiting for in-flight handlers to return.
	StateWaitingForRequests
	// StateShuttingDownManagers means registered hooks are running.
	StateShuttingDownManagers
	// StateDone means shutdown finished and completion was signalled.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCancelObserved:
		return "cancel_observed"
	case StateTransportDied:
		return "transport_died"
	case StateDraining:
		return "draining"
	case StateWaitingForRequests:
		return "waiting_for_requests"
	case StateShuttingDownManagers:
		return "shutting_down_managers"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	Budget              Budget
	RequestDrainTimeout time.Duration
	PollInterval        time.Duration
	Logger              *slog.Logger
	// OnPhase is called on every state transition from the supervisor goroutine.
	OnPhase func(State)
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.Budget.Total <= 0 {
		c.Budget = NewBudget(0)
	}
	if c.RequestDrainTimeout <= 0 {
		c.RequestDrainTimeout = DefaultRequestDrainTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.OnPhase == nil {
		c.OnPhase = func(State) {}
	}
}

// Orchestrator supervises shutdown of one server.
type Orchestrator struct {
	cfg       OrchestratorConfig
	transport Transport
	inflight  InFlight
	registry  *Registry
	signal    *Signal
	done      *completion
	handle    *Handle
	state     atomic.Int32
	started   atomic.Bool
}

// NewOrchestrator wires the supervisor. Nothing runs until Start.
func NewOrchestrator(t Transport, inflight InFlight, reg *Registry, cfg OrchestratorConfig) *Orchestrator {
	cfg.applyDefaults()
	if reg == nil {
		reg = NewRegistry(WithRegistryLogger(cfg.Logger))
	}
	sig, done := NewSignal(), newCompletion()
	return &Orchestrator{
		cfg:       cfg,
		transport: t,
		inflight:  inflight,
		registry:  reg,
		signal:    sig,
		done:      done,
		handle:    newHandle(sig, done),
	}
}

// Signal returns the cancellation signal the orchestrator waits on.
func (o *Orchestrator) Signal() *Signal {
	return o.signal
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Start launches the supervisor goroutine and returns the control handle.
// Every call returns the same handle, so completion has a single consumer.
func (o *Orchestrator) Start() *Handle {
	if o.started.CompareAndSwap(false, true) {
		go o.run()
	}
	return o.handle
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	o.cfg.OnPhase(s)
}

func (o *Orchestrator) run() {
	log := o.cfg.Logger
	defer func() {
		if r := recover(); r != nil {
			log.Error("shutdown orchestrator panicked before completion",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			o.done.abandon()
		}
	}()

	select {
	case <-o.signal.Done():
		o.setState(StateCancelObserved)
		log.Info("cancellation received, starting graceful shutdown",
			"budget", o.cfg.Budget.Total,
			"transport_drain", o.cfg.Budget.TransportDrain,
			"manager_cleanup", o.cfg.Budget.ManagerCleanup,
		)
		o.drainTransport()
	case <-o.transport.Done():
		o.setState(StateTransportDied)
		log.Error("HTTP SERVER TASK EXITED UNEXPECTEDLY", "error", o.transport.Err())
		log.Warn("running emergency cleanup")
		// Release the other waiters on the signal (memory monitor, readiness).
		o.signal.Cancel()
	}

	o.waitForRequests()
	o.shutdownManagers()

	o.setState(StateDone)
	if err := o.done.fire(); err != nil {
		log.Warn("shutdown completed but nobody is waiting", "error", err)
		return
	}
	log.Info("shutdown complete")
}

func (o *Orchestrator) drainTransport() {
	o.setState(StateDraining)
	log := o.cfg.Logger

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Budget.TransportDrain)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		errCh <- o.transport.Shutdown(ctx)
	}()

	grace := time.NewTimer(o.cfg.Budget.TransportGrace)
	defer grace.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			log.Warn("transport shutdown returned error", "error", err)
		}
	case <-grace.C:
		log.Warn("transport drain exceeded its budget, continuing", "grace", o.cfg.Budget.TransportGrace)
		return
	}

	select {
	case <-o.transport.Done():
		log.Debug("transport stopped")
	case <-grace.C:
		log.Warn("transport did not exit within its budget, continuing", "grace", o.cfg.Budget.TransportGrace)
	}
}

func (o *Orchestrator) waitForRequests() {
	o.setState(StateWaitingForRequests)
	log := o.cfg.Logger

	active := o.inflight.Active()
	if active == 0 {
		return
	}
	log.Info("waiting for in-flight requests", "active", active, "timeout", o.cfg.RequestDrainTimeout)

	deadline := time.Now().Add(o.cfg.RequestDrainTimeout)
	for {
		active = o.inflight.Active()
		if active == 0 {
			log.Debug("in-flight requests drained")
			return
		}
		if time.Now().After(deadline) {
			log.Warn("in-flight requests still running after drain timeout", "active", active)
			return
		}
		time.Sleep(o.cfg.PollInterval)
	}
}

func (o *Orchestrator) shutdownManagers() {
	o.setState(StateShuttingDownManagers)

	perHook := o.registry.HookTimeout()
	if c := o.cfg.Budget.ManagerCleanup; c > 0 && c < perHook {
		perHook = c
	}

	if err := o.registry.ShutdownEach(context.Background(), perHook); err != nil {
		o.cfg.Logger.Error("failed to shut down managers", "error", err)
	}
}

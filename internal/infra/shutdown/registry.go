package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultHookTimeout bounds each hook during Registry.Shutdown.
const DefaultHookTimeout = 10 * time.Second

// Hook is the teardown capability of a dependent resource.
type Hook interface {
	Shutdown(ctx context.Context) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context) error

// Shutdown calls f(ctx).
func (f HookFunc) Shutdown(ctx context.Context) error {
	return f(ctx)
}

type namedHook struct {
	name string
	Hook
}

func (n namedHook) Name() string { return n.name }

// NamedHook attaches a name used in shutdown logs and metrics.
func NamedHook(name string, h Hook) Hook {
	return namedHook{name: name, Hook: h}
}

// Registry holds shutdown hooks in registration order and tears them down
// in reverse order.
type Registry struct {
	mu          sync.Mutex
	hooks       []Hook
	hookTimeout time.Duration
	logger      *slog.Logger
	observe     func(StepResult)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithHookTimeout sets the per-hook timeout.
func WithHookTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.hookTimeout = d
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithObserver receives every hook result, e.g. for metrics.
func WithObserver(fn func(StepResult)) RegistryOption {
	return func(r *Registry) {
		r.observe = fn
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		hookTimeout: DefaultHookTimeout,
		logger:      slog.Default(),
		observe:     func(StepResult) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends h. A hook registered later is assumed to depend on the
// ones before it and is shut down first. Safe for concurrent use.
func (r *Registry) Register(h Hook) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.hooks = append(r.hooks, h)
	r.mu.Unlock()
}

// RegisterFunc registers fn under name.
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context) error) {
	r.Register(NamedHook(name, HookFunc(fn)))
}

// Len returns the number of pending hooks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}

// Take drains the registry and returns its hooks in registration order.
// It moves hooks collected elsewhere into the registry that runs them.
func (r *Registry) Take() []Hook {
	r.mu.Lock()
	defer r.mu.Unlock()
	hooks := r.hooks
	r.hooks = nil
	return hooks
}

// HookTimeout returns the configured per-hook timeout.
func (r *Registry) HookTimeout() time.Duration {
	return r.hookTimeout
}

// Shutdown runs every hook with the configured per-hook timeout.
func (r *Registry) Shutdown(ctx context.Context) error {
	return r.ShutdownEach(ctx, r.hookTimeout)
}

// ShutdownEach drains the registry and runs the hooks last-registered
// first, one at a time, each bounded by perHook. All hooks are attempted.
// The result is an *AggregateError iff at least one hook failed or timed
// out. A second call finds the registry empty and returns nil.
func (r *Registry) ShutdownEach(ctx context.Context, perHook time.Duration) error {
	r.mu.Lock()
	hooks := r.hooks
	r.hooks = nil
	r.mu.Unlock()

	if len(hooks) == 0 {
		return nil
	}

	steps := make([]Step, 0, len(hooks))
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		steps = append(steps, Step{Name: hookName(h, i), Run: h.Shutdown})
	}

	r.logger.Info("shutting down managers", "count", len(steps), "hook_timeout", perHook)

	results := RunSequential(ctx, steps, perHook)

	var errs []error
	for _, res := range results {
		r.observe(res)
		if res.Err != nil {
			r.logger.Error("manager shutdown failed",
				"manager", res.Name,
				"duration", res.Duration,
				"timed_out", res.TimedOut,
				"error", res.Err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, res.Err))
			continue
		}
		r.logger.Debug("manager shut down", "manager", res.Name, "duration", res.Duration)
	}

	if len(errs) > 0 {
		return &AggregateError{Failed: len(errs), Total: len(results), Errors: errs}
	}
	return nil
}

func hookName(h Hook, index int) string {
	if n, ok := h.(interface{ Name() string }); ok && n.Name() != "" {
		return n.Name()
	}
	return fmt.Sprintf("hook-%d", index)
}

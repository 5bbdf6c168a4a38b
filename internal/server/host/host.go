package host

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/yndnr/toolhost-go/internal/core/service"
	"github.com/yndnr/toolhost-go/internal/core/tool"
	"github.com/yndnr/toolhost-go/internal/infra/shutdown"
	"github.com/yndnr/toolhost-go/internal/infra/tlsroots"
	"github.com/yndnr/toolhost-go/internal/server/httpserver"
	"github.com/yndnr/toolhost-go/internal/server/httpserver/handler"
	"github.com/yndnr/toolhost-go/internal/server/inflight"
	"github.com/yndnr/toolhost-go/internal/server/monitor"
	"github.com/yndnr/toolhost-go/internal/server/session"
	"github.com/yndnr/toolhost-go/internal/telemetry/history"
	"github.com/yndnr/toolhost-go/internal/telemetry/metric"
	"github.com/yndnr/toolhost-go/internal/telemetry/tracer"
	"github.com/yndnr/toolhost-go/internal/telemetry/usage"
)

// startupCleanupTimeout bounds each hook when startup fails half way.
const startupCleanupTimeout = 5 * time.Second

// Env is what a RegisterFunc may use to build its tools.
type Env struct {
	InstanceID string
	Category   string
	DataDir    string
	History    *history.Store
	Usage      *usage.Tracker
	Metrics    *metric.Registry
	Logger     *slog.Logger
}

// RouterSet is what a RegisterFunc contributes to the server.
type RouterSet struct {
	// Catalog holds the tools. An empty catalog is used when nil.
	Catalog *tool.Catalog
	// Registry holds the caller's shutdown hooks. They run before the
	// session and telemetry hooks, last registered first.
	Registry *shutdown.Registry
	// ConnectionCleanup runs whenever a connection is torn down.
	ConnectionCleanup func(ctx context.Context, connID string) error
	// SessionManager replaces the default manager. When it also implements
	// session.HookProvider its hook is registered.
	SessionManager session.Store
}

// RegisterFunc builds the tools of a server.
type RegisterFunc func(ctx context.Context, env Env) (*RouterSet, error)

// Server is a running toolhost server. The embedded Handle cancels it and
// waits for shutdown to complete.
type Server struct {
	*shutdown.Handle

	instanceID string
	addr       net.Addr
	orch       *shutdown.Orchestrator
	transport  *httpserver.Server
	history    *history.Store
	usage      *usage.Tracker
	sessions   session.Store
	catalog    *tool.Catalog
	metrics    *metric.Registry
	logger     *slog.Logger
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.addr }

// InstanceID returns the id stamped on this run's telemetry files.
func (s *Server) InstanceID() string { return s.instanceID }

// State returns the shutdown phase.
func (s *Server) State() shutdown.State { return s.orch.State() }

// Metrics returns the server's metric registry.
func (s *Server) Metrics() *metric.Registry { return s.metrics }

// History returns the tool-call history store.
func (s *Server) History() *history.Store { return s.history }

// Usage returns the usage tracker.
func (s *Server) Usage() *usage.Tracker { return s.usage }

// Sessions returns the session store.
func (s *Server) Sessions() session.Store { return s.sessions }

// Catalog returns the tool catalog.
func (s *Server) Catalog() *tool.Catalog { return s.catalog }

// NewInstanceID formats t as YYYYMMDD-HHMMSS-<nanoseconds>-<pid> in UTC.
func NewInstanceID(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s-%09d-%d", t.Format("20060102-150405"), t.Nanosecond(), os.Getpid())
}

// Start binds opts.Addr and starts the server.
func Start(ctx context.Context, opts Options, register RegisterFunc) (*Server, error) {
	if err := opts.validate(true); err != nil {
		return nil, err
	}
	ln, err := httpserver.Listen(ctx, opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return StartWithListener(ctx, ln, opts, register)
}

// StartWithListener starts the server on a pre-bound listener. The server
// owns ln from then on and closes it when startup fails.
func StartWithListener(ctx context.Context, ln net.Listener, opts Options, register RegisterFunc) (srv *Server, err error) {
	if ln == nil {
		return nil, fmt.Errorf("%w: listener is required", ErrInvalidOptions)
	}
	defer func() {
		if err != nil {
			_ = ln.Close()
		}
	}()
	if err := opts.validate(false); err != nil {
		return nil, err
	}
	opts.applyDefaults()

	instanceID := NewInstanceID(time.Now())
	log := opts.Logger.With("instance_id", instanceID)
	metrics := opts.Metrics

	reg := shutdown.NewRegistry(
		shutdown.WithRegistryLogger(log),
		shutdown.WithObserver(func(r shutdown.StepResult) {
			metrics.ObserveHook(r.Name, r.Duration, r.Err)
		}),
	)
	fail := func(err error) (*Server, error) {
		_ = reg.ShutdownEach(context.Background(), startupCleanupTimeout)
		return nil, err
	}

	// TLS material is loaded before anything touches the disk.
	var tlsWatcher *tlsroots.Watcher
	if opts.TLSCertFile != "" {
		w, err := tlsroots.NewWatcher(opts.TLSCertFile, opts.TLSKeyFile, tlsroots.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
		if err := w.Start(); err != nil {
			log.Warn("TLS certificate reload disabled", "error", err)
		}
		tlsWatcher = w
		reg.Register(w)
	}

	tracingCfg := opts.Tracing
	tracingCfg.InstanceID = instanceID
	if tracingCfg.ServiceName == "" {
		tracingCfg.ServiceName = "toolhost-" + opts.Category
	}
	tp, err := tracer.New(tracingCfg)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidOptions, err))
	}
	reg.Register(tp)

	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return fail(fmt.Errorf("host: create data dir: %w", err))
	}

	hist, err := history.Open(history.Config{
		Dir:        opts.DataDir,
		InstanceID: instanceID,
		Logger:     log,
		OnFlush: func(n int) {
			metrics.TelemetryFlushes.WithLabelValues("history").Add(float64(n))
		},
	})
	if err != nil {
		return fail(fmt.Errorf("host: open history: %w", err))
	}
	reg.Register(hist)

	// The catalog is known only after register runs.
	var catalogRef atomic.Pointer[tool.Catalog]
	tracker, err := usage.Open(usage.Config{
		Dir:        opts.DataDir,
		Category:   opts.Category,
		InstanceID: instanceID,
		Logger:     log,
		Categorizer: usage.CategorizerFunc(func(name string) (string, bool) {
			if c := catalogRef.Load(); c != nil {
				return c.CategoryOf(name)
			}
			return "", false
		}),
		OnSave: func() {
			metrics.TelemetryFlushes.WithLabelValues("usage").Inc()
		},
	})
	if err != nil {
		return fail(fmt.Errorf("host: open usage: %w", err))
	}
	reg.Register(tracker)

	set, err := register(ctx, Env{
		InstanceID: instanceID,
		Category:   opts.Category,
		DataDir:    opts.DataDir,
		History:    hist,
		Usage:      tracker,
		Metrics:    metrics,
		Logger:     log,
	})
	if err != nil {
		return fail(fmt.Errorf("host: register tools: %w", err))
	}
	if set == nil {
		set = &RouterSet{}
	}
	if set.Catalog == nil {
		set.Catalog = tool.NewCatalog(log)
	}
	catalogRef.Store(set.Catalog)

	dropConnection := func(ctx context.Context, connID string) {
		hist.RemoveConnection(connID)
		tracker.RemoveConnection(connID)
		if set.ConnectionCleanup != nil {
			if err := set.ConnectionCleanup(ctx, connID); err != nil {
				log.Warn("connection cleanup failed", "connection_id", connID, "error", err)
			}
		}
	}

	sessions := set.SessionManager
	if sessions == nil {
		sessions = session.NewManager(session.Config{
			KeepAlive: opts.SessionKeepAlive,
			OnExpire:  dropConnection,
			Logger:    log,
		})
	}
	if hp, ok := sessions.(session.HookProvider); ok {
		reg.Register(hp.ShutdownHook())
	}
	if set.Registry != nil {
		for _, h := range set.Registry.Take() {
			reg.Register(h)
		}
	}

	counter := inflight.New()
	metrics.GaugeFunc("", "requests_in_flight", "Requests currently being handled.", func() float64 {
		return float64(counter.Active())
	})
	metrics.CounterFunc("", "requests_total", "Requests processed since start.", func() float64 {
		return float64(counter.Total())
	})
	metrics.GaugeFunc("sessions", "active", "Live client sessions.", func() float64 {
		return float64(sessions.Len())
	})

	var metricsHandler http.Handler
	if !opts.DisableMetricsEndpoint {
		metricsHandler = metrics.Handler()
	}

	// orch is assigned before the transport serves its first request.
	var orch *shutdown.Orchestrator
	h := handler.New(handler.Config{
		Tools: service.NewTools(set.Catalog, service.ToolsConfig{
			History:  hist,
			Usage:    tracker,
			Observer: metrics,
			Logger:   log,
		}),
		Sessions:          sessions,
		History:           hist,
		Usage:             tracker,
		Requests:          counter,
		Metrics:           metricsHandler,
		InstanceID:        instanceID,
		Category:          opts.Category,
		Server:            handler.ServerInfo{Name: opts.ServerName, Version: opts.ServerVersion},
		ShutdownState:     func() string { return orch.State().String() },
		ShuttingDown:      func() bool { return orch.Signal().Cancelled() },
		ConnectionCleanup: set.ConnectionCleanup,
		Logger:            log,
	})

	routerCfg := httpserver.RouterConfig{
		Handler:        h,
		Logger:         log,
		Requests:       counter,
		RateLimitRPS:   opts.RateLimit.RPS,
		RateLimitBurst: opts.RateLimit.Burst,
		Observer:       metrics,
	}
	if tp.Enabled() {
		routerCfg.TracerProvider = tp.TracerProvider()
		routerCfg.Propagator = tp.Propagator()
	}

	transportCfg := httpserver.Config{
		ReadHeaderTimeout:  opts.ReadHeaderTimeout,
		IdleTimeout:        opts.IdleTimeout,
		HandshakeTimeout:   opts.HandshakeTimeout,
		OnHandshakeFailure: func(error) { metrics.HandshakeFailures.Inc() },
	}
	if tlsWatcher != nil {
		transportCfg.TLSConfig = tlsWatcher.TLSConfig()
	}
	transport := httpserver.New(transportCfg, httpserver.NewRouter(routerCfg), counter, log)

	orch = shutdown.NewOrchestrator(transport, counter, reg, shutdown.OrchestratorConfig{
		Budget:              shutdown.NewBudget(opts.ShutdownTimeout),
		RequestDrainTimeout: opts.RequestDrainTimeout,
		Logger:              log,
		OnPhase: func(s shutdown.State) {
			log.Debug("shutdown phase", "state", s.String())
		},
	})

	if err := transport.Serve(ln); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidOptions, err))
	}
	handle := orch.Start()

	go monitor.Run(context.WithoutCancel(ctx), orch.Signal(), counter, monitor.Config{
		Interval:        opts.Monitor.Interval,
		GrowthThreshold: opts.Monitor.GrowthThreshold,
		Logger:          log,
		Gauge:           metrics.ResidentMemory,
	})

	log.Info("toolhost server started",
		"addr", ln.Addr().String(),
		"category", opts.Category,
		"tls", tlsWatcher != nil,
		"tools", set.Catalog.Len(),
		"shutdown_hooks", reg.Len(),
		"data_dir", opts.DataDir,
	)

	return &Server{
		Handle:     handle,
		instanceID: instanceID,
		addr:       ln.Addr(),
		orch:       orch,
		transport:  transport,
		history:    hist,
		usage:      tracker,
		sessions:   sessions,
		catalog:    set.Catalog,
		metrics:    metrics,
		logger:     log,
	}, nil
}

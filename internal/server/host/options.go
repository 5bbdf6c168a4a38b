package host

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/yndnr/toolhost-go/internal/telemetry/metric"
	"github.com/yndnr/toolhost-go/internal/telemetry/tracer"
)

// ErrInvalidOptions wraps every option validation failure.
var ErrInvalidOptions = errors.New("host: invalid options")

// RateLimitOptions configures the per-IP request limiter.
type RateLimitOptions struct {
	RPS   float64
	Burst int
}

// MonitorOptions configures the memory monitor.
type MonitorOptions struct {
	Interval        time.Duration
	GrowthThreshold uint64
}

// Options configures a server.
type Options struct {
	// Category names the server kind. It is part of the usage file name.
	Category string
	// Addr is the listen address. Ignored by StartWithListener.
	Addr string

	TLSCertFile string
	TLSKeyFile  string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	HandshakeTimeout  time.Duration

	// ShutdownTimeout is the overall shutdown budget. Zero means 30s.
	ShutdownTimeout time.Duration
	// RequestDrainTimeout bounds the wait for in-flight requests. Zero means 30s.
	RequestDrainTimeout time.Duration
	// SessionKeepAlive is the idle lifetime of a session. Zero keeps
	// sessions until the client disconnects.
	SessionKeepAlive time.Duration

	// DataDir holds the history log and the usage snapshots.
	DataDir string

	RateLimit RateLimitOptions
	Monitor   MonitorOptions
	Tracing   tracer.Config

	// ServerName and ServerVersion are reported at initialize.
	ServerName    string
	ServerVersion string

	Logger *slog.Logger
	// Metrics is the server's registry. A new one is created when nil.
	Metrics *metric.Registry
	// DisableMetricsEndpoint hides /metrics. Metrics are still collected.
	DisableMetricsEndpoint bool
}

func (o *Options) applyDefaults() {
	if o.Category == "" {
		o.Category = "default"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = metric.New()
	}
}

func (o *Options) validate(needAddr bool) error {
	if needAddr {
		if o.Addr == "" {
			return fmt.Errorf("%w: listen address is required", ErrInvalidOptions)
		}
		if _, _, err := net.SplitHostPort(o.Addr); err != nil {
			return fmt.Errorf("%w: invalid listen address %q: %v", ErrInvalidOptions, o.Addr, err)
		}
	}
	if (o.TLSCertFile == "") != (o.TLSKeyFile == "") {
		return fmt.Errorf("%w: TLS certificate and key must be given together", ErrInvalidOptions)
	}
	if o.DataDir == "" {
		return fmt.Errorf("%w: data directory is required", ErrInvalidOptions)
	}
	if o.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: shutdown timeout must not be negative", ErrInvalidOptions)
	}
	if o.SessionKeepAlive < 0 {
		return fmt.Errorf("%w: session keep-alive must not be negative", ErrInvalidOptions)
	}
	return nil
}

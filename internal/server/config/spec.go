package config

import "time"

// ServerConfig is the root configuration for toolhost-server.
type ServerConfig struct {
	Server    ServerSection    `koanf:"server"`
	Telemetry TelemetrySection `koanf:"telemetry"`
	Log       LogSection       `koanf:"log"`
	Tracing   TracingSection   `koanf:"tracing"`
	Monitor   MonitorSection   `koanf:"monitor"`
	Metrics   MetricsSection   `koanf:"metrics"`
}

// ServerSection configures the transport and lifecycle.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http"`
	// ShutdownTimeout bounds the whole graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// SessionKeepAlive is the idle lifetime of a session. Zero keeps
	// sessions until they are closed.
	SessionKeepAlive time.Duration   `koanf:"session_keep_alive"`
	Category         string          `koanf:"category"`
	RateLimit        RateLimitConfig `koanf:"rate_limit"`
}

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	Addr              string        `koanf:"addr"`
	TLSCertFile       string        `koanf:"tls_cert_file"`
	TLSKeyFile        string        `koanf:"tls_key_file"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	HandshakeTimeout  time.Duration `koanf:"handshake_timeout"`
}

// TLSEnabled reports whether both TLS files are configured.
func (c HTTPConfig) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// RateLimitConfig configures the per-client request limiter. RPS zero
// disables it.
type RateLimitConfig struct {
	RPS   float64 `koanf:"rps"`
	Burst int     `koanf:"burst"`
}

// TelemetrySection configures the history and usage stores.
type TelemetrySection struct {
	DataDir string `koanf:"data_dir"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TracingSection configures OpenTelemetry.
type TracingSection struct {
	Enabled  bool   `koanf:"enabled"`
	Exporter string `koanf:"exporter"`
}

// MonitorSection configures the memory monitor.
type MonitorSection struct {
	Interval        time.Duration `koanf:"interval"`
	GrowthThreshold uint64        `koanf:"growth_threshold"`
}

// MetricsSection configures the /metrics endpoint.
type MetricsSection struct {
	Enabled bool `koanf:"enabled"`
}

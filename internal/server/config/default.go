package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr          = "127.0.0.1:5080"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultCategory          = "default"

	DefaultDataDir = "/var/lib/toolhost-server"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMonitorInterval = 30 * time.Second
	DefaultGrowthThreshold = 100 << 20
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:              DefaultHTTPAddr,
				ReadHeaderTimeout: DefaultReadHeaderTimeout,
				IdleTimeout:       DefaultIdleTimeout,
				HandshakeTimeout:  DefaultHandshakeTimeout,
			},
			ShutdownTimeout: DefaultShutdownTimeout,
			Category:        DefaultCategory,
		},
		Telemetry: TelemetrySection{
			DataDir: DefaultDataDir,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Tracing: TracingSection{
			Exporter: "none",
		},
		Monitor: MonitorSection{
			Interval:        DefaultMonitorInterval,
			GrowthThreshold: DefaultGrowthThreshold,
		},
		Metrics: MetricsSection{
			Enabled: true,
		},
	}
}

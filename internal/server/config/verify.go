package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/yndnr/toolhost-go/internal/telemetry/logger"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if cfg.Telemetry.DataDir == "" {
		return errors.New("telemetry.data_dir is required")
	}
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text", "console":
	default:
		return fmt.Errorf("log.format: unsupported format %q", cfg.Log.Format)
	}
	switch strings.ToLower(cfg.Tracing.Exporter) {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter: unsupported exporter %q", cfg.Tracing.Exporter)
	}
	if cfg.Monitor.Interval <= 0 {
		return errors.New("monitor.interval must be positive")
	}
	return nil
}

func verifyServer(cfg *ServerSection) error {
	if cfg.HTTP.Addr == "" {
		return errors.New("server.http.addr is required")
	}
	if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
		return fmt.Errorf("server.http.addr: %w", err)
	}

	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		return errors.New("server.http.tls_cert_file and server.http.tls_key_file must be set together")
	}
	for _, path := range []string{cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("tls file: %w", err)
		}
	}

	if cfg.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	if cfg.SessionKeepAlive < 0 {
		return errors.New("server.session_keep_alive must not be negative")
	}
	if cfg.HTTP.HandshakeTimeout <= 0 {
		return errors.New("server.http.handshake_timeout must be positive")
	}
	if cfg.RateLimit.RPS < 0 || cfg.RateLimit.Burst < 0 {
		return errors.New("server.rate_limit values must not be negative")
	}
	if cfg.Category == "" {
		return errors.New("server.category is required")
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/toolhost-go/internal/core/tool"
	"github.com/yndnr/toolhost-go/internal/core/tool/builtin"
	"github.com/yndnr/toolhost-go/internal/infra/buildinfo"
	"github.com/yndnr/toolhost-go/internal/infra/confloader"
	"github.com/yndnr/toolhost-go/internal/infra/shutdown"
	"github.com/yndnr/toolhost-go/internal/server/config"
	"github.com/yndnr/toolhost-go/internal/server/host"
	"github.com/yndnr/toolhost-go/internal/storage/kv"
	"github.com/yndnr/toolhost-go/internal/telemetry/logger"
	"github.com/yndnr/toolhost-go/internal/telemetry/tracer"
)

func run(c *cli.Context) error {
	overrides, err := flagOverrides(c)
	if err != nil {
		return err
	}
	configFile := c.String("config")

	cfg, err := config.Load(configFile, overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(log)

	info := buildinfo.Get()
	log.Info("starting toolhost-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", configFile)

	if configFile != "" {
		stop, err := watchLogLevel(configFile, overrides, log)
		if err != nil {
			log.Warn("configuration reload disabled", "error", err)
		} else {
			defer stop()
		}
	}

	return host.Run(c.Context, hostOptions(cfg, log), registerTools(time.Now()))
}

func hostOptions(cfg *config.ServerConfig, log *slog.Logger) host.Options {
	info := buildinfo.Get()
	return host.Options{
		Category:          cfg.Server.Category,
		Addr:              cfg.Server.HTTP.Addr,
		TLSCertFile:       cfg.Server.HTTP.TLSCertFile,
		TLSKeyFile:        cfg.Server.HTTP.TLSKeyFile,
		ReadHeaderTimeout: cfg.Server.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.HTTP.IdleTimeout,
		HandshakeTimeout:  cfg.Server.HTTP.HandshakeTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		SessionKeepAlive:  cfg.Server.SessionKeepAlive,
		DataDir:           cfg.Telemetry.DataDir,
		RateLimit: host.RateLimitOptions{
			RPS:   cfg.Server.RateLimit.RPS,
			Burst: cfg.Server.RateLimit.Burst,
		},
		Monitor: host.MonitorOptions{
			Interval:        cfg.Monitor.Interval,
			GrowthThreshold: cfg.Monitor.GrowthThreshold,
		},
		Tracing: tracer.Config{
			Enabled:  cfg.Tracing.Enabled,
			Exporter: cfg.Tracing.Exporter,
		},
		ServerName:             "toolhost-server",
		ServerVersion:          info.Version,
		Logger:                 log,
		DisableMetricsEndpoint: !cfg.Metrics.Enabled,
	}
}

// registerTools opens the kv store under the data directory and registers
// the builtin tools.
func registerTools(startedAt time.Time) host.RegisterFunc {
	return func(_ context.Context, env host.Env) (*host.RouterSet, error) {
		kvCfg := kv.DefaultConfig(filepath.Join(env.DataDir, "kv"))
		kvCfg.Logger = env.Logger
		store, err := kv.Open(kvCfg)
		if err != nil {
			return nil, err
		}

		catalog := tool.NewCatalog(env.Logger)
		if err := builtin.Register(catalog, builtin.Deps{
			InstanceID: env.InstanceID,
			Category:   env.Category,
			StartedAt:  startedAt,
			Store:      store,
		}); err != nil {
			_ = store.Shutdown(context.Background())
			return nil, err
		}

		env.Metrics.GaugeFunc("kv", "size_bytes", "On-disk size of the kv store.", func() float64 {
			return float64(store.Stats().TotalSize())
		})

		reg := shutdown.NewRegistry(shutdown.WithRegistryLogger(env.Logger))
		reg.Register(store)

		return &host.RouterSet{
			Catalog:           catalog,
			Registry:          reg,
			ConnectionCleanup: builtin.ConnectionCleanup(store),
		}, nil
	}
}

// watchLogLevel reloads the config file on change and applies log.level.
// Other settings need a restart.
func watchLogLevel(path string, overrides map[string]any, log *slog.Logger) (func(), error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		_ = w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		cfg, err := config.Load(path, overrides)
		if err != nil {
			log.Warn("ignoring invalid configuration change", "path", path, "error", err)
			return
		}
		if strings.EqualFold(cfg.Log.Level, logger.GetLevel()) {
			return
		}
		if err := logger.SetLevel(cfg.Log.Level); err != nil {
			log.Warn("failed to apply log level", "level", cfg.Log.Level, "error", err)
			return
		}
		log.Info("log level changed", "level", cfg.Log.Level)
	})
	w.StartAsync()
	return func() { _ = w.Stop() }, nil
}

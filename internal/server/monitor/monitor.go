package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/toolhost-go/internal/infra/shutdown"
)

const (
	DefaultInterval        = 30 * time.Second
	DefaultGrowthThreshold = 100 << 20
)

// RequestCounter reports the cumulative number of handled requests.
type RequestCounter interface {
	Total() uint64
}

// Config configures Run.
type Config struct {
	Interval        time.Duration
	GrowthThreshold uint64
	Logger          *slog.Logger
	// Gauge receives every sample when set.
	Gauge prometheus.Gauge
	// Sample overrides MemoryUsed in tests.
	Sample func() (uint64, bool)
	// OnWarn is called after a growth warning is logged.
	OnWarn func(growth uint64)
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.GrowthThreshold == 0 {
		c.GrowthThreshold = DefaultGrowthThreshold
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Sample == nil {
		c.Sample = MemoryUsed
	}
}

// Run samples memory every Interval until sig fires or ctx ends. It blocks,
// so callers run it in its own goroutine.
func Run(ctx context.Context, sig *shutdown.Signal, requests RequestCounter, cfg Config) {
	cfg.applyDefaults()
	logger := cfg.Logger.With("component", "memory_monitor")

	lastMem, _ := cfg.Sample()
	lastReqs := requests.Total()
	lastAt := time.Now()
	if cfg.Gauge != nil {
		cfg.Gauge.Set(float64(lastMem))
	}
	logger.Info("memory monitor started",
		"interval", cfg.Interval,
		"memory", FormatBytes(lastMem),
	)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-sig.Done():
			logger.Info("memory monitor stopping on shutdown signal")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		mem, _ := cfg.Sample()
		reqs := requests.Total()
		now := time.Now()
		if cfg.Gauge != nil {
			cfg.Gauge.Set(float64(mem))
		}

		if mem > lastMem && mem-lastMem >= cfg.GrowthThreshold {
			growth := mem - lastMem
			logger.Warn("significant memory growth detected",
				"previous", FormatBytes(lastMem),
				"current", FormatBytes(mem),
				"growth", FormatBytes(growth),
				"requests_delta", reqs-lastReqs,
				"elapsed", now.Sub(lastAt),
			)
			if cfg.OnWarn != nil {
				cfg.OnWarn(growth)
			}
		} else {
			logger.Debug("memory sample", "memory", FormatBytes(mem), "requests_total", reqs)
		}

		lastMem, lastReqs, lastAt = mem, reqs, now
	}
}

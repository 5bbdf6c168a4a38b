package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/toolhost-go/internal/core/tool"
	"github.com/yndnr/toolhost-go/internal/server/config"
	"github.com/yndnr/toolhost-go/internal/server/host"
	"github.com/yndnr/toolhost-go/internal/telemetry/logger"
	"github.com/yndnr/toolhost-go/internal/telemetry/metric"
)

func parseOverrides(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	var (
		out      map[string]any
		parseErr error
	)
	app := &cli.App{
		Name:  "toolhost-server",
		Flags: serverFlags(),
		Action: func(c *cli.Context) error {
			out, parseErr = flagOverrides(c)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"toolhost-server"}, args...)))
	return out, parseErr
}

func TestFlagOverrides(t *testing.T) {
	out, err := parseOverrides(t,
		"--http", "127.0.0.1:9000",
		"--shutdown-timeout-secs", "5",
		"--session-keep-alive", "2m",
		"--data-dir", "/tmp/th",
		"--log-level", "debug",
		"--category", "search",
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"server.http.addr":          "127.0.0.1:9000",
		"server.shutdown_timeout":   5 * time.Second,
		"server.session_keep_alive": 2 * time.Minute,
		"telemetry.data_dir":        "/tmp/th",
		"log.level":                 "debug",
		"server.category":           "search",
	}, out)
}

func TestFlagOverrides_UnsetFlagsAreOmitted(t *testing.T) {
	out, err := parseOverrides(t)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFlagOverrides_Errors(t *testing.T) {
	_, err := parseOverrides(t, "--tls-cert", "cert.pem")
	assert.ErrorContains(t, err, "--tls-cert and --tls-key")

	_, err = parseOverrides(t, "--shutdown-timeout-secs", "0")
	assert.ErrorContains(t, err, "must be positive")
}

func TestHostOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Category = "search"
	cfg.Server.SessionKeepAlive = time.Minute
	cfg.Metrics.Enabled = false

	opts := hostOptions(cfg, logger.Discard())
	assert.Equal(t, "search", opts.Category)
	assert.Equal(t, config.DefaultHTTPAddr, opts.Addr)
	assert.Equal(t, config.DefaultShutdownTimeout, opts.ShutdownTimeout)
	assert.Equal(t, time.Minute, opts.SessionKeepAlive)
	assert.True(t, opts.DisableMetricsEndpoint)
	assert.Equal(t, "toolhost-server", opts.ServerName)
}

func TestRegisterTools(t *testing.T) {
	env := host.Env{
		InstanceID: "inst",
		Category:   "test",
		DataDir:    t.TempDir(),
		Metrics:    metric.New(),
		Logger:     logger.Discard(),
	}
	set, err := registerTools(time.Now())(context.Background(), env)
	require.NoError(t, err)
	require.NotNil(t, set.Catalog)
	require.NotNil(t, set.Registry)
	assert.Equal(t, 1, set.Registry.Len())

	kvSet, ok := set.Catalog.Lookup("kv_set")
	require.True(t, ok)
	ctx := tool.WithConnectionID(context.Background(), "c1")
	_, err = kvSet.Handler(ctx, json.RawMessage(`{"key":"k","value":"v"}`))
	require.NoError(t, err)

	require.NoError(t, set.ConnectionCleanup(context.Background(), "c1"))
	require.NoError(t, set.Registry.Shutdown(context.Background()))
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/toolhost-go/internal/infra/buildinfo"
)

func main() {
	if err := App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// App creates the server application.
func App() *cli.App {
	info := buildinfo.Get()
	return &cli.App{
		Name:    "toolhost-server",
		Usage:   "Host tools over an MCP-style JSON-RPC endpoint",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.BuildTime),
		Flags:   serverFlags(),
		Action:  run,
	}
}

func serverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML configuration file",
			EnvVars: []string{"TOOLHOST_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "http",
			Usage: "Listen address, host:port (required unless set in config)",
		},
		&cli.StringFlag{
			Name:  "tls-cert",
			Usage: "TLS certificate file (requires --tls-key)",
		},
		&cli.StringFlag{
			Name:  "tls-key",
			Usage: "TLS private key file (requires --tls-cert)",
		},
		&cli.IntFlag{
			Name:  "shutdown-timeout-secs",
			Usage: "Graceful shutdown budget in seconds",
			Value: 30,
		},
		&cli.DurationFlag{
			Name:  "session-keep-alive",
			Usage: "Idle lifetime of a session, 0 keeps sessions until the client disconnects",
		},
		&cli.StringFlag{
			Name:  "data-dir",
			Usage: "Directory for tool history, usage statistics and the kv store",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "Log format: json, text",
		},
		&cli.StringFlag{
			Name:  "category",
			Usage: "Server category, part of the usage file name",
		},
	}
}

// flagOverrides maps the flags the user set onto config keys. Unset flags
// leave file and environment values alone.
func flagOverrides(c *cli.Context) (map[string]any, error) {
	out := make(map[string]any)
	setString := func(flag, key string) {
		if c.IsSet(flag) {
			out[key] = c.String(flag)
		}
	}
	setString("http", "server.http.addr")
	setString("tls-cert", "server.http.tls_cert_file")
	setString("tls-key", "server.http.tls_key_file")
	setString("data-dir", "telemetry.data_dir")
	setString("log-level", "log.level")
	setString("log-format", "log.format")
	setString("category", "server.category")

	if c.IsSet("tls-cert") != c.IsSet("tls-key") {
		return nil, fmt.Errorf("--tls-cert and --tls-key must be given together")
	}
	if c.IsSet("shutdown-timeout-secs") {
		secs := c.Int("shutdown-timeout-secs")
		if secs <= 0 {
			return nil, fmt.Errorf("--shutdown-timeout-secs must be positive")
		}
		out["server.shutdown_timeout"] = time.Duration(secs) * time.Second
	}
	if c.IsSet("session-keep-alive") {
		out["server.session_keep_alive"] = c.Duration("session-keep-alive")
	}
	return out, nil
}

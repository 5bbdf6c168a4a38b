package command

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/toolhost-go/internal/cli/connection"
	"github.com/yndnr/toolhost-go/internal/cli/output"
	"github.com/yndnr/toolhost-go/internal/infra/buildinfo"
	"github.com/yndnr/toolhost-go/internal/infra/tlsroots"
)

// DefaultServer matches the server's default listen address.
const DefaultServer = "127.0.0.1:5080"

// App creates the CLI application.
func App() *cli.App {
	info := buildinfo.Get()
	return &cli.App{
		Name:    "toolhost-cli",
		Usage:   "Inspect and manage a running toolhost-server",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.BuildTime),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			StatusCommand(),
			HealthCommand(),
			HistoryCommand(),
			UsageCommand(),
			DisconnectCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Server address, host:port or URL",
			EnvVars: []string{"TOOLHOST_SERVER"},
			Value:   DefaultServer,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Per-request timeout",
			Value: connection.DefaultTimeout,
		},
		&cli.StringFlag{
			Name:    "ca-file",
			Usage:   "Extra CA certificate for https servers",
			EnvVars: []string{"TOOLHOST_CA_FILE"},
		},
		&cli.BoolFlag{
			Name:  "insecure",
			Usage: "Skip TLS certificate verification",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Log requests and retries to stderr",
		},
	}
}

// GlobalFlags holds the flags shared by every command.
type GlobalFlags struct {
	Server   string
	Output   string
	Wide     bool
	Timeout  time.Duration
	CAFile   string
	Insecure bool
	Verbose  bool
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		Server:   c.String("server"),
		Output:   c.String("output"),
		Wide:     c.Bool("wide"),
		Timeout:  c.Duration("timeout"),
		CAFile:   c.String("ca-file"),
		Insecure: c.Bool("insecure"),
		Verbose:  c.Bool("verbose"),
	}
}

// newClient builds the HTTP client for the global flags.
func newClient(flags *GlobalFlags) (*connection.HTTPClient, error) {
	cfg := connection.Config{
		Server:  flags.Server,
		Timeout: flags.Timeout,
		Logger:  connection.NewLogger(flags.Verbose),
	}
	if flags.CAFile != "" || flags.Insecure {
		tlsCfg, err := tlsroots.ClientTLSConfig(flags.CAFile, flags.Insecure)
		if err != nil {
			return nil, fmt.Errorf("load CA file: %w", err)
		}
		cfg.TLSConfig = tlsCfg
	}
	return connection.NewHTTPClient(cfg), nil
}

// invocation bundles what an action needs.
type invocation struct {
	ctx       context.Context
	client    *connection.HTTPClient
	formatter output.Formatter
	format    output.Format
	c         *cli.Context
}

// begin parses global flags and connects. The caller must call done.
func begin(c *cli.Context) (*invocation, func(), error) {
	flags := ParseGlobalFlags(c)
	format, err := output.ParseFormat(flags.Output)
	if err != nil {
		return nil, nil, err
	}
	client, err := newClient(flags)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(c.Context, flags.Timeout+time.Second)
	return &invocation{
		ctx:       ctx,
		client:    client,
		formatter: output.NewFormatter(format, flags.Wide),
		format:    format,
		c:         c,
	}, cancel, nil
}

func (s *invocation) print(data any) error {
	return s.formatter.Format(s.c.App.Writer, data)
}

func (s *invocation) printf(format string, args ...any) {
	fmt.Fprintf(s.c.App.Writer, format, args...)
}

// connectionArg returns the single <connection-id> argument.
func connectionArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 || c.Args().First() == "" {
		return "", fmt.Errorf("usage: %s %s <connection-id>", c.App.Name, c.Command.Name)
	}
	return c.Args().First(), nil
}

package command

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/toolhost-go/internal/cli/connection"
	"github.com/yndnr/toolhost-go/internal/cli/output"
	"github.com/yndnr/toolhost-go/internal/server/httpserver/handler"
)

// StatusCommand shows the server's status summary.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show server status",
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	s, done, err := begin(c)
	if err != nil {
		return err
	}
	defer done()

	var status handler.StatusResponse
	if err := s.client.GetJSON(s.ctx, "/status", nil, &status); err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	return s.print(&status)
}

// HealthCommand reports readiness. It fails while the server is draining.
func HealthCommand() *cli.Command {
	return &cli.Command{
		Name:   "health",
		Usage:  "Check whether the server is ready",
		Action: healthAction,
	}
}

func healthAction(c *cli.Context) error {
	s, done, err := begin(c)
	if err != nil {
		return err
	}
	defer done()

	var body map[string]string
	err = s.client.GetJSON(s.ctx, "/ready", nil, &body)
	var apiErr *connection.APIError
	if errors.As(err, &apiErr) {
		return cli.Exit(fmt.Sprintf("not ready: %v", apiErr), 2)
	}
	if err != nil {
		return err
	}
	if s.format != output.FormatTable {
		return s.print(body)
	}
	s.printf("%s: %s\n", s.client.BaseURL(), body["status"])
	return nil
}

package command

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/toolhost-go/internal/cli/connection"
	"github.com/yndnr/toolhost-go/internal/cli/output"
	"github.com/yndnr/toolhost-go/internal/server/httpserver/handler"
)

func connectionPath(id, suffix string) string {
	return "/admin/v1/connections/" + url.PathEscape(id) + suffix
}

// HistoryCommand lists a connection's recent tool calls.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show tool-call history of a connection",
		ArgsUsage: "<connection-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "max", Usage: "Maximum records to return"},
			&cli.IntFlag{Name: "offset", Usage: "Start position; negative reads the last N records"},
			&cli.StringFlag{Name: "tool", Usage: "Only calls to this tool"},
			&cli.StringFlag{Name: "since", Usage: "Only calls at or after this RFC3339 time"},
		},
		Action: historyAction,
	}
}

type historyRow struct {
	Time     string `json:"time"`
	Tool     string `json:"tool"`
	Duration string `json:"duration"`
	Args     string `json:"args" table:"wide"`
	Output   string `json:"output" table:"wide"`
}

func historyAction(c *cli.Context) error {
	id, err := connectionArg(c)
	if err != nil {
		return err
	}
	s, done, err := begin(c)
	if err != nil {
		return err
	}
	defer done()

	query := url.Values{}
	if c.IsSet("max") {
		query.Set("max", strconv.Itoa(c.Int("max")))
	}
	if c.IsSet("offset") {
		query.Set("offset", strconv.Itoa(c.Int("offset")))
	}
	if v := c.String("tool"); v != "" {
		query.Set("tool", v)
	}
	if v := c.String("since"); v != "" {
		query.Set("since", v)
	}

	var resp handler.HistoryResponse
	if err := s.client.GetJSON(s.ctx, connectionPath(id, "/history"), query, &resp); err != nil {
		return fmt.Errorf("get history: %w", err)
	}
	if s.format != output.FormatTable {
		return s.print(&resp)
	}

	if resp.Count == 0 {
		s.printf("no tool calls recorded for %s\n", id)
		return nil
	}
	rows := make([]historyRow, 0, len(resp.Records))
	for _, r := range resp.Records {
		row := historyRow{
			Time:     r.Timestamp,
			Tool:     r.ToolName,
			Duration: (time.Duration(r.DurationMs) * time.Millisecond).String(),
			Args:     r.ArgsJSON,
			Output:   r.OutputJSON,
		}
		if t, ok := r.Time(); ok {
			row.Time = t.Local().Format("2006-01-02 15:04:05")
		}
		rows = append(rows, row)
	}
	return s.print(rows)
}

// UsageCommand shows a connection's usage counters.
func UsageCommand() *cli.Command {
	return &cli.Command{
		Name:      "usage",
		Usage:     "Show usage statistics of a connection",
		ArgsUsage: "<connection-id>",
		Action:    usageAction,
	}
}

func usageAction(c *cli.Context) error {
	id, err := connectionArg(c)
	if err != nil {
		return err
	}
	s, done, err := begin(c)
	if err != nil {
		return err
	}
	defer done()

	var resp handler.UsageResponse
	if err := s.client.GetJSON(s.ctx, connectionPath(id, "/usage"), nil, &resp); err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			return fmt.Errorf("no usage recorded for %s", id)
		}
		return fmt.Errorf("get usage: %w", err)
	}
	if s.format != output.FormatTable {
		return s.print(&resp)
	}

	st := resp.Stats
	summary := &output.Table{Headers: []string{"FIELD", "VALUE"}}
	summary.AddRow("connection_id", resp.ConnectionID)
	summary.AddRow("total_tool_calls", strconv.FormatUint(st.TotalToolCalls, 10))
	summary.AddRow("successful_calls", strconv.FormatUint(st.SuccessfulCalls, 10))
	summary.AddRow("failed_calls", strconv.FormatUint(st.FailedCalls, 10))
	summary.AddRow("total_sessions", strconv.FormatUint(st.TotalSessions, 10))
	summary.AddRow("first_used", unixTime(st.FirstUsed))
	summary.AddRow("last_used", unixTime(st.LastUsed))
	if err := s.print(summary); err != nil {
		return err
	}

	if len(st.ToolCounts) > 0 {
		s.printf("\n")
		if err := s.print(countTable("TOOL", st.ToolCounts)); err != nil {
			return err
		}
	}
	if len(st.Categories) > 0 {
		s.printf("\n")
		return s.print(countTable("CATEGORY", st.Categories))
	}
	return nil
}

// countTable renders counts busiest first, then by name.
func countTable(label string, counts map[string]uint64) *output.Table {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	t := &output.Table{Headers: []string{label, "CALLS"}}
	for _, name := range names {
		t.AddRow(name, strconv.FormatUint(counts[name], 10))
	}
	return t
}

func unixTime(sec int64) string {
	if sec <= 0 {
		return "-"
	}
	return time.Unix(sec, 0).Local().Format("2006-01-02 15:04:05")
}

// DisconnectCommand tears a connection down on the server.
func DisconnectCommand() *cli.Command {
	return &cli.Command{
		Name:      "disconnect",
		Usage:     "Close a connection and drop its state",
		ArgsUsage: "<connection-id>",
		Action:    disconnectAction,
	}
}

func disconnectAction(c *cli.Context) error {
	id, err := connectionArg(c)
	if err != nil {
		return err
	}
	s, done, err := begin(c)
	if err != nil {
		return err
	}
	defer done()

	if err := s.client.Delete(s.ctx, connectionPath(id, "")); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	s.printf("connection %s disconnected\n", id)
	return nil
}

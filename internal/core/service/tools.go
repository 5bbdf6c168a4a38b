package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/yndnr/toolhost-go/internal/core/domain"
	"github.com/yndnr/toolhost-go/internal/core/tool"
)

// HistoryRecorder receives one record per completed tool call.
type HistoryRecorder interface {
	RecordCall(connID, toolName string, args, output any, duration time.Duration)
}

// UsageRecorder receives the outcome of each tool call.
type UsageRecorder interface {
	RecordOutcome(connID, toolName string, success bool)
}

// CallObserver receives per-call metrics.
type CallObserver interface {
	ObserveToolCall(toolName string, ok bool)
}

// ToolsConfig holds the optional collaborators of Tools.
type ToolsConfig struct {
	History  HistoryRecorder
	Usage    UsageRecorder
	Observer CallObserver
	Logger   *slog.Logger
	Now      func() time.Time
}

// Tools dispatches tool calls and records their telemetry.
type Tools struct {
	catalog  *tool.Catalog
	history  HistoryRecorder
	usage    UsageRecorder
	observer CallObserver
	logger   *slog.Logger
	now      func() time.Time
}

// NewTools creates a tool service over catalog.
func NewTools(catalog *tool.Catalog, cfg ToolsConfig) *Tools {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tools{
		catalog:  catalog,
		history:  cfg.History,
		usage:    cfg.Usage,
		observer: cfg.Observer,
		logger:   cfg.Logger.With("component", "tools"),
		now:      cfg.Now,
	}
}

// List returns the registered tools sorted by name.
func (s *Tools) List() []tool.Tool {
	return s.catalog.List()
}

// Call runs the named tool for a connection.
//
// The call is timed and its outcome recorded to history and usage without
// waiting for either. An unknown tool is reported as ErrToolNotFound and
// is not recorded.
func (s *Tools) Call(ctx context.Context, connID, name string, args json.RawMessage) (result any, err error) {
	t, ok := s.catalog.Lookup(name)
	if !ok {
		return nil, domain.ErrToolNotFound.WithDetails(name)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool panicked", "tool_name", name, "connection_id", connID, "panic", r)
			result = nil
			err = domain.ErrToolFailed.WithCause(fmt.Errorf("panic: %v", r))
		}
		s.record(connID, name, args, result, err, s.now().Sub(start))
	}()

	result, err = t.Handler(tool.WithConnectionID(ctx, connID), args)
	if err != nil && !domain.IsDomainError(err, "") {
		err = domain.ErrToolFailed.WithCause(err)
	}
	return result, err
}

func (s *Tools) record(connID, name string, args json.RawMessage, result any, err error, d time.Duration) {
	success := err == nil
	output := result
	if !success {
		output = map[string]string{"error": err.Error()}
		s.logger.Warn("tool call failed", "tool_name", name, "connection_id", connID, "duration", d, "error", err)
	} else {
		s.logger.Debug("tool call completed", "tool_name", name, "connection_id", connID, "duration", d)
	}

	if s.history != nil {
		s.history.RecordCall(connID, name, args, output, d)
	}
	if s.usage != nil {
		s.usage.RecordOutcome(connID, name, success)
	}
	if s.observer != nil {
		s.observer.ObserveToolCall(name, success)
	}
}

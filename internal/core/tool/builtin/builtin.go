// Package builtin provides the tools every toolhost-server ships with.
package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yndnr/toolhost-go/internal/core/domain"
	"github.com/yndnr/toolhost-go/internal/core/tool"
	"github.com/yndnr/toolhost-go/internal/infra/buildinfo"
	"github.com/yndnr/toolhost-go/internal/storage/kv"
)

// Tool categories.
const (
	CategoryUtil = "util"
	CategoryKV   = "kv"
)

const maxListLimit = 1000

// Deps are the collaborators of the builtin tools.
type Deps struct {
	InstanceID string
	Category   string
	StartedAt  time.Time
	// Store backs the kv_* tools. They are not registered when nil.
	Store *kv.Store
	Now   func() time.Time
}

// Register adds the builtin tools to c.
func Register(c *tool.Catalog, deps Deps) error {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = deps.Now()
	}

	tools := []tool.Tool{
		{
			Name:        "echo",
			Description: "Returns its arguments unchanged.",
			Category:    CategoryUtil,
			InputSchema: json.RawMessage(`{"type":"object"}`),
			Handler:     echo,
		},
		{
			Name:        "server_info",
			Description: "Describes the running server.",
			Category:    CategoryUtil,
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			Handler:     serverInfo(deps),
		},
	}
	if deps.Store != nil {
		tools = append(tools, kvTools(deps.Store)...)
	}

	for _, t := range tools {
		if err := c.Register(t); err != nil {
			return fmt.Errorf("builtin: %w", err)
		}
	}
	return nil
}

// ConnectionCleanup returns a callback that drops a connection's kv keys.
func ConnectionCleanup(store *kv.Store) func(ctx context.Context, connID string) error {
	return func(ctx context.Context, connID string) error {
		if connID == "" {
			return nil
		}
		if err := store.DropPrefix(ctx, connPrefix(connID)); err != nil && !errors.Is(err, kv.ErrClosed) {
			return err
		}
		return nil
	}
}

func echo(_ context.Context, args json.RawMessage) (any, error) {
	return args, nil
}

type serverInfoResult struct {
	InstanceID    string         `json:"instance_id"`
	Category      string         `json:"category"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Build         buildinfo.Info `json:"build"`
	KV            *kv.Stats      `json:"kv,omitempty"`
}

func serverInfo(deps Deps) tool.Handler {
	return func(context.Context, json.RawMessage) (any, error) {
		res := serverInfoResult{
			InstanceID:    deps.InstanceID,
			Category:      deps.Category,
			UptimeSeconds: int64(deps.Now().Sub(deps.StartedAt).Seconds()),
			Build:         buildinfo.Get(),
		}
		if deps.Store != nil {
			st := deps.Store.Stats()
			res.KV = &st
		}
		return res, nil
	}
}

func decode(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return domain.ErrInvalidArgument.WithDetails("arguments must be a JSON object").WithCause(err)
	}
	return nil
}

func requireKey(key string) error {
	if key == "" {
		return domain.ErrInvalidArgument.WithDetails("key is required")
	}
	return nil
}

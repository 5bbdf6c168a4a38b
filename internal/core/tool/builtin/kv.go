package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/yndnr/toolhost-go/internal/core/tool"
	"github.com/yndnr/toolhost-go/internal/storage/kv"
)

// Keys are stored as c/<connection id>/<key> so a connection only sees its
// own entries and teardown can drop them in one go.
func connPrefix(connID string) string {
	return "c/" + connID + "/"
}

func scopedKey(ctx context.Context, key string) string {
	return connPrefix(tool.ConnectionID(ctx)) + key
}

type kvSetArgs struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type kvKeyArgs struct {
	Key string `json:"key"`
}

type kvListArgs struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit"`
}

type kvValue struct {
	Key       string    `json:"key"`
	Value     string    `json:"value,omitempty"`
	Found     bool      `json:"found"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

func kvTools(store *kv.Store) []tool.Tool {
	return []tool.Tool{
		{
			Name:        "kv_set",
			Description: "Stores a string value for this connection.",
			Category:    CategoryKV,
			InputSchema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"},"value":{"type":"string"},"ttl_seconds":{"type":"integer","minimum":0}},"required":["key","value"]}`),
			Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args kvSetArgs
				if err := decode(raw, &args); err != nil {
					return nil, err
				}
				if err := requireKey(args.Key); err != nil {
					return nil, err
				}
				ttl := time.Duration(args.TTLSeconds) * time.Second
				if err := store.Set(ctx, scopedKey(ctx, args.Key), []byte(args.Value), ttl); err != nil {
					return nil, err
				}
				return map[string]any{"key": args.Key, "stored": true}, nil
			},
		},
		{
			Name:        "kv_get",
			Description: "Reads a value stored by kv_set.",
			Category:    CategoryKV,
			InputSchema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
			Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args kvKeyArgs
				if err := decode(raw, &args); err != nil {
					return nil, err
				}
				if err := requireKey(args.Key); err != nil {
					return nil, err
				}
				value, err := store.Get(ctx, scopedKey(ctx, args.Key))
				switch {
				case errors.Is(err, kv.ErrNotFound):
					return kvValue{Key: args.Key}, nil
				case err != nil:
					return nil, err
				}
				return kvValue{Key: args.Key, Value: string(value), Found: true}, nil
			},
		},
		{
			Name:        "kv_delete",
			Description: "Removes a value stored by kv_set.",
			Category:    CategoryKV,
			InputSchema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
			Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args kvKeyArgs
				if err := decode(raw, &args); err != nil {
					return nil, err
				}
				if err := requireKey(args.Key); err != nil {
					return nil, err
				}
				if err := store.Delete(ctx, scopedKey(ctx, args.Key)); err != nil {
					return nil, err
				}
				return map[string]any{"key": args.Key, "deleted": true}, nil
			},
		},
		{
			Name:        "kv_list",
			Description: "Lists this connection's keys, optionally by prefix.",
			Category:    CategoryKV,
			InputSchema: json.RawMessage(`{"type":"object","properties":{"prefix":{"type":"string"},"limit":{"type":"integer","minimum":1}}}`),
			Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args kvListArgs
				if err := decode(raw, &args); err != nil {
					return nil, err
				}
				if args.Limit <= 0 || args.Limit > maxListLimit {
					args.Limit = maxListLimit
				}
				base := connPrefix(tool.ConnectionID(ctx))
				entries, err := store.Scan(ctx, base+args.Prefix, args.Limit)
				if err != nil {
					return nil, err
				}
				out := make([]kvValue, 0, len(entries))
				for _, e := range entries {
					out = append(out, kvValue{
						Key:       strings.TrimPrefix(e.Key, base),
						Value:     string(e.Value),
						Found:     true,
						ExpiresAt: e.ExpiresAt,
					})
				}
				return map[string]any{"entries": out, "count": len(out)}, nil
			},
		},
	}
}

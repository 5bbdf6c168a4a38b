// Package tool holds the catalog of callable tools.
package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/yndnr/toolhost-go/internal/core/domain"
)

// Handler executes a tool with raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool describes one callable tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Handler     Handler         `json:"-"`
}

// Catalog is a concurrency-safe set of tools keyed by name.
type Catalog struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		tools:  make(map[string]Tool),
		logger: logger.With("component", "tool_catalog"),
	}
}

// Register adds t. Names must be unique and handlers set.
func (c *Catalog) Register(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return domain.ErrInvalidArgument.WithDetails("tool needs a name and a handler")
	}
	c.logger.Debug("registering tool", "tool_name", t.Name, "category", t.Category)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tools[t.Name]; exists {
		return domain.ErrDuplicateTool.WithDetails(t.Name)
	}
	c.tools[t.Name] = t
	c.logger.Info("registered tool", "tool_name", t.Name, "category", t.Category)
	return nil
}

// MustRegister registers every tool and panics on the first error.
func (c *Catalog) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := c.Register(t); err != nil {
			panic(err)
		}
	}
}

// Lookup finds a tool by name.
func (c *Catalog) Lookup(name string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[name]
	return t, ok
}

// List returns all tools sorted by name.
func (c *Catalog) List() []Tool {
	c.mu.RLock()
	out := make([]Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of tools.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}

// CategoryOf returns the category of a registered tool.
func (c *Catalog) CategoryOf(name string) (string, bool) {
	t, ok := c.Lookup(name)
	if !ok || t.Category == "" {
		return "", false
	}
	return t.Category, true
}

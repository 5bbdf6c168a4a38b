// Package usage aggregates per-connection tool usage counters and persists
// them as a JSON snapshot.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/yndnr/toolhost-go/internal/storage/snapshot"
	"github.com/yndnr/toolhost-go/pkg/actor"
	"github.com/yndnr/toolhost-go/pkg/cmap"
)

const (
	// SessionTimeout is the idle gap after which a call starts a new session.
	SessionTimeout = 30 * time.Minute
	// SaveInterval is the period of the background snapshot.
	SaveInterval = 5 * time.Minute
)

// Stats are the counters of one connection.
type Stats struct {
	Categories      map[string]uint64 `json:"categories"`
	TotalToolCalls  uint64            `json:"total_tool_calls"`
	SuccessfulCalls uint64            `json:"successful_calls"`
	FailedCalls     uint64            `json:"failed_calls"`
	ToolCounts      map[string]uint64 `json:"tool_counts"`
	FirstUsed       int64             `json:"first_used"`
	LastUsed        int64             `json:"last_used"`
	TotalSessions   uint64            `json:"total_sessions"`
}

// NewStats returns zeroed counters stamped at now.
func NewStats(now time.Time) Stats {
	return Stats{
		Categories:    map[string]uint64{},
		ToolCounts:    map[string]uint64{},
		FirstUsed:     now.Unix(),
		LastUsed:      now.Unix(),
		TotalSessions: 1,
	}
}

// Clone returns a deep copy.
func (s Stats) Clone() Stats {
	out := s
	out.Categories = make(map[string]uint64, len(s.Categories))
	for k, v := range s.Categories {
		out.Categories[k] = v
	}
	out.ToolCounts = make(map[string]uint64, len(s.ToolCounts))
	for k, v := range s.ToolCounts {
		out.ToolCounts[k] = v
	}
	return out
}

// Categorizer maps a tool name to its category.
type Categorizer interface {
	CategoryOf(tool string) (string, bool)
}

// CategorizerFunc adapts a function to Categorizer.
type CategorizerFunc func(tool string) (string, bool)

// CategoryOf calls f.
func (f CategorizerFunc) CategoryOf(tool string) (string, bool) {
	return f(tool)
}

// Config configures a Tracker.
type Config struct {
	Dir          string
	Category     string
	InstanceID   string
	SaveInterval time.Duration
	Categorizer  Categorizer
	Logger       *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// OnSave is called from the writer after each successful snapshot.
	OnSave func()
}

// FilePath returns the snapshot path for a server category and instance.
func FilePath(dir, category, instanceID string) string {
	return filepath.Join(dir, "stats", fmt.Sprintf("stats_%s-%s.json", category, instanceID))
}

type eventKind uint8

const (
	eventSuccess eventKind = iota
	eventFailure
	eventRemove
)

type event struct {
	kind   eventKind
	connID string
	tool   string
}

// Tracker records call outcomes fire-and-forget. A single writer goroutine
// owns all mutations; readers see immutable copies.
type Tracker struct {
	cfg     Config
	path    string
	logger  *slog.Logger
	stats   *cmap.Map[Stats]
	actor   *actor.Actor[event]
	started time.Time
}

// Open loads the previous snapshot, if any, and starts the writer.
func Open(cfg Config) (*Tracker, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("usage: dir is required")
	}
	if cfg.InstanceID == "" {
		return nil, fmt.Errorf("usage: instance id is required")
	}
	if cfg.Category == "" {
		cfg.Category = "default"
	}
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = SaveInterval
	}
	if cfg.Categorizer == nil {
		cfg.Categorizer = CategorizerFunc(func(string) (string, bool) { return "", false })
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OnSave == nil {
		cfg.OnSave = func() {}
	}

	t := &Tracker{
		cfg:     cfg,
		path:    FilePath(cfg.Dir, cfg.Category, cfg.InstanceID),
		logger:  cfg.Logger.With("component", "usage_tracker"),
		stats:   cmap.New[Stats](),
		started: time.Now(),
	}
	t.load()

	t.actor = actor.New[event](writer{t},
		actor.WithFlushInterval(cfg.SaveInterval),
		actor.WithErrorHandler(func(op string, err error) {
			t.logger.Error("usage writer failed", "op", op, "error", err)
		}),
	)
	return t, nil
}

// Path returns the snapshot file path.
func (t *Tracker) Path() string {
	return t.path
}

// Name identifies the tracker as a shutdown hook.
func (t *Tracker) Name() string {
	return "usage-tracker"
}

// Uptime is the time since the tracker was opened.
func (t *Tracker) Uptime() time.Duration {
	return time.Since(t.started)
}

// RecordOutcome queues one call outcome.
func (t *Tracker) RecordOutcome(connID, tool string, success bool) {
	kind := eventFailure
	if success {
		kind = eventSuccess
	}
	t.actor.Send(event{kind: kind, connID: connID, tool: tool})
}

// TrackSuccess records a successful call.
func (t *Tracker) TrackSuccess(connID, tool string) {
	t.RecordOutcome(connID, tool, true)
}

// TrackFailure records a failed call.
func (t *Tracker) TrackFailure(connID, tool string) {
	t.RecordOutcome(connID, tool, false)
}

// RemoveConnection forgets connID.
func (t *Tracker) RemoveConnection(connID string) {
	t.actor.Send(event{kind: eventRemove, connID: connID})
}

// Stats returns a copy of the counters for connID.
func (t *Tracker) Stats(connID string) (Stats, bool) {
	s, ok := t.stats.Get(connID)
	if !ok {
		return Stats{}, false
	}
	return s.Clone(), true
}

// Save asks the writer to snapshot now.
func (t *Tracker) Save() {
	t.actor.FlushNow()
}

// Sync waits until every previously queued outcome is visible to readers.
func (t *Tracker) Sync(ctx context.Context) error {
	return t.actor.Sync(ctx)
}

// Shutdown stops intake and writes the final snapshot.
func (t *Tracker) Shutdown(ctx context.Context) error {
	if err := t.actor.Stop(ctx); err != nil {
		return fmt.Errorf("usage: shutdown: %w", err)
	}
	return nil
}

func (t *Tracker) load() {
	var all map[string]Stats
	found, err := snapshot.ReadJSON(t.path, &all)
	switch {
	case err != nil:
		t.logger.Warn("failed to load usage stats, starting fresh", "path", t.path, "error", err)
		return
	case !found:
		t.logger.Debug("no usage stats on disk, starting fresh", "path", t.path)
		return
	}
	for id, s := range all {
		if s.Categories == nil {
			s.Categories = map[string]uint64{}
		}
		if s.ToolCounts == nil {
			s.ToolCounts = map[string]uint64{}
		}
		t.stats.Set(id, s)
	}
	t.logger.Info("loaded usage stats", "connections", len(all), "path", t.path)
}

func (t *Tracker) apply(old Stats, exists bool, ev event) Stats {
	now := t.cfg.Now()
	var s Stats
	if exists {
		s = old.Clone()
		if now.Unix()-s.LastUsed > int64(SessionTimeout/time.Second) {
			s.TotalSessions++
		}
	} else {
		s = NewStats(now)
	}

	s.TotalToolCalls++
	if ev.kind == eventSuccess {
		s.SuccessfulCalls++
	} else {
		s.FailedCalls++
	}
	s.LastUsed = now.Unix()
	s.ToolCounts[ev.tool]++
	if cat, ok := t.cfg.Categorizer.CategoryOf(ev.tool); ok && cat != "" {
		s.Categories[cat]++
	}
	return s
}

type writer struct {
	t *Tracker
}

func (w writer) Apply(ev event) {
	t := w.t
	switch ev.kind {
	case eventRemove:
		t.stats.Delete(ev.connID)
	default:
		t.stats.Update(ev.connID, func(old Stats, exists bool) Stats {
			return t.apply(old, exists, ev)
		})
	}
}

func (w writer) Flush(context.Context) error {
	t := w.t
	all := t.stats.Snapshot()
	if err := snapshot.WriteJSON(t.path, all); err != nil {
		return err
	}
	t.cfg.OnSave()
	t.logger.Debug("saved usage stats", "connections", len(all), "path", t.path)
	return nil
}

func (w writer) Close(ctx context.Context) error {
	w.t.logger.Info("usage tracker shutting down, saving stats")
	return w.Flush(ctx)
}

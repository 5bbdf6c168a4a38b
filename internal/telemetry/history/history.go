// Package history keeps a per-connection record of tool calls.
//
// Calls are recorded fire-and-forget into a durable actor. The actor keeps
// the most recent MaxEntries records per connection in memory for the
// read path, batches new records, appends them to a JSONL file every
// second, and trims the file to MaxDiskEntries records by atomic rotation.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/yndnr/toolhost-go/internal/storage/jsonl"
	"github.com/yndnr/toolhost-go/pkg/actor"
	"github.com/yndnr/toolhost-go/pkg/cmap"
)

// Retention and timing defaults.
const (
	MaxEntries            = 1000
	MaxDiskEntries        = 5000
	RotationCheckInterval = jsonl.DefaultCheckInterval
	DefaultFlushInterval  = time.Second

	// LegacyConnection holds records loaded from a previous run's log.
	LegacyConnection = "__legacy__"
)

// Record is one tool invocation.
type Record struct {
	Timestamp  string `json:"timestamp"`
	ToolName   string `json:"tool_name"`
	ArgsJSON   string `json:"args_json"`
	OutputJSON string `json:"output_json"`
	DurationMs uint64 `json:"duration_ms"`
}

// Time parses Timestamp.
func (r Record) Time() (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	return t, err == nil
}

// Config configures a Store.
type Config struct {
	Dir            string
	InstanceID     string
	MaxEntries     int
	MaxDiskEntries int
	FlushInterval  time.Duration
	RotationCheck  int
	Logger         *slog.Logger
	// OnFlush is called from the writer after each successful disk append.
	OnFlush func(records int)
}

// DefaultConfig returns the production configuration.
func DefaultConfig(dir, instanceID string) Config {
	return Config{
		Dir:            dir,
		InstanceID:     instanceID,
		MaxEntries:     MaxEntries,
		MaxDiskEntries: MaxDiskEntries,
		FlushInterval:  DefaultFlushInterval,
		RotationCheck:  RotationCheckInterval,
	}
}

func applyDefaults(cfg *Config) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = MaxEntries
	}
	if cfg.MaxDiskEntries <= 0 {
		cfg.MaxDiskEntries = MaxDiskEntries
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.RotationCheck <= 0 {
		cfg.RotationCheck = RotationCheckInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OnFlush == nil {
		cfg.OnFlush = func(int) {}
	}
}

// FileName returns the log file name for an instance.
func FileName(instanceID string) string {
	return fmt.Sprintf("tool-history_%s.jsonl", instanceID)
}

type eventKind uint8

const (
	eventAdd eventKind = iota
	eventRemove
)

type event struct {
	kind   eventKind
	connID string
	record Record
}

type pendingRecord struct {
	connID string
	record Record
}

// Store is the tool-call history of one server instance.
type Store struct {
	cfg     Config
	logger  *slog.Logger
	log     *jsonl.Log
	entries *cmap.Map[[]Record]
	actor   *actor.Actor[event]

	// Owned by the actor goroutine.
	pending []pendingRecord
	rotator *jsonl.Rotator
}

// Open loads any existing log for the instance and starts the writer.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("history: dir is required")
	}
	if cfg.InstanceID == "" {
		return nil, fmt.Errorf("history: instance id is required")
	}
	applyDefaults(&cfg)

	l, err := jsonl.Open(filepath.Join(cfg.Dir, FileName(cfg.InstanceID)))
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	s := &Store{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "tool_history"),
		log:     l,
		entries: cmap.New[[]Record](),
		rotator: jsonl.NewRotator(cfg.RotationCheck),
	}
	s.loadFromDisk()

	s.actor = actor.New[event](writer{s},
		actor.WithFlushInterval(cfg.FlushInterval),
		actor.WithErrorHandler(func(op string, err error) {
			s.logger.Error("tool history writer failed", "op", op, "error", err)
		}),
	)
	return s, nil
}

// Path returns the JSONL log path.
func (s *Store) Path() string {
	return s.log.Path()
}

// Name identifies the store as a shutdown hook.
func (s *Store) Name() string {
	return "tool-history"
}

// RecordCall queues a call record. It never blocks on disk I/O.
func (s *Store) RecordCall(connID, toolName string, args, output any, duration time.Duration) {
	rec := Record{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		ToolName:   toolName,
		ArgsJSON:   encode(args),
		OutputJSON: encode(output),
		DurationMs: uint64(duration.Milliseconds()),
	}
	s.Add(connID, rec)
}

// Add queues a prepared record.
func (s *Store) Add(connID string, rec Record) {
	if !s.actor.Send(event{kind: eventAdd, connID: connID, record: rec}) {
		s.logger.Debug("tool history closed, dropping record", "connection_id", connID, "tool_name", rec.ToolName)
	}
}

// RemoveConnection drops all in-memory and pending state for connID.
func (s *Store) RemoveConnection(connID string) {
	s.actor.Send(event{kind: eventRemove, connID: connID})
}

// Sync waits until every previously queued event is visible to readers.
func (s *Store) Sync(ctx context.Context) error {
	return s.actor.Sync(ctx)
}

// Flush asks the writer to persist pending records now.
func (s *Store) Flush() {
	s.actor.FlushNow()
}

// Shutdown stops intake and performs the final flush.
func (s *Store) Shutdown(ctx context.Context) error {
	if err := s.actor.Stop(ctx); err != nil {
		return fmt.Errorf("history: shutdown: %w", err)
	}
	return nil
}

// Connections returns the ids with in-memory history.
func (s *Store) Connections() []string {
	return s.entries.Keys()
}

// History returns a copy of all in-memory records for connID, oldest first.
func (s *Store) History(connID string) []Record {
	recs, ok := s.entries.Get(connID)
	if !ok {
		return nil
	}
	return append([]Record(nil), recs...)
}

func (s *Store) loadFromDisk() {
	lines, err := s.log.ReadAll()
	if err != nil {
		s.logger.Warn("failed to load tool history", "path", s.log.Path(), "error", err)
		return
	}

	var recs []Record
	for _, line := range lines {
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		recs = append(recs, r)
	}
	if len(recs) > s.cfg.MaxEntries {
		recs = recs[len(recs)-s.cfg.MaxEntries:]
	}
	if len(recs) > 0 {
		s.entries.Set(LegacyConnection, recs)
		s.logger.Debug("loaded tool history", "records", len(recs), "path", s.log.Path())
	}
}

// appendCapped returns a new slice holding the last limit records of
// old+rec. old is never modified, so readers holding it stay consistent.
func appendCapped(old []Record, rec Record, limit int) []Record {
	start := 0
	if len(old)+1 > limit {
		start = len(old) + 1 - limit
	}
	out := make([]Record, 0, len(old)-start+1)
	out = append(out, old[start:]...)
	return append(out, rec)
}

func encode(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case json.RawMessage:
		if len(val) == 0 {
			return "null"
		}
		return string(val)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// writer is the actor handler. Its methods run on the actor goroutine only.
type writer struct {
	s *Store
}

func (w writer) Apply(ev event) {
	s := w.s
	switch ev.kind {
	case eventAdd:
		s.entries.Update(ev.connID, func(old []Record, _ bool) []Record {
			return appendCapped(old, ev.record, s.cfg.MaxEntries)
		})
		s.pending = append(s.pending, pendingRecord{connID: ev.connID, record: ev.record})
	case eventRemove:
		s.entries.Delete(ev.connID)
		kept := s.pending[:0]
		for _, p := range s.pending {
			if p.connID != ev.connID {
				kept = append(kept, p)
			}
		}
		s.pending = kept
	}
}

func (w writer) Flush(context.Context) error {
	s := w.s
	if len(s.pending) == 0 {
		return nil
	}

	lines := make([][]byte, 0, len(s.pending))
	for _, p := range s.pending {
		data, err := json.Marshal(p.record)
		if err != nil {
			continue
		}
		lines = append(lines, data)
	}
	s.pending = nil

	if err := s.log.Append(lines); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	s.cfg.OnFlush(len(lines))

	if s.rotator.Track(len(lines)) {
		kept, dropped, err := s.log.Rotate(s.cfg.MaxDiskEntries)
		if err != nil {
			return fmt.Errorf("history: rotate: %w", err)
		}
		if dropped > 0 {
			s.logger.Info("rotated tool history", "kept", kept, "dropped", dropped)
		}
	}
	return nil
}

func (w writer) Close(ctx context.Context) error {
	return w.Flush(ctx)
}

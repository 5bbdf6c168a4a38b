// Package kv provides a Badger-backed key/value store for tools that need
// state beyond a single call.
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// Common errors
var (
	ErrNotFound = errors.New("kv: key not found")
	ErrClosed   = errors.New("kv: store closed")
	ErrEmptyKey = errors.New("kv: key must not be empty")
)

// Config configures a Store.
type Config struct {
	// Dir holds the database. Ignored when InMemory is set.
	Dir      string
	InMemory bool

	// GCInterval is the value log GC period. Zero disables the loop.
	GCInterval  time.Duration
	GCThreshold float64

	CacheSize        int64
	ValueLogFileSize int64
	SyncWrites       bool

	Logger *slog.Logger
}

// DefaultConfig returns a config for a store under dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		GCInterval:       10 * time.Minute,
		GCThreshold:      0.5,
		CacheSize:        16 << 20,
		ValueLogFileSize: 64 << 20,
	}
}

// Entry is one key/value pair returned by Scan.
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Stats describes the on-disk footprint of the store.
type Stats struct {
	LSMSize      int64     `json:"lsm_size"`
	ValueLogSize int64     `json:"value_log_size"`
	LastGC       time.Time `json:"last_gc,omitzero"`
	GCRuns       uint64    `json:"gc_runs"`
}

// TotalSize is LSM plus value log.
func (s Stats) TotalSize() int64 { return s.LSMSize + s.ValueLogSize }

// Store wraps a Badger database.
type Store struct {
	db     *badger.DB
	cfg    Config
	logger *slog.Logger

	closed    atomic.Bool
	lastGC    atomic.Int64 // unix nanoseconds
	gcRuns    atomic.Uint64
	closeOnce sync.Once
	closeErr  error

	stopCh chan struct{}
	doneCh chan struct{}
}

// Open opens or creates the database and starts the GC loop.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("kv: dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "kv_store")

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger}
	if cfg.CacheSize > 0 {
		opts.BlockCacheSize = cfg.CacheSize
	}
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	opts.SyncWrites = cfg.SyncWrites
	if cfg.GCThreshold <= 0 || cfg.GCThreshold >= 1 {
		cfg.GCThreshold = 0.5
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open db: %w", err)
	}

	s := &Store{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.gcLoop()

	logger.Info("kv store opened",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"gc_interval", cfg.GCInterval)
	return s, nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.check(ctx, key); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores value under key. A positive ttl expires the entry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.check(ctx, key); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.check(ctx, key); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Scan returns up to limit entries whose key starts with prefix, in key
// order. limit <= 0 means no limit.
func (s *Store) Scan(ctx context.Context, prefix string, limit int) ([]Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var out []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			e := Entry{Key: string(item.KeyCopy(nil)), Value: value}
			if exp := item.ExpiresAt(); exp > 0 {
				e.ExpiresAt = time.Unix(int64(exp), 0).UTC()
			}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DropPrefix deletes every key starting with prefix.
func (s *Store) DropPrefix(ctx context.Context, prefix string) error {
	if err := s.check(ctx, prefix); err != nil {
		return err
	}
	if err := s.db.DropPrefix([]byte(prefix)); err != nil {
		return fmt.Errorf("kv: drop prefix: %w", err)
	}
	return nil
}

// GC runs value log garbage collection until nothing is left to rewrite
// and returns the number of rewrites.
func (s *Store) GC(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	start := time.Now()
	rewrites := 0
	for ctx.Err() == nil {
		err := s.db.RunValueLogGC(s.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) || errors.Is(err, badger.ErrGCInMemoryMode) {
				break
			}
			return rewrites, fmt.Errorf("kv: gc: %w", err)
		}
		rewrites++
	}
	s.lastGC.Store(time.Now().UnixNano())
	s.gcRuns.Add(1)
	s.logger.Debug("gc completed", "rewrites", rewrites, "elapsed", time.Since(start))
	return rewrites, nil
}

// Stats reports the store's size and GC history.
func (s *Store) Stats() Stats {
	lsm, vlog := s.db.Size()
	st := Stats{LSMSize: lsm, ValueLogSize: vlog, GCRuns: s.gcRuns.Load()}
	if ns := s.lastGC.Load(); ns > 0 {
		st.LastGC = time.Unix(0, ns).UTC()
	}
	return st
}

// Name identifies the store in shutdown logs.
func (s *Store) Name() string { return "kv-store" }

// Shutdown stops the GC loop and closes the database. Later calls return
// the first result.
func (s *Store) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.closeOnce.Do(func() {
			s.closed.Store(true)
			close(s.stopCh)
			<-s.doneCh
			if err := s.db.Close(); err != nil {
				s.closeErr = fmt.Errorf("kv: close db: %w", err)
				return
			}
			s.logger.Info("kv store closed")
		})
	}()
	select {
	case <-done:
		return s.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) check(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return ctx.Err()
}

func (s *Store) gcLoop() {
	defer close(s.doneCh)
	if s.cfg.GCInterval <= 0 || s.cfg.InMemory {
		<-s.stopCh
		return
	}

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := s.GC(ctx); err != nil {
				s.logger.Error("auto gc failed", "error", err)
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface. Badger's
// info chatter goes to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Package jsonl provides an append-only newline-delimited JSON log with
// size-based rotation by atomic file replacement.
package jsonl

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File permissions.
const (
	DefaultFilePerm = 0600
	DefaultDirPerm  = 0750
)

// TempSuffix is appended to the log path for the rotation temp file.
const TempSuffix = ".tmp"

// Log is an append-only file of one JSON document per line.
// A Log is not safe for concurrent writers; callers serialize through a
// single owner.
type Log struct {
	path string
}

// Open prepares a log at path, creating its directory.
func Open(path string) (*Log, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonl: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("jsonl: create dir: %w", err)
	}
	return &Log{path: path}, nil
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes lines in one pass and syncs the file. Each line must be a
// single JSON document without a trailing newline.
func (l *Log) Append(lines [][]byte) error {
	if len(lines) == 0 {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("jsonl: open: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.Write(line); err != nil {
			f.Close()
			return fmt.Errorf("jsonl: write: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return fmt.Errorf("jsonl: write: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("jsonl: flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("jsonl: sync: %w", err)
	}
	return f.Close()
}

// ReadAll returns every non-empty line. A missing file reads as empty.
func (l *Log) ReadAll() ([][]byte, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("jsonl: read: %w", err)
	}
	return splitLines(data), nil
}

// Count returns the number of records in the log.
func (l *Log) Count() (int, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("jsonl: open: %w", err)
	}
	defer f.Close()

	n := 0
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("jsonl: read: %w", err)
		}
	}
}

// Rotate keeps only the most recent limit records. The visible file is
// replaced by rename, so a crash leaves either the old file or the new one.
func (l *Log) Rotate(limit int) (kept, dropped int, err error) {
	tmp, kept, dropped, err := l.WriteTemp(limit)
	if err != nil || tmp == "" {
		return kept, dropped, err
	}
	if err := l.Commit(tmp); err != nil {
		return 0, 0, err
	}
	return kept, dropped, nil
}

// WriteTemp writes the last limit records to the temp file and syncs it.
// It returns an empty path when the log is within limit.
func (l *Log) WriteTemp(limit int) (tmp string, kept, dropped int, err error) {
	lines, err := l.ReadAll()
	if err != nil {
		return "", 0, 0, err
	}
	if len(lines) <= limit {
		return "", len(lines), 0, nil
	}

	dropped = len(lines) - limit
	lines = lines[dropped:]

	tmp = l.path + TempSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, DefaultFilePerm)
	if err != nil {
		return "", 0, 0, fmt.Errorf("jsonl: create temp: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, line := range lines {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", 0, 0, fmt.Errorf("jsonl: write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", 0, 0, fmt.Errorf("jsonl: sync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", 0, 0, fmt.Errorf("jsonl: close temp: %w", err)
	}
	return tmp, len(lines), dropped, nil
}

// Commit renames tmp over the log and syncs the directory entry.
func (l *Log) Commit(tmp string) error {
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("jsonl: rename: %w", err)
	}
	syncDir(filepath.Dir(l.path))
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		out = append(out, line)
	}
	return out
}

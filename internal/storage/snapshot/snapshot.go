package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	defaultFilePerm = 0600
	defaultDirPerm  = 0750
)

// TempPath returns the temp file used while writing path: "stats.json"
// becomes "stats.json.tmp".
func TempPath(path string) string {
	return path + ".tmp"
}

// WriteJSON pretty-prints v and atomically replaces path with it.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}
	return WriteFile(path, data)
}

// WriteFile atomically replaces path with data.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return fmt.Errorf("snapshot: create dir: %w", err)
	}

	tempPath := TempPath(path)
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, defaultFilePerm)
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("snapshot: close: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}

// ReadJSON decodes path into v. It reports false without error when the
// file does not exist.
func ReadJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("snapshot: read: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("snapshot: decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

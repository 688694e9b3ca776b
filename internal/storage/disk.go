package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

func (e *Engine) keyPath(key string) string {
	return filepath.Join(e.dbRoot, key+".json")
}

// readOnDiskStrict returns key's parsed document, nil for an absent or
// empty file, or a parse error for malformed content — the visibility rule
// for the read() path, which surfaces corruption rather than masking it.
func (e *Engine) readOnDiskStrict(key string) (any, error) {
	data, err := os.ReadFile(e.keyPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("storage: parse %s: %w", key, err)
	}
	return v, nil
}

// readOnDiskForMerge is the write/delete path's before-image lookup: a
// malformed on-disk document is treated as an empty object rather than
// surfaced as an error, per the merge rule that an unreadable target
// behaves like no target at all.
func (e *Engine) readOnDiskForMerge(key string) (any, error) {
	data, err := os.ReadFile(e.keyPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return map[string]any{}, nil
	}
	return v, nil
}

// writeKeyFile atomically replaces key's document: write to a temp file in
// the same directory, fsync, then rename over the target.
func (e *Engine) writeKeyFile(key string, value any) error {
	if err := os.MkdirAll(e.dbRoot, 0o755); err != nil {
		return fmt.Errorf("storage: create db root: %w", err)
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	path := e.keyPath(key)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create temp file for %s: %w", key, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("storage: write temp file for %s: %w", key, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("storage: fsync temp file for %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("storage: close temp file for %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("storage: rename into place for %s: %w", key, err)
	}
	return nil
}

// unlinkKey removes key's document file, tolerating an already-absent file
// so redo and commit-apply stay idempotent.
func (e *Engine) unlinkKey(key string) error {
	err := os.Remove(e.keyPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

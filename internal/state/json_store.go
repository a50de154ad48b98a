package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/TheMichaelB/dvcsync/internal/events"
	"github.com/TheMichaelB/dvcsync/internal/models"
)

// JSONPersister keeps the fingerprint document in a single JSON file.
type JSONPersister struct {
	path   string
	logger *events.Logger
}

// NewJSONPersister creates a persister for the document at path.
func NewJSONPersister(path string, logger *events.Logger) *JSONPersister {
	return &JSONPersister{
		path:   path,
		logger: logger.WithField("component", "json_state_store"),
	}
}

// Path returns the document path.
func (p *JSONPersister) Path() string {
	return p.path
}

// Load reads the document. Duplicate identity keys are rejected.
func (p *JSONPersister) Load() (map[string]Entry, error) {
	p.logger.WithField("path", p.path).Debug("Loading state")

	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", models.ErrStateNotFound, p.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	return decodeEntries(data)
}

// Save writes the document atomically.
func (p *JSONPersister) Save(entries map[string]Entry) error {
	p.logger.WithField("entries", len(entries)).Debug("Saving state")

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, p.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}

	return nil
}

// Close releases resources.
func (p *JSONPersister) Close() error {
	return nil
}

// decodeEntries walks the top-level object token by token so that a key
// appearing twice is reported instead of silently overwritten.
func decodeEntries(data []byte) (map[string]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStateCorrupt, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: expected object", models.ErrStateCorrupt)
	}

	entries := make(map[string]Entry)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrStateCorrupt, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected key", models.ErrStateCorrupt)
		}

		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("%w: entry %s: %v", models.ErrStateCorrupt, key, err)
		}
		if e.MD5 == "" {
			return nil, fmt.Errorf("%w: entry %s has no md5", models.ErrStateCorrupt, key)
		}
		if _, dup := entries[key]; dup {
			return nil, &models.DuplicateStateError{Key: key}
		}
		entries[key] = e
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStateCorrupt, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", models.ErrStateCorrupt)
	}

	return entries, nil
}

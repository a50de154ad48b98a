package state

import (
	"sync"

	"github.com/TheMichaelB/dvcsync/internal/models"
)

// MemoryPersister keeps the document in memory. It is meant for tests.
type MemoryPersister struct {
	mu          sync.Mutex
	entries     map[string]Entry
	initialized bool
	saves       int

	// SaveErr, when set, is returned by Save.
	SaveErr error
}

// NewMemoryPersister creates a persister holding a copy of entries. A nil
// map behaves like a missing document.
func NewMemoryPersister(entries map[string]Entry) *MemoryPersister {
	m := &MemoryPersister{}
	if entries != nil {
		m.entries = copyEntries(entries)
		m.initialized = true
	}
	return m
}

// Load returns a copy of the stored document.
func (m *MemoryPersister) Load() (map[string]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, models.ErrStateNotFound
	}
	return copyEntries(m.entries), nil
}

// Save stores a copy of entries.
func (m *MemoryPersister) Save(entries map[string]Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.entries = copyEntries(entries)
	m.initialized = true
	m.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Close releases resources.
func (m *MemoryPersister) Close() error {
	return nil
}

func copyEntries(in map[string]Entry) map[string]Entry {
	out := make(map[string]Entry, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

package remote

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/TheMichaelB/dvcsync/internal/content"
	"github.com/TheMichaelB/dvcsync/internal/models"
)

// MemoryBackend keeps objects in memory and counts calls. It is meant for
// tests of code that drives a Backend.
type MemoryBackend struct {
	settings Settings

	mu      sync.Mutex
	objects map[string][]byte
	calls   map[string]int

	// SanityErr is returned by SanityCheck when set.
	SanityErr error

	// FailKeys makes transfers of the listed keys fail with the mapped error.
	FailKeys map[string]error
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(settings Settings) *MemoryBackend {
	return &MemoryBackend{
		settings: settings,
		objects:  make(map[string][]byte),
		calls:    make(map[string]int),
		FailKeys: make(map[string]error),
	}
}

// Name returns "memory".
func (m *MemoryBackend) Name() string { return "memory" }

// SanityCheck resolves the storage path.
func (m *MemoryBackend) SanityCheck(ctx context.Context) error {
	m.count("sanity")
	if m.SanityErr != nil {
		return m.SanityErr
	}
	_, err := m.settings.StoragePath()
	return err
}

// GetKey reports whether an object exists for cachePath.
func (m *MemoryBackend) GetKey(ctx context.Context, cachePath string) (string, bool, error) {
	m.count("get_key")
	key, err := m.settings.CacheFileKey(cachePath)
	if err != nil {
		return "", false, err
	}

	m.mu.Lock()
	_, ok := m.objects[key]
	m.mu.Unlock()
	return key, ok, nil
}

// NewKey derives the upload key for cachePath.
func (m *MemoryBackend) NewKey(cachePath string) (string, error) {
	return m.settings.CacheFileKey(cachePath)
}

// CompareChecksum compares md5 digests.
func (m *MemoryBackend) CompareChecksum(ctx context.Context, key, localPath string) (bool, error) {
	m.count("compare")

	m.mu.Lock()
	data, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%s: %w", key, models.ErrObjectNotFound)
	}

	local, err := content.MD5File(localPath)
	if err != nil {
		return false, err
	}
	return content.MD5Bytes(data) == local, nil
}

// PullObject writes the object to dest.
func (m *MemoryBackend) PullObject(ctx context.Context, key, dest string, showProgress bool) error {
	m.count("pull")
	if err := m.FailKeys[key]; err != nil {
		return err
	}

	m.mu.Lock()
	data, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", key, models.ErrObjectNotFound)
	}

	return os.WriteFile(dest, data, 0644)
}

// PushObject stores the bytes of localPath under key.
func (m *MemoryBackend) PushObject(ctx context.Context, key, localPath string) ([]string, error) {
	m.count("push")
	if err := m.FailKeys[key]; err != nil {
		return nil, err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return []string{key}, nil
}

// Put stores an object directly.
func (m *MemoryBackend) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
}

// Object returns a stored object.
func (m *MemoryBackend) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

// Len returns the number of stored objects.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Calls returns how often op ran. Ops are "sanity", "get_key",
// "compare", "pull" and "push".
func (m *MemoryBackend) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MemoryBackend) count(op string) {
	m.mu.Lock()
	m.calls[op]++
	m.mu.Unlock()
}

var _ Backend = (*MemoryBackend)(nil)

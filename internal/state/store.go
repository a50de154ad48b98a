package state

import (
	"fmt"
	"os"
	"sync"

	"github.com/TheMichaelB/dvcsync/internal/content"
	"github.com/TheMichaelB/dvcsync/internal/events"
	"github.com/TheMichaelB/dvcsync/internal/models"
)

// Entry is one fingerprint: the hash of an object as of a modification time.
type Entry struct {
	MTime int64  `json:"mtime"`
	MD5   string `json:"md5"`
}

// Persister loads and saves the whole fingerprint document.
type Persister interface {
	// Load returns every entry keyed by identity.
	Load() (map[string]Entry, error)

	// Save replaces the persisted document with entries.
	Save(entries map[string]Entry) error

	// Close releases resources.
	Close() error
}

// Init writes an empty fingerprint document.
func Init(p Persister) error {
	return p.Save(map[string]Entry{})
}

// Migrate copies every entry from src into dst.
func Migrate(src, dst Persister) error {
	entries, err := src.Load()
	if err != nil {
		return fmt.Errorf("load source: %w", err)
	}
	if err := dst.Save(entries); err != nil {
		return fmt.Errorf("save target: %w", err)
	}
	return nil
}

// Option configures a Store.
type Option func(*Store)

// WithFileHasher replaces the digest function used for plain files.
func WithFileHasher(fn func(path string) (string, error)) Option {
	return func(s *Store) {
		s.fileHasher = fn
	}
}

// Store caches content hashes keyed by file identity, trusting an entry
// only while the object's modification time is unchanged.
type Store struct {
	persister  Persister
	logger     *events.Logger
	fileHasher func(string) (string, error)

	mu      sync.Mutex
	entries map[string]Entry
	dirty   bool

	persistMu sync.Mutex
}

// Open loads the persisted document. A missing or corrupt document is an
// error; call Init first to create an empty one.
func Open(p Persister, logger *events.Logger, opts ...Option) (*Store, error) {
	entries, err := p.Load()
	if err != nil {
		return nil, err
	}

	s := &Store{
		persister:  p,
		logger:     logger.WithField("component", "fingerprint_store"),
		fileHasher: content.MD5File,
		entries:    entries,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger.WithField("entries", len(entries)).Debug("Loaded fingerprints")
	return s, nil
}

// ComputeHash hashes path from its current contents. Directory members
// are looked up through the fingerprint cache without persisting.
func (s *Store) ComputeHash(path string) (models.Hash, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.Hash{}, err
	}

	if !info.IsDir() {
		digest, err := s.fileHasher(path)
		if err != nil {
			return models.Hash{}, err
		}
		return models.FileHash(digest), nil
	}

	m, err := s.Manifest(path)
	if err != nil {
		return models.Hash{}, err
	}
	return m.Hash()
}

// Manifest builds the manifest of dir using cached member fingerprints.
func (s *Store) Manifest(dir string) (content.Manifest, error) {
	return content.BuildManifest(dir, func(p string) (models.Hash, error) {
		return s.Update(p, false)
	})
}

// Get returns the cached hash of path if its fingerprint is still valid.
func (s *Store) Get(path string) (models.Hash, bool, error) {
	key, mtime, err := fingerprint(path)
	if err != nil {
		return models.Hash{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lookup(key, mtime)
}

// Update returns the hash of path, computing and recording it on a miss.
// With persist set the whole document is written back after a miss.
func (s *Store) Update(path string, persist bool) (models.Hash, error) {
	key, mtime, err := fingerprint(path)
	if err != nil {
		return models.Hash{}, err
	}

	s.mu.Lock()
	h, ok, err := s.lookup(key, mtime)
	s.mu.Unlock()
	if err != nil {
		return models.Hash{}, err
	}
	if ok {
		return h, nil
	}

	h, err = s.ComputeHash(path)
	if err != nil {
		return models.Hash{}, err
	}

	s.mu.Lock()
	s.entries[key] = Entry{MTime: mtime, MD5: h.String()}
	s.dirty = true
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"path": path,
		"md5":  h.String(),
	}).Debug("Computed fingerprint")

	if persist {
		if err := s.Flush(); err != nil {
			return models.Hash{}, err
		}
	}

	return h, nil
}

// Changed reports whether path no longer hashes to expected.
func (s *Store) Changed(path string, expected models.Hash) (bool, error) {
	h, err := s.Update(path, true)
	if err != nil {
		return false, err
	}
	return h != expected, nil
}

// MD5 returns the digest of a plain cache file through the fingerprint
// cache. A manifest file yields the digest of its directory hash.
func (s *Store) MD5(path string) (string, error) {
	h, err := s.Update(path, false)
	if err != nil {
		return "", err
	}
	return h.Digest(), nil
}

// Flush writes the document if anything changed since the last write.
func (s *Store) Flush() error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		snapshot[k] = v
	}
	s.dirty = false
	s.mu.Unlock()

	if err := s.persister.Save(snapshot); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("persist fingerprints: %w", err)
	}

	return nil
}

// Len returns the number of entries held in memory.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close flushes pending entries and closes the persister.
func (s *Store) Close() error {
	flushErr := s.Flush()
	if err := s.persister.Close(); err != nil {
		return err
	}
	return flushErr
}

func (s *Store) lookup(key string, mtime int64) (models.Hash, bool, error) {
	e, ok := s.entries[key]
	if !ok || e.MTime != mtime {
		return models.Hash{}, false, nil
	}

	h, err := models.ParseHash(e.MD5)
	if err != nil {
		return models.Hash{}, false, fmt.Errorf("%w: entry %s: %v", models.ErrStateCorrupt, key, err)
	}
	return h, true, nil
}

func fingerprint(path string) (string, int64, error) {
	key, err := identity(path)
	if err != nil {
		return "", 0, err
	}
	mtime, err := content.LatestModTime(path)
	if err != nil {
		return "", 0, err
	}
	return key, mtime, nil
}

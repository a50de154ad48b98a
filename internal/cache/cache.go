// Package cache implements the local content-addressed object cache.
//
// Objects live at <dir>/<first two hex chars>/<remaining chars>, with the
// directory marker kept on manifest objects.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/TheMichaelB/dvcsync/internal/content"
	"github.com/TheMichaelB/dvcsync/internal/events"
	"github.com/TheMichaelB/dvcsync/internal/models"
	"github.com/TheMichaelB/dvcsync/internal/storage"
)

// Fingerprinter supplies content hashes for working-tree paths.
type Fingerprinter interface {
	Update(path string, persist bool) (models.Hash, error)
	Manifest(dir string) (content.Manifest, error)
	Changed(path string, expected models.Hash) (bool, error)
}

// Cache is the local object cache.
type Cache struct {
	store  *storage.LocalStore
	fp     Fingerprinter
	logger *events.Logger
}

// New opens the cache rooted at dir, creating it if needed.
func New(dir string, fp Fingerprinter, logger *events.Logger) (*Cache, error) {
	store, err := storage.NewLocalStore(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	store.SetConflictStrategy(storage.ConflictSkip)

	return &Cache{
		store:  store,
		fp:     fp,
		logger: logger.WithField("component", "cache"),
	}, nil
}

// Dir returns the absolute cache root.
func (c *Cache) Dir() string {
	return c.store.Root()
}

// Path maps a hash to its object path.
func (c *Cache) Path(h models.Hash) string {
	return filepath.Join(c.Dir(), filepath.FromSlash(relPath(h)))
}

// HashOf recovers the hash addressed by an object path.
func (c *Cache) HashOf(path string) (models.Hash, error) {
	rel, err := filepath.Rel(c.Dir(), path)
	if err != nil {
		return models.Hash{}, err
	}
	rel = filepath.ToSlash(rel)

	prefix, rest, ok := strings.Cut(rel, "/")
	if !ok || len(prefix) != 2 || strings.Contains(rest, "/") {
		return models.Hash{}, fmt.Errorf("%s is not a cache object path", path)
	}
	return models.ParseHash(prefix + rest)
}

// IsDirCache reports whether path names a directory manifest object.
func IsDirCache(path string) bool {
	return strings.HasSuffix(path, models.DirSuffix)
}

// Exists reports whether the object for h is present.
func (c *Cache) Exists(h models.Hash) (bool, error) {
	return c.store.Exists(relPath(h))
}

// ReadManifest loads the manifest object at path.
func (c *Cache) ReadManifest(path string) (content.Manifest, error) {
	return content.ReadManifest(path)
}

// All returns every object path in the cache, sorted.
func (c *Cache) All() ([]string, error) {
	var paths []string

	err := filepath.WalkDir(c.Dir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, err := c.HashOf(path); err != nil {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk cache: %w", err)
	}

	sort.Strings(paths)
	return paths, nil
}

// Resolve turns a CLI target into an object path. The target may be an
// object path, a working-tree path, or a serialized hash. A path that
// exists on disk wins over a hash of the same spelling.
func (c *Cache) Resolve(target string) (string, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}

	if _, statErr := os.Lstat(abs); errors.Is(statErr, os.ErrNotExist) {
		if h, err := models.ParseHash(target); err == nil {
			return c.Path(h), nil
		}
	}
	if _, err := c.HashOf(abs); err == nil {
		return abs, nil
	}

	h, err := c.fp.Update(abs, true)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", target, err)
	}
	return c.Path(h), nil
}

// Add copies a working-tree file or directory into the cache and returns
// its hash. Members of a directory are stored as their own objects.
func (c *Cache) Add(workPath string) (models.Hash, error) {
	info, err := os.Stat(workPath)
	if err != nil {
		return models.Hash{}, err
	}

	h, err := c.fp.Update(workPath, true)
	if err != nil {
		return models.Hash{}, fmt.Errorf("hash %s: %w", workPath, err)
	}

	logger := c.logger.WithFields(map[string]interface{}{
		"path": workPath,
		"md5":  h.String(),
	})

	if !info.IsDir() {
		if _, err := c.store.PutFile(relPath(h), workPath, objectOptions(h)); err != nil {
			return models.Hash{}, fmt.Errorf("store %s: %w", workPath, err)
		}
		logger.Debug("Added file to cache")
		return h, nil
	}

	m, err := c.fp.Manifest(workPath)
	if err != nil {
		return models.Hash{}, err
	}

	for rel, member := range m {
		src := filepath.Join(workPath, filepath.FromSlash(rel))
		if _, err := c.store.PutFile(relPath(member), src, objectOptions(member)); err != nil {
			return models.Hash{}, fmt.Errorf("store %s: %w", src, err)
		}
	}

	data, err := m.Bytes()
	if err != nil {
		return models.Hash{}, err
	}
	if _, err := c.store.PutBytes(relPath(h), data, objectOptions(h)); err != nil {
		return models.Hash{}, fmt.Errorf("store manifest: %w", err)
	}

	logger.WithField("members", len(m)).Debug("Added directory to cache")
	return h, nil
}

// objectOptions makes the store reject content that changed after hashing.
func objectOptions(h models.Hash) storage.PutOptions {
	return storage.PutOptions{Mode: 0444, ExpectMD5: h.Digest()}
}

// Changed reports whether workPath no longer matches h.
func (c *Cache) Changed(workPath string, h models.Hash) (bool, error) {
	changed, err := c.fp.Changed(workPath, h)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	return changed, err
}

func relPath(h models.Hash) string {
	s := h.String()
	return s[:2] + "/" + s[2:]
}

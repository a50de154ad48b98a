package content

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/TheMichaelB/dvcsync/internal/models"
)

// ManifestEntry is one member of a directory manifest.
type ManifestEntry struct {
	MD5     string `json:"md5"`
	RelPath string `json:"relpath"`
}

// Manifest maps slash-separated relative paths to member hashes.
type Manifest map[string]models.Hash

// Entries returns the manifest records sorted by relative path.
func (m Manifest) Entries() []ManifestEntry {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	entries := make([]ManifestEntry, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, ManifestEntry{MD5: m[p].String(), RelPath: p})
	}
	return entries
}

// Bytes returns the canonical encoding of the manifest. It is the exact
// content stored for a directory cache object.
func (m Manifest) Bytes() ([]byte, error) {
	data, err := json.Marshal(m.Entries())
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}

// Hash returns the directory hash: the md5 of the canonical encoding,
// tagged as a directory.
func (m Manifest) Hash() (models.Hash, error) {
	data, err := m.Bytes()
	if err != nil {
		return models.Hash{}, err
	}
	return models.DirHash(MD5Bytes(data)), nil
}

// BuildManifest walks dir and hashes every regular file with hashFn.
// Symlinked directories are not followed.
func BuildManifest(dir string, hashFn HashFunc) (Manifest, error) {
	m := make(Manifest)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			if info.IsDir() {
				return nil
			}
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		h, err := hashFn(path)
		if err != nil {
			return err
		}
		m[filepath.ToSlash(rel)] = h
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("build manifest for %s: %w", dir, err)
	}

	return m, nil
}

// ReadManifest loads a manifest document from disk.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// ParseManifest decodes a manifest document.
func ParseManifest(data []byte) (Manifest, error) {
	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	m := make(Manifest, len(entries))
	for _, e := range entries {
		h, err := models.ParseHash(e.MD5)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %s: %w", e.RelPath, err)
		}
		if _, dup := m[e.RelPath]; dup {
			return nil, fmt.Errorf("manifest entry %s: duplicate path", e.RelPath)
		}
		m[e.RelPath] = h
	}
	return m, nil
}

// WriteManifest stores the canonical encoding of m at path.
func WriteManifest(path string, m Manifest) error {
	data, err := m.Bytes()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

package storage

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/TheMichaelB/dvcsync/internal/events"
)

// LocalStore implements ObjectStore on the local file system. Every write
// goes to a temp file in the target directory, is fsynced, hashed and
// then renamed over the key, so readers never see a partial object.
type LocalStore struct {
	root             string
	conflictStrategy ConflictStrategy
	logger           *events.Logger
}

// NewLocalStore creates a store rooted at root, creating the directory.
func NewLocalStore(root string, logger *events.Logger) (*LocalStore, error) {
	absPath, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}

	return &LocalStore{
		root:             absPath,
		conflictStrategy: ConflictOverwrite,
		logger:           logger.WithField("component", "local_store"),
	}, nil
}

// SetConflictStrategy sets the conflict resolution strategy.
func (s *LocalStore) SetConflictStrategy(strategy ConflictStrategy) {
	s.conflictStrategy = strategy
}

// Root returns the absolute root directory.
func (s *LocalStore) Root() string {
	return s.root
}

// PutBytes stores data under key.
func (s *LocalStore) PutBytes(key string, data []byte, opts PutOptions) (PutResult, error) {
	return s.Put(key, bytes.NewReader(data), opts)
}

// PutFile stores a copy of the file at src.
func (s *LocalStore) PutFile(key, src string, opts PutOptions) (PutResult, error) {
	in, err := os.Open(src)
	if err != nil {
		return PutResult{}, fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	return s.Put(key, in, opts)
}

// Put stores the bytes of r under key.
func (s *LocalStore) Put(key string, r io.Reader, opts PutOptions) (PutResult, error) {
	target, err := s.Path(key)
	if err != nil {
		return PutResult{}, err
	}

	if _, err := os.Stat(target); err == nil {
		switch s.conflictStrategy {
		case ConflictSkip:
			return PutResult{Skipped: true}, nil
		case ConflictError:
			return PutResult{}, fmt.Errorf("%w: %s", ErrExists, key)
		}
	}

	mode := opts.Mode
	if mode == 0 {
		mode = 0644
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return PutResult{}, fmt.Errorf("create parent directory: %w", err)
	}

	tempPath := target + ".tmp." + uuid.NewString()
	size, digest, err := writeTemp(tempPath, r)
	if err != nil {
		os.Remove(tempPath)
		return PutResult{}, err
	}

	if opts.ExpectMD5 != "" && !strings.EqualFold(opts.ExpectMD5, digest) {
		os.Remove(tempPath)
		return PutResult{}, fmt.Errorf("%w: %s: expected %s, got %s", ErrChecksumMismatch, key, opts.ExpectMD5, digest)
	}

	// Objects may be read-only, so set the mode after the data is down.
	if err := os.Chmod(tempPath, mode); err != nil {
		os.Remove(tempPath)
		return PutResult{}, fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return PutResult{}, fmt.Errorf("rename temp file: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"key":  key,
		"size": size,
		"md5":  digest,
	}).Debug("Object written")

	return PutResult{Size: size, MD5: digest}, nil
}

func writeTemp(path string, r io.Reader) (int64, string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return 0, "", fmt.Errorf("create temp file: %w", err)
	}
	defer f.Close()

	hasher := md5.New()
	n, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err != nil {
		return 0, "", fmt.Errorf("write object: %w", err)
	}

	if err := f.Sync(); err != nil {
		return 0, "", fmt.Errorf("sync object: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, "", fmt.Errorf("close object: %w", err)
	}

	return n, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Open returns a reader for a stored object.
func (s *LocalStore) Open(key string) (io.ReadCloser, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

// Stat returns object metadata.
func (s *LocalStore) Stat(key string) (ObjectInfo, error) {
	path, err := s.Path(key)
	if err != nil {
		return ObjectInfo{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat object: %w", err)
	}
	if info.IsDir() {
		return ObjectInfo{}, fmt.Errorf("stat object %s: %w", key, os.ErrNotExist)
	}

	return ObjectInfo{
		Key:     key,
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
	}, nil
}

// Exists reports whether key holds a regular file.
func (s *LocalStore) Exists(key string) (bool, error) {
	path, err := s.Path(key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	switch {
	case err == nil:
		return !info.IsDir(), nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

// Path maps key to a file below the root. An absolute path is accepted
// when it already lies below the root.
func (s *LocalStore) Path(key string) (string, error) {
	if key == "" || strings.ContainsRune(key, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	rel := filepath.FromSlash(key)
	if filepath.IsAbs(rel) {
		r, err := filepath.Rel(s.root, rel)
		if err != nil {
			return "", fmt.Errorf("%w: %s is outside %s", ErrInvalidKey, key, s.root)
		}
		rel = r
	}

	rel = filepath.Clean(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes the root", ErrInvalidKey, key)
	}

	return filepath.Join(s.root, rel), nil
}

var _ ObjectStore = (*LocalStore)(nil)

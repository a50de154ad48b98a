// Package local implements a remote that is a directory on a mounted file
// system.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/TheMichaelB/dvcsync/internal/content"
	"github.com/TheMichaelB/dvcsync/internal/events"
	"github.com/TheMichaelB/dvcsync/internal/models"
	"github.com/TheMichaelB/dvcsync/internal/remote"
	"github.com/TheMichaelB/dvcsync/internal/storage"
)

// Name is the backend type in configuration.
const Name = "local"

// Backend stores objects below <bucket>/<key> on the local file system.
type Backend struct {
	settings    remote.Settings
	checksummer remote.Checksummer
	logger      *events.Logger
	progressOut io.Writer

	once     sync.Once
	store    *storage.LocalStore
	storeErr error
}

// New creates a local directory backend.
func New(settings remote.Settings, checksummer remote.Checksummer, logger *events.Logger) *Backend {
	return &Backend{
		settings:    settings,
		checksummer: checksummer,
		logger:      logger.WithField("component", "local_remote"),
		progressOut: os.Stderr,
	}
}

// SetProgressOutput changes where transfer progress is written.
func (b *Backend) SetProgressOutput(w io.Writer) {
	b.progressOut = w
}

// Name returns the backend type.
func (b *Backend) Name() string { return Name }

// Root returns the directory holding the bucket.
func (b *Backend) Root() (string, error) {
	p, err := b.settings.StoragePath()
	if err != nil {
		return "", err
	}
	bucket, err := b.settings.StorageBucket()
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(p, "/") {
		return "/" + bucket, nil
	}
	return bucket, nil
}

// SanityCheck resolves the storage path and creates the bucket directory.
func (b *Backend) SanityCheck(ctx context.Context) error {
	_, err := b.objects()
	return err
}

// GetKey reports whether cachePath has been pushed.
func (b *Backend) GetKey(ctx context.Context, cachePath string) (string, bool, error) {
	key, err := b.settings.CacheFileKey(cachePath)
	if err != nil {
		return "", false, err
	}

	store, err := b.objects()
	if err != nil {
		return "", false, err
	}

	ok, err := store.Exists(key)
	if err != nil {
		return "", false, b.wrap("exists", key, err)
	}
	return key, ok, nil
}

// NewKey derives the key for cachePath.
func (b *Backend) NewKey(cachePath string) (string, error) {
	return b.settings.CacheFileKey(cachePath)
}

// CompareChecksum hashes the remote file and compares it with the local md5.
func (b *Backend) CompareChecksum(ctx context.Context, key, localPath string) (bool, error) {
	store, err := b.objects()
	if err != nil {
		return false, err
	}

	path, err := store.Path(key)
	if err != nil {
		return false, b.wrap("compare", key, err)
	}

	remoteMD5, err := content.MD5File(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, b.wrap("compare", key, models.ErrObjectNotFound)
	}
	if err != nil {
		return false, b.wrap("compare", key, err)
	}

	localMD5, err := b.checksummer.MD5(localPath)
	if err != nil {
		return false, err
	}

	return remoteMD5 == localMD5, nil
}

// PullObject copies the remote file into dest.
func (b *Backend) PullObject(ctx context.Context, key, dest string, showProgress bool) error {
	store, err := b.objects()
	if err != nil {
		return err
	}

	info, err := store.Stat(key)
	if errors.Is(err, os.ErrNotExist) {
		return b.wrap("pull", key, models.ErrObjectNotFound)
	}
	if err != nil {
		return b.wrap("pull", key, err)
	}

	src, err := store.Open(key)
	if err != nil {
		return b.wrap("pull", key, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()

	var r io.Reader = src
	var progress *remote.Progress
	if showProgress {
		progress = remote.NewProgress(b.progressOut, key, info.Size)
		r = progress.Reader(src)
	}

	if _, err := io.Copy(out, r); err != nil {
		return b.wrap("pull", key, err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dest, err)
	}
	if progress != nil {
		progress.Finish()
	}

	return nil
}

// PushObject copies localPath into the remote directory.
func (b *Backend) PushObject(ctx context.Context, key, localPath string) ([]string, error) {
	store, err := b.objects()
	if err != nil {
		return nil, err
	}

	res, err := store.PutFile(key, localPath, storage.PutOptions{Mode: 0644})
	if err != nil {
		return nil, b.wrap("push", key, err)
	}

	b.logger.WithFields(map[string]interface{}{
		"key":  key,
		"size": res.Size,
		"md5":  res.MD5,
	}).Debug("Pushed object")

	return []string{key}, nil
}

func (b *Backend) objects() (*storage.LocalStore, error) {
	b.once.Do(func() {
		root, err := b.Root()
		if err != nil {
			b.storeErr = err
			return
		}
		store, err := storage.NewLocalStore(filepath.FromSlash(root), b.logger)
		if err != nil {
			b.storeErr = b.wrap("open", root, err)
			return
		}
		b.store = store
	})
	return b.store, b.storeErr
}

func (b *Backend) wrap(op, key string, err error) error {
	return &models.TransportError{Backend: Name, Op: op, Key: key, Err: err}
}

var _ remote.Backend = (*Backend)(nil)

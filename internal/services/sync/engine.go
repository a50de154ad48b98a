package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheMichaelB/dvcsync/internal/cache"
	"github.com/TheMichaelB/dvcsync/internal/content"
	"github.com/TheMichaelB/dvcsync/internal/events"
	"github.com/TheMichaelB/dvcsync/internal/models"
	"github.com/TheMichaelB/dvcsync/internal/remote"
)

// PartSuffix marks a download that has not completed.
const PartSuffix = ".part"

// Op selects what a batch does with each object.
type Op string

const (
	OpPush   Op = "push"
	OpPull   Op = "pull"
	OpStatus Op = "status"
)

// Engine reconciles local cache objects with a remote backend.
type Engine struct {
	backend remote.Backend
	cache   *cache.Cache
	logger  *events.Logger

	// Configuration
	jobs         int
	showProgress bool

	// Progress tracking
	progress   atomic.Value // *Progress
	progressMu sync.Mutex

	// Sync state
	mu      sync.Mutex
	syncing bool
}

// Progress is a snapshot of a running batch.
type Progress struct {
	Op          Op
	Phase       string
	TotalFiles  int
	Processed   int
	Transferred int
	Failed      int
	CurrentFile string
	Bytes       int64
	StartTime   time.Time
}

// SyncConfig contains sync configuration.
type SyncConfig struct {
	// Jobs bounds the worker pool. Zero selects DefaultJobs.
	Jobs int

	// ShowProgress enables per-transfer progress output.
	ShowProgress bool
}

// DefaultJobs is the pool size used when none is configured. Transfers
// are I/O bound, so the pool is wider than the CPU count.
func DefaultJobs() int {
	return 8 * runtime.NumCPU()
}

// NewEngine creates a sync engine.
func NewEngine(backend remote.Backend, c *cache.Cache, config *SyncConfig, logger *events.Logger) *Engine {
	jobs := config.Jobs
	if jobs <= 0 {
		jobs = DefaultJobs()
	}

	return &Engine{
		backend:      backend,
		cache:        c,
		logger:       logger.WithField("component", "sync_engine"),
		jobs:         jobs,
		showProgress: config.ShowProgress,
	}
}

// Jobs returns the worker pool size.
func (e *Engine) Jobs() int {
	return e.jobs
}

// GetProgress returns the current progress, or nil before the first batch.
func (e *Engine) GetProgress() *Progress {
	if p := e.progress.Load(); p != nil {
		return p.(*Progress)
	}
	return nil
}

// Status compares one cache object with the remote.
func (e *Engine) Status(ctx context.Context, path string) (models.SyncStatus, error) {
	key, ok, err := e.backend.GetKey(ctx, path)
	if err != nil {
		return models.StatusUnknown, err
	}
	if !ok {
		return models.StatusNew, nil
	}

	localExists := fileExists(path)

	equal := false
	if localExists {
		equal, err = e.backend.CompareChecksum(ctx, key, path)
		if err != nil {
			return models.StatusUnknown, err
		}
	}

	return models.StatusFor(localExists, true, equal), nil
}

// Push uploads one cache object unless the remote already holds the same
// content. It returns the keys actually written.
func (e *Engine) Push(ctx context.Context, path string) ([]string, error) {
	logger := e.logger.WithField("path", path)

	key, ok, err := e.backend.GetKey(ctx, path)
	if err != nil {
		return nil, err
	}
	if ok {
		logger.Debug("Already uploaded, validating checksum")
		equal, err := e.backend.CompareChecksum(ctx, key, path)
		if err != nil {
			return nil, err
		}
		if equal {
			logger.Debug("Checksum matches, no upload needed")
			return []string{}, nil
		}
		logger.Debug("Checksum mismatch, uploading again")
	}

	key, err = e.backend.NewKey(path)
	if err != nil {
		return nil, err
	}
	return e.backend.PushObject(ctx, key, path)
}

// Pull downloads one cache object. A missing remote object is logged and
// reported as ok=false with a nil error. The object is written to a
// ".part" file and renamed into place only once complete.
func (e *Engine) Pull(ctx context.Context, path string) (key string, ok bool, err error) {
	key, ok, err = e.backend.GetKey(ctx, path)
	if err != nil {
		return "", false, err
	}
	if !ok {
		e.logger.WithField("path", path).Error("Object does not exist in the cloud")
		return "", false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", false, fmt.Errorf("create cache directory: %w", err)
	}

	tmp := path + PartSuffix
	if err := e.backend.PullObject(ctx, key, tmp, e.showProgress); err != nil {
		_ = os.Remove(tmp)
		if models.IsNotFound(err) {
			e.logger.WithField("path", path).Error("Object disappeared from the cloud")
			return "", false, nil
		}
		return "", false, err
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", false, fmt.Errorf("rename %s: %w", tmp, err)
	}

	return key, true, nil
}

// Collect expands a cache object into the concrete objects a transfer
// must cover. A file object expands to itself. A directory object expands
// to itself followed by every manifest member. With localOnly the
// manifest is read from the cache, otherwise it is fetched from the
// remote. A manifest that cannot be found on the chosen side leaves just
// the object itself.
func (e *Engine) Collect(ctx context.Context, path string, localOnly bool) ([]string, error) {
	ret := []string{path}
	if !cache.IsDirCache(path) {
		return ret, nil
	}

	var m content.Manifest
	if localOnly {
		if !fileExists(path) {
			return ret, nil
		}
		var err error
		if m, err = e.cache.ReadManifest(path); err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", path, err)
		}
	} else {
		var ok bool
		var err error
		if m, ok, err = e.remoteManifest(ctx, path); err != nil || !ok {
			return ret, err
		}
	}

	for _, entry := range m.Entries() {
		h, err := models.ParseHash(entry.MD5)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
		ret = append(ret, e.cache.Path(h))
	}

	return ret, nil
}

func (e *Engine) remoteManifest(ctx context.Context, path string) (content.Manifest, bool, error) {
	key, ok, err := e.backend.GetKey(ctx, path)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		e.logger.WithField("path", path).Debug("Manifest does not exist in the cloud")
		return nil, false, nil
	}

	dir, err := os.MkdirTemp("", "dvcsync-manifest-")
	if err != nil {
		return nil, false, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	tmp := filepath.Join(dir, filepath.Base(path))
	if err := e.backend.PullObject(ctx, key, tmp, false); err != nil {
		if models.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	m, err := content.ReadManifest(tmp)
	if err != nil {
		return nil, false, fmt.Errorf("read remote manifest %s: %w", key, err)
	}
	return m, true, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheMichaelB/dvcsync/internal/cache"
	"github.com/TheMichaelB/dvcsync/internal/config"
	"github.com/TheMichaelB/dvcsync/internal/events"
	"github.com/TheMichaelB/dvcsync/internal/models"
	"github.com/TheMichaelB/dvcsync/internal/remote"
	"github.com/TheMichaelB/dvcsync/internal/remote/backends"
	"github.com/TheMichaelB/dvcsync/internal/services/sync"
	"github.com/TheMichaelB/dvcsync/internal/state"
)

// Client provides the high-level API for dvcsync operations.
type Client struct {
	Sync  *sync.Service
	Cache *cache.Cache
	State *state.Store

	config *config.Config
	logger *events.Logger
	lock   *state.Lock
}

// Options tune a client beyond the loaded configuration.
type Options struct {
	// Jobs overrides core.jobs when positive.
	Jobs int

	// ShowProgress enables transfer progress output.
	ShowProgress bool
}

// New creates a client. The fingerprint state must already exist; Init
// creates it.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *events.Logger) (*Client, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	lock, err := state.AcquireLock(cfg.StatePath())
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		lock.Release()
		return nil, err
	}

	objects, err := cache.New(cfg.CachePath(), store, logger)
	if err != nil {
		store.Close()
		lock.Release()
		return nil, err
	}

	backend, err := backends.New(ctx, cfg.Cloud.Type, CloudSettings(cfg), store, logger)
	if err != nil {
		if !models.IsConfigError(err) {
			store.Close()
			lock.Release()
			return nil, err
		}
		// Local commands work without a remote. Remote ones fail on the
		// sanity check.
		backend = &unconfigured{err: err}
	}

	jobs := cfg.Core.Jobs
	if opts.Jobs > 0 {
		jobs = opts.Jobs
	}

	syncService := sync.NewService(backend, objects, &sync.SyncConfig{
		Jobs:         jobs,
		ShowProgress: opts.ShowProgress,
	}, logger)

	return &Client{
		Sync:   syncService,
		Cache:  objects,
		State:  store,
		config: cfg,
		logger: logger,
		lock:   lock,
	}, nil
}

// Close flushes the fingerprint state and releases the state lock.
func (c *Client) Close() error {
	err := c.State.Close()
	if rerr := c.lock.Release(); err == nil {
		err = rerr
	}
	return err
}

// CloudSettings projects the configuration onto the remote resolver.
func CloudSettings(cfg *config.Config) remote.Settings {
	return remote.Settings{
		Backend:           cfg.BackendSettings(),
		GlobalStoragePath: cfg.Cloud.StoragePath,
		CacheDir:          cfg.CachePath(),
	}
}

// Init creates the cache directory and an empty fingerprint document. It
// reports false when the document already exists.
func Init(cfg *config.Config, logger *events.Logger) (bool, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return false, err
	}

	lock, err := state.AcquireLock(cfg.StatePath())
	if err != nil {
		return false, err
	}
	defer lock.Release()

	p, err := newPersister(cfg.Core.StateBackend, cfg.StatePath(), logger)
	if err != nil {
		return false, err
	}
	defer p.Close()

	_, err = p.Load()
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, models.ErrStateNotFound):
		return false, err
	}

	if err := state.Init(p); err != nil {
		return false, fmt.Errorf("initialize state: %w", err)
	}

	logger.WithField("path", cfg.StatePath()).Info("Initialized fingerprint state")
	return true, nil
}

// MigrateState copies the fingerprint document into another persistence
// backend and returns the new location. The configuration still has to
// be pointed at it.
func MigrateState(cfg *config.Config, to string, logger *events.Logger) (string, error) {
	if to == cfg.Core.StateBackend {
		return "", &models.ConfigError{Key: "core.state_backend", Reason: fmt.Sprintf("already %s", to)}
	}

	lock, err := state.AcquireLock(cfg.StatePath())
	if err != nil {
		return "", err
	}
	defer lock.Release()

	src, err := newPersister(cfg.Core.StateBackend, cfg.StatePath(), logger)
	if err != nil {
		return "", err
	}
	defer src.Close()

	target := cfg.StatePath() + "." + to
	dst, err := newPersister(to, target, logger)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if err := state.Migrate(src, dst); err != nil {
		return "", err
	}
	return target, nil
}

func openStore(cfg *config.Config, logger *events.Logger) (*state.Store, error) {
	p, err := newPersister(cfg.Core.StateBackend, cfg.StatePath(), logger)
	if err != nil {
		return nil, err
	}

	store, err := state.Open(p, logger)
	if err != nil {
		p.Close()
		if errors.Is(err, models.ErrStateNotFound) {
			return nil, fmt.Errorf("%w (run `dvcsync init` first)", err)
		}
		return nil, err
	}
	return store, nil
}

func newPersister(kind, path string, logger *events.Logger) (state.Persister, error) {
	switch kind {
	case "", "json":
		return state.NewJSONPersister(path, logger), nil
	case "sqlite":
		return state.NewSQLitePersister(path, logger)
	default:
		return nil, &models.ConfigError{Key: "core.state_backend", Reason: fmt.Sprintf("unsupported backend %q", kind)}
	}
}

// unconfigured stands in for a remote when none is set up.
type unconfigured struct {
	err error
}

func (u *unconfigured) Name() string { return "none" }

func (u *unconfigured) SanityCheck(ctx context.Context) error { return u.err }

func (u *unconfigured) GetKey(ctx context.Context, cachePath string) (string, bool, error) {
	return "", false, u.err
}

func (u *unconfigured) NewKey(cachePath string) (string, error) { return "", u.err }

func (u *unconfigured) CompareChecksum(ctx context.Context, key, localPath string) (bool, error) {
	return false, u.err
}

func (u *unconfigured) PullObject(ctx context.Context, key, dest string, showProgress bool) error {
	return u.err
}

func (u *unconfigured) PushObject(ctx context.Context, key, localPath string) ([]string, error) {
	return nil, u.err
}

var _ remote.Backend = (*unconfigured)(nil)

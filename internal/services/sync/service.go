package sync

import (
	"context"
	"fmt"

	"github.com/TheMichaelB/dvcsync/internal/cache"
	"github.com/TheMichaelB/dvcsync/internal/events"
	"github.com/TheMichaelB/dvcsync/internal/models"
	"github.com/TheMichaelB/dvcsync/internal/remote"
)

// Service provides high-level sync operations over user supplied targets.
type Service struct {
	cache  *cache.Cache
	engine *Engine
	logger *events.Logger
}

// SyncOptions controls a single command run.
type SyncOptions struct {
	// Cloud makes Status compare against the remote instead of the cache.
	Cloud bool
}

// NewService creates a sync service.
func NewService(backend remote.Backend, c *cache.Cache, config *SyncConfig, logger *events.Logger) *Service {
	return &Service{
		cache:  c,
		engine: NewEngine(backend, c, config, logger),
		logger: logger.WithField("service", "sync"),
	}
}

// Engine returns the underlying engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Push uploads the targets, or every cached object when none are given.
func (s *Service) Push(ctx context.Context, targets []string) (*models.BatchSummary, error) {
	paths, err := s.resolve(targets)
	if err != nil {
		return nil, err
	}
	return s.engine.PushAll(ctx, paths)
}

// Pull downloads the targets into the cache. Targets are required since
// the cache cannot list what it does not hold yet.
func (s *Service) Pull(ctx context.Context, targets []string) (*models.BatchSummary, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("pull: no targets given")
	}
	paths, err := s.resolve(targets)
	if err != nil {
		return nil, err
	}
	return s.engine.PullAll(ctx, paths)
}

// Status reports the state of the targets, or of every cached object.
func (s *Service) Status(ctx context.Context, targets []string, opts SyncOptions) (*models.BatchSummary, error) {
	paths, err := s.resolve(targets)
	if err != nil {
		return nil, err
	}
	if !opts.Cloud {
		return s.engine.LocalStatus(ctx, paths)
	}
	return s.engine.StatusAll(ctx, paths)
}

// Add stores working-tree paths in the cache and returns their hashes.
func (s *Service) Add(paths []string) ([]models.Hash, error) {
	hashes := make([]models.Hash, 0, len(paths))
	for _, p := range paths {
		h, err := s.cache.Add(p)
		if err != nil {
			return hashes, fmt.Errorf("add %s: %w", p, err)
		}
		s.logger.WithFields(map[string]interface{}{
			"path": p,
			"md5":  h.String(),
		}).Info("Added to cache")
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func (s *Service) resolve(targets []string) ([]string, error) {
	if len(targets) == 0 {
		return s.cache.All()
	}

	paths := make([]string, 0, len(targets))
	for _, t := range targets {
		p, err := s.cache.Resolve(t)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

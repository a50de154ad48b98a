package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/TheMichaelB/dvcsync/internal/events"
	"github.com/TheMichaelB/dvcsync/internal/models"
)

// Run performs op on every target and the objects they expand to.
//
// The backend is sanity checked before anything is scheduled and a
// configuration error aborts the batch. Failures of individual objects
// are recorded in the summary and never stop the remaining work. Results
// follow the order of the expanded targets.
func (e *Engine) Run(ctx context.Context, op Op, targets []string) (*models.BatchSummary, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()

	startTime := time.Now()
	logger := events.Annotate(ctx, e.logger.WithField("op", string(op)))

	summary := &models.BatchSummary{
		RunID:   events.RunID(ctx),
		Op:      string(op),
		Results: []models.SyncResult{},
	}

	if err := e.backend.SanityCheck(ctx); err != nil {
		return nil, fmt.Errorf("%s sanity check: %w", e.backend.Name(), err)
	}

	e.setProgress(&Progress{Op: op, Phase: "collecting", TotalFiles: len(targets), StartTime: startTime})

	objects, expandFailures, err := e.expand(ctx, op, targets)
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"targets": len(targets),
		"objects": len(objects),
		"jobs":    e.jobs,
	}).Info("Starting batch")

	e.updateProgress(func(p *Progress) {
		p.Phase = "transferring"
		p.TotalFiles = len(objects)
	})

	results := make([]models.SyncResult, len(objects))
	p := pool.New().WithMaxGoroutines(e.jobs)
	for i, path := range objects {
		if ctx.Err() != nil {
			results[i] = canceledResult(path, ctx.Err())
			continue
		}
		p.Go(func() {
			results[i] = e.process(ctx, op, path)
			e.recordProgress(results[i])
		})
	}
	p.Wait()

	for _, r := range expandFailures {
		summary.Add(r)
	}
	for _, r := range results {
		if r.Failed() {
			logger.WithField("path", r.Path).WithError(r.Err).Error("Object failed")
		}
		summary.Add(r)
	}
	summary.Duration = time.Since(startTime)

	e.updateProgress(func(p *Progress) { p.Phase = "complete" })

	logger.WithFields(map[string]interface{}{
		"total":       summary.Total,
		"transferred": summary.Transferred,
		"failed":      summary.Failed,
		"duration":    summary.Duration.String(),
	}).Info("Batch complete")

	return summary, ctx.Err()
}

// PushAll uploads every target.
func (e *Engine) PushAll(ctx context.Context, targets []string) (*models.BatchSummary, error) {
	return e.Run(ctx, OpPush, targets)
}

// PullAll downloads every target.
func (e *Engine) PullAll(ctx context.Context, targets []string) (*models.BatchSummary, error) {
	return e.Run(ctx, OpPull, targets)
}

// StatusAll compares every target with the remote.
func (e *Engine) StatusAll(ctx context.Context, targets []string) (*models.BatchSummary, error) {
	return e.Run(ctx, OpStatus, targets)
}

// LocalStatus reports, without touching the remote, whether each target
// and its directory members are present in the local cache. Present
// objects are Ok, missing ones Unknown.
func (e *Engine) LocalStatus(ctx context.Context, targets []string) (*models.BatchSummary, error) {
	startTime := time.Now()
	summary := &models.BatchSummary{
		RunID:   events.RunID(ctx),
		Op:      string(OpStatus),
		Results: []models.SyncResult{},
	}

	seen := make(map[string]bool)
	for _, target := range targets {
		paths, err := e.Collect(ctx, target, true)
		if err != nil {
			summary.Add(models.SyncResult{Path: target, Status: models.StatusUnknown, Err: err})
			continue
		}
		for _, path := range paths {
			if seen[path] {
				continue
			}
			seen[path] = true

			status := models.StatusUnknown
			if fileExists(path) {
				status = models.StatusOk
			}
			summary.Add(models.SyncResult{Path: path, Status: status})
		}
	}

	summary.Duration = time.Since(startTime)
	return summary, ctx.Err()
}

// expand turns targets into the deduplicated list of objects to process.
// Targets that cannot be expanded become failed results, except for
// configuration errors which abort the whole batch.
func (e *Engine) expand(ctx context.Context, op Op, targets []string) ([]string, []models.SyncResult, error) {
	type expansion struct {
		paths []string
		err   error
	}

	expanded := make([]expansion, len(targets))
	p := pool.New().WithMaxGoroutines(e.jobs)
	for i, target := range targets {
		if ctx.Err() != nil {
			expanded[i].err = ctx.Err()
			continue
		}
		p.Go(func() {
			expanded[i].paths, expanded[i].err = e.collectFor(ctx, op, target)
		})
	}
	p.Wait()

	var objects []string
	var failures []models.SyncResult
	seen := make(map[string]bool)

	for i, x := range expanded {
		if x.err != nil {
			if models.IsConfigError(x.err) {
				return nil, nil, x.err
			}
			failures = append(failures, models.SyncResult{
				Path:   targets[i],
				Status: models.StatusUnknown,
				Err:    &models.SyncError{Code: models.ErrCodeState, Op: "collect", Path: targets[i], Err: x.err},
			})
			continue
		}
		for _, path := range x.paths {
			if !seen[path] {
				seen[path] = true
				objects = append(objects, path)
			}
		}
	}

	return objects, failures, nil
}

func (e *Engine) collectFor(ctx context.Context, op Op, target string) ([]string, error) {
	switch op {
	case OpPush:
		return e.Collect(ctx, target, true)
	case OpPull:
		return e.Collect(ctx, target, false)
	}

	local, err := e.Collect(ctx, target, true)
	if err != nil {
		return nil, err
	}
	remote, err := e.Collect(ctx, target, false)
	if err != nil {
		return nil, err
	}
	return append(local, remote...), nil
}

func (e *Engine) process(ctx context.Context, op Op, path string) models.SyncResult {
	result := models.SyncResult{Path: path, Status: models.StatusUnknown}
	if err := ctx.Err(); err != nil {
		return canceledResult(path, err)
	}

	switch op {
	case OpPush:
		keys, err := e.Push(ctx, path)
		if err != nil {
			result.Err = &models.SyncError{Code: models.ErrCodeTransport, Op: "push", Path: path, Err: err}
			return result
		}
		result.Status = models.StatusOk
		result.Transferred = keys
		if len(keys) > 0 {
			result.Key = keys[0]
			result.Bytes = fileSize(path)
		}

	case OpPull:
		key, ok, err := e.Pull(ctx, path)
		if err != nil {
			result.Err = &models.SyncError{Code: models.ErrCodeTransport, Op: "pull", Path: path, Err: err}
			return result
		}
		if !ok {
			result.Err = &models.SyncError{Code: models.ErrCodeNotFound, Op: "pull", Path: path, Err: models.ErrObjectNotFound}
			return result
		}
		result.Status = models.StatusOk
		result.Key = key
		result.Transferred = []string{key}
		result.Bytes = fileSize(path)

	case OpStatus:
		status, err := e.Status(ctx, path)
		if err != nil {
			result.Err = &models.SyncError{Code: models.ErrCodeTransport, Op: "status", Path: path, Err: err}
			return result
		}
		result.Status = status

	default:
		result.Err = fmt.Errorf("unknown operation %q", op)
	}

	return result
}

func canceledResult(path string, err error) models.SyncResult {
	return models.SyncResult{Path: path, Status: models.StatusUnknown, Err: err}
}

func (e *Engine) begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncing {
		return models.ErrSyncInProgress
	}
	e.syncing = true
	return nil
}

func (e *Engine) end() {
	e.mu.Lock()
	e.syncing = false
	e.mu.Unlock()
}

func (e *Engine) setProgress(p *Progress) {
	e.progress.Store(p)
}

// updateProgress applies fn to a copy of the current snapshot.
func (e *Engine) updateProgress(fn func(*Progress)) {
	e.progressMu.Lock()
	defer e.progressMu.Unlock()

	var next Progress
	if cur := e.GetProgress(); cur != nil {
		next = *cur
	}
	fn(&next)
	e.progress.Store(&next)
}

func (e *Engine) recordProgress(r models.SyncResult) {
	e.updateProgress(func(p *Progress) {
		p.Processed++
		p.CurrentFile = r.Path
		p.Bytes += r.Bytes
		if r.Failed() {
			p.Failed++
		} else if len(r.Transferred) > 0 {
			p.Transferred++
		}
	})
}

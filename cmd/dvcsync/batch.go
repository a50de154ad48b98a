package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TheMichaelB/dvcsync/internal/client"
	"github.com/TheMichaelB/dvcsync/internal/models"
	"github.com/TheMichaelB/dvcsync/internal/services/sync"
)

// errBatchFailed signals that some objects failed after their errors
// were already reported.
var errBatchFailed = errors.New("one or more objects failed")

type batchFunc func(ctx context.Context, c *client.Client) (*models.BatchSummary, error)

// runBatch opens the project, runs fn with a progress line and prints the
// summary.
func runBatch(jobs int, fn batchFunc) error {
	ctx, cancel := runContext()
	defer cancel()

	c, err := openClient(ctx, jobs)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			logger.WithError(cerr).Error("Failed to close project")
		}
	}()

	stop := showProgress(ctx, c.Sync.Engine())
	summary, err := fn(ctx, c)
	stop()

	if summary != nil {
		printSummary(summary, c.Cache.Dir())
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			printWarning("Interrupted")
		}
		return err
	}
	if summary.HasFailures() {
		return errBatchFailed
	}
	return nil
}

func printSummary(s *models.BatchSummary, cacheDir string) {
	if jsonOutput {
		printJSON(s)
		return
	}

	for _, r := range s.Results {
		name := displayPath(r.Path, cacheDir)
		switch {
		case r.Failed():
			printError("%s: %s", name, r.Error)
		case s.Op == string(sync.OpStatus):
			if !quiet {
				fmt.Printf("  %-10s %s\n", statusLabel(r.Status), name)
			}
		case len(r.Transferred) > 0:
			printInfo("  %s %s", verb(s.Op), name)
		}
	}

	if s.Op == string(sync.OpStatus) {
		printSuccess("%d objects: %d ok, %d new, %d modified, %d deleted, %d unknown",
			s.Total,
			s.CountStatus(models.StatusOk),
			s.CountStatus(models.StatusNew),
			s.CountStatus(models.StatusModified),
			s.CountStatus(models.StatusDeleted),
			s.CountStatus(models.StatusUnknown))
	} else {
		printSuccess("%d objects, %d transferred (%s) in %s",
			s.Total, s.Transferred, formatBytes(s.Bytes), s.Duration.Round(time.Millisecond))
	}

	if s.Failed > 0 {
		printWarning("%d of %d objects failed", s.Failed, s.Total)
	}
}

func verb(op string) string {
	switch op {
	case string(sync.OpPush):
		return "uploaded"
	case string(sync.OpPull):
		return "downloaded"
	}
	return op
}

func displayPath(path, cacheDir string) string {
	if rel, err := filepath.Rel(cacheDir, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

// showProgress redraws a one line counter while a batch runs. The returned
// func stops it.
func showProgress(ctx context.Context, engine *sync.Engine) func() {
	if !interactive() || engine.Jobs() == 1 {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				fmt.Fprint(os.Stderr, "\r\033[K")
				return
			case <-ctx.Done():
				fmt.Fprint(os.Stderr, "\r\033[K")
				return
			case <-ticker.C:
				if p := engine.GetProgress(); p != nil && p.Phase == "transferring" {
					fmt.Fprintf(os.Stderr, "\r\033[K%s: %d/%d objects, %s",
						p.Op, p.Processed, p.TotalFiles, formatBytes(p.Bytes))
				}
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

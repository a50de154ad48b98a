package state

import (
	"fmt"

	"github.com/gofrs/flock"

	"github.com/TheMichaelB/dvcsync/internal/models"
)

// Lock is an advisory lock that keeps a second process from writing the
// same fingerprint document.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes <statePath>.lock without blocking.
func AcquireLock(statePath string) (*Lock, error) {
	fl := flock.New(statePath + ".lock")

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s is held by another process", models.ErrSyncInProgress, fl.Path())
	}

	return &Lock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Release unlocks the lock file.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}

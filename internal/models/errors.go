package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeConfig    = "CONFIG_ERROR"
	ErrCodeNotFound  = "NOT_FOUND"
	ErrCodeState     = "STATE_ERROR"
	ErrCodeTransport = "TRANSPORT_ERROR"
	ErrCodeStorage   = "STORAGE_ERROR"
)

// Sentinel errors
var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrNoStoragePath  = errors.New("no storage path configured")
	ErrObjectNotFound = errors.New("object not found")
	ErrStateDuplicate = errors.New("duplicate state entry")
	ErrStateCorrupt   = errors.New("state file corrupt")
	ErrStateNotFound  = errors.New("state file not found")
	ErrSyncInProgress = errors.New("sync already in progress")
)

// ConfigError reports a configuration problem. It is fatal for a batch.
type ConfigError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config: %s", e.Reason)
}

func (e *ConfigError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidConfig, e.Err}
	}
	return []error{ErrInvalidConfig}
}

// SyncError provides detailed sync failure information.
type SyncError struct {
	Code string
	Op   string
	Path string
	Err  error
}

func (e *SyncError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Op, e.Code, e.Path, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Code, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// TransportError wraps a failure talking to a remote backend.
type TransportError struct {
	Backend string
	Op      string
	Key     string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Backend, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DuplicateStateError reports two fingerprint records for one identity.
type DuplicateStateError struct {
	Key string
}

func (e *DuplicateStateError) Error() string {
	return fmt.Sprintf("duplicate state entry for %q", e.Key)
}

func (e *DuplicateStateError) Unwrap() error {
	return ErrStateDuplicate
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

// IsNotFound reports whether err signals an absent object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

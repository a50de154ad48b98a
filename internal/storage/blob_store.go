// Package storage keeps immutable objects as files below a root directory.
package storage

import (
	"errors"
	"io"
	"os"
	"time"
)

var (
	// ErrExists is returned under ConflictError when the key is taken.
	ErrExists = errors.New("object already exists")

	// ErrChecksumMismatch is returned when written bytes do not hash to
	// the expected digest. Nothing is left at the key.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrInvalidKey is returned for keys that leave the root.
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectStore manages object files addressed by slash separated keys.
type ObjectStore interface {
	// Put stores the bytes of r under key.
	Put(key string, r io.Reader, opts PutOptions) (PutResult, error)

	// PutFile stores a copy of the file at src.
	PutFile(key, src string, opts PutOptions) (PutResult, error)

	// PutBytes stores data.
	PutBytes(key string, data []byte, opts PutOptions) (PutResult, error)

	// Open returns a reader for a stored object.
	Open(key string) (io.ReadCloser, error)

	// Stat returns object metadata.
	Stat(key string) (ObjectInfo, error)

	// Exists reports whether key holds an object.
	Exists(key string) (bool, error)

	// Path returns the file system path of key.
	Path(key string) (string, error)
}

// PutOptions control a single write.
type PutOptions struct {
	// Mode of the final file. Zero means 0644.
	Mode os.FileMode

	// ExpectMD5, when set, rejects content with a different digest.
	ExpectMD5 string
}

// PutResult describes a completed write.
type PutResult struct {
	Size    int64
	MD5     string
	Skipped bool // key already held an object under ConflictSkip
}

// ObjectInfo contains object metadata.
type ObjectInfo struct {
	Key     string
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
}

// ConflictStrategy defines how to handle an existing object on write.
type ConflictStrategy int

const (
	// ConflictOverwrite replaces existing objects.
	ConflictOverwrite ConflictStrategy = iota

	// ConflictSkip keeps the existing object.
	ConflictSkip

	// ConflictError returns ErrExists.
	ConflictError
)

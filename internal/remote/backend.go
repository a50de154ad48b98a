// Package remote defines the capability a storage provider offers the
// sync engine, and the resolution of remote object keys.
package remote

import "context"

// Backend is implemented once per storage provider. Every method is
// required; a provider with nothing to check returns nil from SanityCheck.
type Backend interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// SanityCheck verifies the provider is usable before a batch starts.
	// A missing or invalid setting is reported as a models.ConfigError.
	SanityCheck(ctx context.Context) error

	// GetKey returns the remote key holding cachePath, and whether an
	// object exists there.
	GetKey(ctx context.Context, cachePath string) (key string, ok bool, err error)

	// NewKey derives the key a fresh upload of cachePath is stored under.
	NewKey(cachePath string) (string, error)

	// CompareChecksum reports whether the remote object at key has the
	// same content as localPath.
	CompareChecksum(ctx context.Context, key, localPath string) (bool, error)

	// PullObject downloads key into dest. The caller owns dest and its
	// atomic placement.
	PullObject(ctx context.Context, key, dest string, showProgress bool) error

	// PushObject uploads localPath to key and returns the keys written.
	PushObject(ctx context.Context, key, localPath string) ([]string, error)
}

// Checksummer supplies the md5 of a local cache file.
type Checksummer interface {
	MD5(path string) (string, error)
}

// ChecksumFunc adapts a function to Checksummer.
type ChecksumFunc func(path string) (string, error)

// MD5 calls f.
func (f ChecksumFunc) MD5(path string) (string, error) {
	return f(path)
}

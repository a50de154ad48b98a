package remote

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/TheMichaelB/dvcsync/internal/models"
)

// StoragePathKey is the backend setting naming the remote location.
const StoragePathKey = "StoragePath"

// Settings is the layered configuration a backend resolves locations from.
type Settings struct {
	// Backend holds the provider-specific section.
	Backend map[string]string

	// GlobalStoragePath overrides the provider's StoragePath when set.
	GlobalStoragePath string

	// CacheDir is the local cache root keys are computed relative to.
	CacheDir string
}

// Get returns a provider setting. Keys match case-insensitively.
func (s Settings) Get(key string) string {
	if v, ok := s.Backend[key]; ok {
		return v
	}
	for k, v := range s.Backend {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// StoragePath returns the global override, else the provider setting.
func (s Settings) StoragePath() (string, error) {
	if s.GlobalStoragePath != "" {
		return s.GlobalStoragePath, nil
	}
	if p := s.Get(StoragePathKey); p != "" {
		return p, nil
	}
	return "", &models.ConfigError{
		Key:    StoragePathKey,
		Reason: "not set for data or cloud specific section",
		Err:    models.ErrNoStoragePath,
	}
}

// StorageBucket returns the first segment of the storage path.
func (s Settings) StorageBucket() (string, error) {
	bucket, _, err := s.split()
	return bucket, err
}

// StoragePrefix returns everything after the bucket, or "".
func (s Settings) StoragePrefix() (string, error) {
	_, prefix, err := s.split()
	return prefix, err
}

// CacheFileKey maps a local cache file to its remote key.
func (s Settings) CacheFileKey(localPath string) (string, error) {
	prefix, err := s.StoragePrefix()
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(s.CacheDir, localPath)
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", localPath, err)
	}
	rel = filepath.ToSlash(rel)

	return strings.Trim(prefix+"/"+rel, "/"), nil
}

func (s Settings) split() (string, string, error) {
	p, err := s.StoragePath()
	if err != nil {
		return "", "", err
	}
	bucket, prefix, _ := strings.Cut(strings.Trim(p, "/"), "/")
	return bucket, prefix, nil
}

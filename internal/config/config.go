package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/TheMichaelB/dvcsync/internal/models"
)

// Config holds all application configuration.
type Config struct {
	// Project layout
	Core CoreConfig `json:"core" mapstructure:"core"`

	// Active remote
	Cloud CloudConfig `json:"cloud" mapstructure:"cloud"`

	// Backend specific sections keyed by backend type
	Remotes map[string]map[string]string `json:"remotes,omitempty" mapstructure:"remotes"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// CoreConfig locates the project's cache and fingerprint state.
type CoreConfig struct {
	ProjectDir   string `json:"project_dir" mapstructure:"project_dir"`
	CacheDir     string `json:"cache_dir" mapstructure:"cache_dir"`         // Relative to ProjectDir unless absolute
	StateFile    string `json:"state_file" mapstructure:"state_file"`       // Relative to ProjectDir unless absolute
	StateBackend string `json:"state_backend" mapstructure:"state_backend"` // json, sqlite
	Jobs         int    `json:"jobs" mapstructure:"jobs"`                   // Transfer workers, 0 = default
}

// CloudConfig selects the remote.
type CloudConfig struct {
	Type        string `json:"type" mapstructure:"type"`                 // local, s3, minio
	StoragePath string `json:"storage_path" mapstructure:"storage_path"` // Overrides the backend StoragePath
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // Log file path (empty = stderr)
}

// Supported values.
var (
	CloudTypes    = []string{"local", "s3", "minio"}
	StateBackends = []string{"json", "sqlite"}
)

// DefaultJobs is the transfer pool size when none is configured.
func DefaultJobs() int {
	return 8 * runtime.NumCPU()
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Core: CoreConfig{
			ProjectDir:   ".",
			CacheDir:     filepath.Join(".dvc", "cache"),
			StateFile:    filepath.Join(".dvc", "state"),
			StateBackend: "json",
			Jobs:         DefaultJobs(),
		},
		Remotes: map[string]map[string]string{},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Core.CacheDir == "" {
		return &models.ConfigError{Key: "core.cache_dir", Reason: "is required"}
	}

	if c.Core.StateFile == "" {
		return &models.ConfigError{Key: "core.state_file", Reason: "is required"}
	}

	if !oneOf(c.Core.StateBackend, StateBackends) {
		return &models.ConfigError{
			Key:    "core.state_backend",
			Reason: fmt.Sprintf("invalid value %q (supported: %s)", c.Core.StateBackend, strings.Join(StateBackends, ", ")),
		}
	}

	if c.Core.Jobs < 0 {
		return &models.ConfigError{Key: "core.jobs", Reason: "must not be negative"}
	}

	if c.Cloud.Type != "" && !oneOf(c.Cloud.Type, CloudTypes) {
		return &models.ConfigError{
			Key:    "cloud.type",
			Reason: fmt.Sprintf("invalid value %q (supported: %s)", c.Cloud.Type, strings.Join(CloudTypes, ", ")),
		}
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return &models.ConfigError{Key: "log.level", Reason: fmt.Sprintf("invalid log level: %s", c.Log.Level)}
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return &models.ConfigError{Key: "log.format", Reason: fmt.Sprintf("invalid log format: %s", c.Log.Format)}
	}

	return nil
}

// CachePath returns the absolute cache directory.
func (c *Config) CachePath() string {
	return c.resolve(c.Core.CacheDir)
}

// StatePath returns the absolute fingerprint state location.
func (c *Config) StatePath() string {
	return c.resolve(c.Core.StateFile)
}

// BackendSettings returns the section of the active remote. Keys keep
// whatever case the source used.
func (c *Config) BackendSettings() map[string]string {
	for name, section := range c.Remotes {
		if strings.EqualFold(name, c.Cloud.Type) {
			return section
		}
	}
	return map[string]string{}
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.CachePath(),
		filepath.Dir(c.StatePath()),
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

func (c *Config) resolve(p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.Core.ProjectDir, p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. DVCSYNC_CLOUD_TYPE.
const EnvPrefix = "DVCSYNC"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader. An empty configPath searches the
// default locations.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		v:          viper.New(),
	}
}

// Load reads configuration from defaults, file and environment, in
// increasing order of precedence.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults(DefaultConfig())

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configPath == "" {
		for _, path := range l.defaultPaths() {
			if _, err := os.Stat(path); err == nil {
				l.configPath = path
				break
			}
		}
	}

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.configPath, err)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = map[string]map[string]string{}
	}
	cfg.Cloud.Type = strings.ToLower(cfg.Cloud.Type)
	cfg.Core.StateBackend = strings.ToLower(cfg.Core.StateBackend)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ConfigFileUsed returns the file Load read, or "".
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set overrides a key above every other source, e.g. from a command
// line flag.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// setDefaults registers every key so environment overrides apply to it.
func (l *Loader) setDefaults(d *Config) {
	l.v.SetDefault("core.project_dir", d.Core.ProjectDir)
	l.v.SetDefault("core.cache_dir", d.Core.CacheDir)
	l.v.SetDefault("core.state_file", d.Core.StateFile)
	l.v.SetDefault("core.state_backend", d.Core.StateBackend)
	l.v.SetDefault("core.jobs", d.Core.Jobs)
	l.v.SetDefault("cloud.type", d.Cloud.Type)
	l.v.SetDefault("cloud.storage_path", d.Cloud.StoragePath)
	l.v.SetDefault("log.level", d.Log.Level)
	l.v.SetDefault("log.format", d.Log.Format)
	l.v.SetDefault("log.file", d.Log.File)
}

// defaultPaths returns default config file locations.
func (l *Loader) defaultPaths() []string {
	paths := []string{
		"dvcsync.yaml",
		filepath.Join(".dvc", "config.yaml"),
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "dvcsync", "config.yaml"))
	} else if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "dvcsync", "config.yaml"))
	}

	return paths
}

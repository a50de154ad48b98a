package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/dvcsync/internal/models"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errBatchFailed))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, 2, exitCode(fmt.Errorf("load: %w", &models.ConfigError{Key: "cloud.type", Reason: "bad"})))
}

func TestDisplayPath(t *testing.T) {
	cacheDir := filepath.Join("/", "project", ".dvc", "cache")
	assert.Equal(t, "ab/cdef", displayPath(filepath.Join(cacheDir, "ab", "cdef"), cacheDir))
	assert.Equal(t, "uploaded", verb("push"))
	assert.Equal(t, "downloaded", verb("pull"))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "0 B", formatBytes(-5))
	assert.Equal(t, "1.0 KiB", formatBytes(1024))
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestCommandsAgainstLocalRemote(t *testing.T) {
	project := t.TempDir()
	remoteDir := filepath.Join(t.TempDir(), "remote")
	configPath := filepath.Join(project, "dvcsync.yaml")

	configYAML := fmt.Sprintf(`
core:
  project_dir: %s
  jobs: 2
cloud:
  type: local
remotes:
  local:
    storagepath: %s
`, project, remoteDir)
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0644))

	data := filepath.Join(project, "data")
	require.NoError(t, os.MkdirAll(data, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(data, "a.txt"), []byte("alpha"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(data, "b.txt"), []byte("bravo"), 0644))

	base := []string{"--config", configPath, "--quiet"}

	err := execute(t, append(base, "status")...)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStateNotFound)

	require.NoError(t, execute(t, append(base, "init")...))
	assert.FileExists(t, filepath.Join(project, ".dvc", "state"))

	require.NoError(t, execute(t, append(base, "add", data)...))
	require.NoError(t, execute(t, append(base, "push")...))
	require.NoError(t, execute(t, append(base, "status", "--cloud")...))

	var objects int
	require.NoError(t, filepath.WalkDir(remoteDir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			objects++
		}
		return err
	}))
	assert.Equal(t, 3, objects)

	err = execute(t, append(base, "pull", "0cc175b9c0f1b6a831c399e269772661")...)
	assert.ErrorIs(t, err, errBatchFailed)
}

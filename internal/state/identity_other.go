//go:build !unix

package state

import (
	"fmt"
	"os"
	"path/filepath"
)

func identity(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	return abs, nil
}

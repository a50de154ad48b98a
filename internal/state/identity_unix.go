//go:build unix

package state

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// identity returns "<device>:<inode>", which survives renames.
func identity(path string) (string, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	return fmt.Sprintf("%d:%d", uint64(st.Dev), uint64(st.Ino)), nil
}

package content

import (
	"io/fs"
	"os"
	"path/filepath"
)

// LatestModTime returns the modification time of path in nanoseconds. For
// a directory it is the newest modification time of the directory and
// everything below it, so an edit to any member moves it forward.
func LatestModTime(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	latest := info.ModTime().UnixNano()
	if !info.IsDir() {
		return latest, nil
	}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if mt := fi.ModTime().UnixNano(); mt > latest {
			latest = mt
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return latest, nil
}

package content

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/TheMichaelB/dvcsync/internal/models"
)

// MD5File streams a file through md5 and returns the hex digest.
func MD5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// MD5Bytes returns the hex md5 digest of data.
func MD5Bytes(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// HashFunc computes the content hash of a single file.
type HashFunc func(path string) (models.Hash, error)

// FileHasher adapts a digest function into a HashFunc for plain files.
func FileHasher(digest func(string) (string, error)) HashFunc {
	return func(path string) (models.Hash, error) {
		d, err := digest(path)
		if err != nil {
			return models.Hash{}, err
		}
		return models.FileHash(d), nil
	}
}

// Compute returns the content hash of path: the md5 of its bytes for a
// file, or the manifest hash for a directory.
func Compute(path string) (models.Hash, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.Hash{}, err
	}
	if !info.IsDir() {
		return FileHasher(MD5File)(path)
	}

	m, err := BuildManifest(path, FileHasher(MD5File))
	if err != nil {
		return models.Hash{}, err
	}
	return m.Hash()
}

package models

import (
	"fmt"
	"strings"
)

// DirSuffix marks a content hash that addresses a directory manifest.
const DirSuffix = ".dir"

// DigestLen is the length of a hex encoded md5 digest.
const DigestLen = 32

// Hash is a content address. It is either a file digest or a directory
// manifest digest; the distinction lives in the type and is only encoded as
// a suffix when serialized.
type Hash struct {
	digest string
	dir    bool
}

// FileHash tags a digest as addressing raw file bytes.
func FileHash(digest string) Hash {
	return Hash{digest: digest}
}

// DirHash tags a digest as addressing a directory manifest.
func DirHash(digest string) Hash {
	return Hash{digest: digest, dir: true}
}

// ParseHash decodes the serialized form produced by String. The digest
// must be a full md5 in hex.
func ParseHash(s string) (Hash, error) {
	digest, dir := strings.CutSuffix(s, DirSuffix)
	if len(digest) != DigestLen {
		return Hash{}, fmt.Errorf("invalid content hash %q", s)
	}
	for _, r := range digest {
		if !isHex(r) {
			return Hash{}, fmt.Errorf("invalid content hash %q", s)
		}
	}
	return Hash{digest: strings.ToLower(digest), dir: dir}, nil
}

// Digest returns the hex digest without any marker.
func (h Hash) Digest() string { return h.digest }

// IsDir reports whether h addresses a directory manifest.
func (h Hash) IsDir() bool { return h.dir }

// IsZero reports whether h is unset.
func (h Hash) IsZero() bool { return h.digest == "" }

func (h Hash) String() string {
	if h.dir {
		return h.digest + DirSuffix
	}
	return h.digest
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

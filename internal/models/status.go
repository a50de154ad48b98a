package models

// SyncStatus is the reconciliation state of one cache object against a remote.
type SyncStatus int

const (
	StatusUnknown SyncStatus = iota
	StatusOk
	StatusModified
	StatusNew
	StatusDeleted
)

func (s SyncStatus) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusModified:
		return "modified"
	case StatusNew:
		return "new"
	case StatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SyncStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StatusFor maps the presence of an object on each side, and whether the
// checksums agree when both exist, onto a SyncStatus. equal is ignored
// unless both sides exist.
func StatusFor(localExists, remoteExists, equal bool) SyncStatus {
	switch {
	case localExists && remoteExists && equal:
		return StatusOk
	case localExists && remoteExists:
		return StatusModified
	case localExists:
		return StatusNew
	case remoteExists:
		return StatusDeleted
	default:
		return StatusUnknown
	}
}

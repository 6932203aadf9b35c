package models

import "time"

// MountStatus is the reconciled state of a persisted mount record.
type MountStatus string

const (
	// MountActive means a live mount matches this record exactly.
	MountActive MountStatus = "ACTIVE"
	// MountStale means the record was loaded from disk and no reconcile
	// pass has confirmed it yet this session.
	MountStale MountStatus = "STALE"
	// MountMissing means no live mount exists at the record's mount point.
	MountMissing MountStatus = "MISSING"
	// MountError means the mount point is occupied by something else.
	MountError MountStatus = "ERROR"
)

// FSTypeAuto asks the mount manager to detect the filesystem from on-disk
// signatures. FSTypeUnknown is the detection result when nothing matches.
const (
	FSTypeAuto    = "auto"
	FSTypeUnknown = "unknown"
)

// MountRecord describes a read-only mount the investigator established.
// It references the backing evidence by image path value, never by live
// handle, so records stay meaningful across sessions.
type MountRecord struct {
	ImagePath  string      `json:"image_path"`
	Offset     int64       `json:"offset"`
	FSTypeHint string      `json:"fs_type_hint"`
	FSType     string      `json:"fs_type"`
	MountPoint string      `json:"mount_point"`
	ReadOnly   bool        `json:"read_only"`
	Status     MountStatus `json:"status"`
	MountedAt  time.Time   `json:"mounted_at"`
	LastError  string      `json:"last_error,omitempty"`
}

// LiveMount is one entry of the operating environment's current mount
// table. Produced fresh on every probe, never persisted.
type LiveMount struct {
	MountPoint string `json:"mount_point"`
	Device     string `json:"device"`
	FSType     string `json:"fs_type"`
	ReadOnly   bool   `json:"read_only"`
}

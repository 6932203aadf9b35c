package models

import "time"

// EvidenceType classifies the artifact an evidence item references.
type EvidenceType string

const (
	EvidenceDiskImage   EvidenceType = "disk_image"
	EvidenceLogBundle   EvidenceType = "log_bundle"
	EvidenceCaptureFile EvidenceType = "capture_file"
	EvidenceMemoryDump  EvidenceType = "memory_dump"
	EvidenceOther       EvidenceType = "other"
)

// ParseEvidenceType maps a user-supplied type string to a known
// EvidenceType, defaulting to EvidenceOther.
func ParseEvidenceType(s string) EvidenceType {
	switch EvidenceType(s) {
	case EvidenceDiskImage, EvidenceLogBundle, EvidenceCaptureFile, EvidenceMemoryDump:
		return EvidenceType(s)
	default:
		return EvidenceOther
	}
}

// VerificationResult is the outcome of re-hashing an evidence item's
// backing file against its recorded digests.
type VerificationResult string

const (
	VerifyMatch      VerificationResult = "MATCH"
	VerifyMismatch   VerificationResult = "MISMATCH"
	VerifyUnreadable VerificationResult = "UNREADABLE"
)

// EvidenceItem references a forensic artifact by its source path. The
// source file is read-only to this system and never rewritten. Digests map
// algorithm name to lowercase hex digest; once set for an algorithm the
// value is immutable.
type EvidenceItem struct {
	SourcePath       string             `json:"source_path"`
	Type             EvidenceType       `json:"type"`
	Description      string             `json:"description,omitempty"`
	SizeBytes        int64              `json:"size_bytes,omitempty"`
	AcquiredAt       time.Time          `json:"acquired_at"`
	Digests          map[string]string  `json:"digests"`
	LastVerifiedAt   *time.Time         `json:"last_verified_at,omitempty"`
	LastVerification VerificationResult `json:"last_verification,omitempty"`
}

// Clone returns a deep copy of the item.
func (e EvidenceItem) Clone() EvidenceItem {
	out := e
	if e.Digests != nil {
		out.Digests = make(map[string]string, len(e.Digests))
		for alg, hex := range e.Digests {
			out.Digests[alg] = hex
		}
	}
	if e.LastVerifiedAt != nil {
		t := *e.LastVerifiedAt
		out.LastVerifiedAt = &t
	}
	return out
}

package models

import (
	"strings"
	"time"
)

// SchemaVersion is the current case record schema version. Loaders accept
// records at or below this version and migrate them forward in memory.
const SchemaVersion = 1

// Case is the durable record of a forensic investigation. The case
// directory on disk is the sole authority for persisted state; everything
// here round-trips through case.json.
type Case struct {
	SchemaVersion int            `json:"schema_version"`
	CaseName      string         `json:"case_name"`
	CaseNumber    string         `json:"case_number"`
	Investigator  string         `json:"investigator"`
	Description   string         `json:"description,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	Evidence      []EvidenceItem `json:"evidence"`
	Mounts        []MountRecord  `json:"mounts"`

	// Path is the case directory. Derived from the store root when the
	// case is created or loaded, never persisted inside the record.
	Path string `json:"-"`
}

// CaseMetadata is the caller-supplied identity for a new case.
type CaseMetadata struct {
	CaseName     string `json:"case_name"`
	CaseNumber   string `json:"case_number"`
	Investigator string `json:"investigator"`
	Description  string `json:"description,omitempty"`
}

// CaseSummary is the cheap listing view of a case, built without loading
// the full record into a Case.
type CaseSummary struct {
	CaseName      string    `json:"case_name"`
	CaseNumber    string    `json:"case_number"`
	Investigator  string    `json:"investigator"`
	CreatedAt     time.Time `json:"created_at"`
	Path          string    `json:"path"`
	EvidenceCount int       `json:"evidence_count"`
	MountCount    int       `json:"mount_count"`
}

// Clone returns a deep copy. Snapshot reads hand clones to callers so a
// concurrent save never observes mid-mutation state.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	out := *c
	if c.Evidence != nil {
		out.Evidence = make([]EvidenceItem, len(c.Evidence))
		for i := range c.Evidence {
			out.Evidence[i] = c.Evidence[i].Clone()
		}
	}
	if c.Mounts != nil {
		out.Mounts = make([]MountRecord, len(c.Mounts))
		copy(out.Mounts, c.Mounts)
	}
	return &out
}

// Summary projects the case into its listing view.
func (c *Case) Summary() CaseSummary {
	return CaseSummary{
		CaseName:      c.CaseName,
		CaseNumber:    c.CaseNumber,
		Investigator:  c.Investigator,
		CreatedAt:     c.CreatedAt,
		Path:          c.Path,
		EvidenceCount: len(c.Evidence),
		MountCount:    len(c.Mounts),
	}
}

// EvidenceBySource returns the evidence item whose source path matches, or
// nil. Source paths are compared exactly; the caller normalizes first.
func (c *Case) EvidenceBySource(sourcePath string) *EvidenceItem {
	for i := range c.Evidence {
		if c.Evidence[i].SourcePath == sourcePath {
			return &c.Evidence[i]
		}
	}
	return nil
}

// MountByPoint returns the mount record for a mount point, or nil.
func (c *Case) MountByPoint(mountPoint string) *MountRecord {
	for i := range c.Mounts {
		if c.Mounts[i].MountPoint == mountPoint {
			return &c.Mounts[i]
		}
	}
	return nil
}

// Validate reports the first structural problem with the metadata, or nil.
func (m CaseMetadata) Validate() error {
	if strings.TrimSpace(m.CaseName) == "" {
		return errFieldRequired("case_name")
	}
	if strings.TrimSpace(m.CaseNumber) == "" {
		return errFieldRequired("case_number")
	}
	if strings.ContainsAny(m.CaseNumber, `/\`) {
		return errFieldInvalid("case_number", "must not contain path separators")
	}
	if strings.TrimSpace(m.Investigator) == "" {
		return errFieldRequired("investigator")
	}
	return nil
}

// FieldError describes a single invalid or missing metadata field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return "field " + e.Field + ": " + e.Reason
}

func errFieldRequired(field string) error {
	return &FieldError{Field: field, Reason: "required"}
}

func errFieldInvalid(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrValidation            = errors.New("validation failed")
	ErrDuplicateCase         = errors.New("case already exists")
	ErrDuplicateEvidence     = errors.New("evidence already recorded")
	ErrNotFound              = errors.New("not found")
	ErrCorruptCase           = errors.New("case record corrupt")
	ErrPersistence           = errors.New("persistence failed")
	ErrUnsupportedFilesystem = errors.New("unsupported filesystem")
	ErrPolicyViolation       = errors.New("policy violation")
)

// Kind represents the category of error
type Kind string

const (
	KindValidation            Kind = "validation"
	KindDuplicateCase         Kind = "duplicate_case"
	KindDuplicateEvidence     Kind = "duplicate_evidence"
	KindNotFound              Kind = "not_found"
	KindCorruptCase           Kind = "corrupt_case"
	KindPersistence           Kind = "persistence"
	KindUnsupportedFilesystem Kind = "unsupported_filesystem"
	KindPolicyViolation       Kind = "policy_violation"
	KindInternal              Kind = "internal"
)

// CaseError is a structured error for case engine operations. Target is
// whatever the operation acted on (case number, image path, mount point)
// so callers can render a precise user-facing message.
type CaseError struct {
	Kind      Kind
	Op        string // Operation that failed (e.g., "create_case", "mount")
	Target    string // Case number, path, or mount point involved
	Err       error  // Underlying error
	Timestamp time.Time

	fatal bool // store root unavailable; session cannot continue
}

func (e *CaseError) Error() string {
	if e.Target != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
		}
		return fmt.Sprintf("%s %s: %s", e.Op, e.Target, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *CaseError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is so callers can match on the base error types
// without unwrapping the structured error themselves.
func (e *CaseError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrDuplicateCase:
		return e.Kind == KindDuplicateCase
	case ErrDuplicateEvidence:
		return e.Kind == KindDuplicateEvidence
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrCorruptCase:
		return e.Kind == KindCorruptCase
	case ErrPersistence:
		return e.Kind == KindPersistence
	case ErrUnsupportedFilesystem:
		return e.Kind == KindUnsupportedFilesystem
	case ErrPolicyViolation:
		return e.Kind == KindPolicyViolation
	}

	return errors.Is(e.Err, target)
}

// New creates a new CaseError
func New(kind Kind, op, target string, err error) *CaseError {
	return &CaseError{
		Kind:      kind,
		Op:        op,
		Target:    target,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Helper constructors, one per taxonomy kind.

// Validationf reports bad caller input; no state was changed.
func Validationf(op, target, format string, args ...any) error {
	return New(KindValidation, op, target, fmt.Errorf(format, args...))
}

// DuplicateCase reports a case number already present in the store root.
func DuplicateCase(op, caseNumber string) error {
	return New(KindDuplicateCase, op, caseNumber, ErrDuplicateCase)
}

// DuplicateEvidence reports a source path already in the ledger.
func DuplicateEvidence(op, sourcePath string) error {
	return New(KindDuplicateEvidence, op, sourcePath, ErrDuplicateEvidence)
}

// NotFound reports a missing case or record.
func NotFound(op, target string) error {
	return New(KindNotFound, op, target, ErrNotFound)
}

// CorruptCase reports a persisted record that failed structural or
// checksum validation. The original file is left untouched.
func CorruptCase(op, target string, err error) error {
	return New(KindCorruptCase, op, target, err)
}

// Persistence reports an I/O failure during save; in-memory state is
// preserved and unsaved.
func Persistence(op, target string, err error) error {
	return New(KindPersistence, op, target, err)
}

// UnsupportedFilesystem reports a mount refused because the detected
// filesystem cannot be mounted on this platform.
func UnsupportedFilesystem(op, target, fsType string) error {
	return New(KindUnsupportedFilesystem, op, target,
		fmt.Errorf("%w: %s", ErrUnsupportedFilesystem, fsType))
}

// PolicyViolation reports a mount refused by the read-only policy.
func PolicyViolation(op, target, policy string) error {
	return New(KindPolicyViolation, op, target,
		fmt.Errorf("%w: %s", ErrPolicyViolation, policy))
}

// Internal wraps an unexpected failure that fits no taxonomy kind.
func Internal(op, target string, err error) error {
	return New(KindInternal, op, target, err)
}

// KindOf extracts the Kind from an error chain, or KindInternal.
func KindOf(err error) Kind {
	var ce *CaseError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// IsRecoverable reports whether a running session can continue after this
// error. Only store-root unavailability is fatal; that is signalled by a
// persistence error whose target is the store root itself, which callers
// construct with StoreRootUnavailable.
func IsRecoverable(err error) bool {
	var ce *CaseError
	if errors.As(err, &ce) {
		return !ce.fatal
	}
	return true
}

// StoreRootUnavailable reports that the store root directory cannot be
// read or written at all. This is the one fatal condition.
func StoreRootUnavailable(root string, err error) error {
	ce := New(KindPersistence, "open_store", root, err)
	ce.fatal = true
	return ce
}

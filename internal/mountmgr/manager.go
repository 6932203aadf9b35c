package mountmgr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	internalerrors "github.com/custodian-dfir/custodian/internal/errors"
	"github.com/custodian-dfir/custodian/internal/models"
)

// MountRequest is the caller's description of a mount. Offset arrives as
// the investigator typed it: decimal, 0x-prefixed hex, or empty for zero.
type MountRequest struct {
	ImagePath   string
	Offset      string
	FSTypeHint  string
	MountPoint  string
	WriteIntent bool
}

// Manager validates and performs read-only mounts of disk-image
// partitions. Operations on the same mount point are serialized; distinct
// mount points proceed independently.
type Manager struct {
	backend Backend
	locks   *pathLocks
	logger  zerolog.Logger
}

// NewManager returns a Manager on the given backend.
func NewManager(backend Backend, logger zerolog.Logger) *Manager {
	return &Manager{
		backend: backend,
		locks:   newPathLocks(),
		logger:  logger,
	}
}

// Backend reports which backend the manager drives.
func (m *Manager) Backend() Backend { return m.backend }

// Mount validates the request and establishes a read-only mount. All
// preconditions are checked before anything is mutated; any failed check
// returns a validation error naming it and no partial mount is attempted.
func (m *Manager) Mount(ctx context.Context, req MountRequest) (*models.MountRecord, error) {
	const op = "mount"

	// The read-only policy is checked before anything else so an
	// environmental failure can never mask a policy violation.
	if req.WriteIntent {
		return nil, internalerrors.PolicyViolation(op, req.ImagePath, "evidence mounts are read-only")
	}

	imagePath, err := filepath.Abs(req.ImagePath)
	if err != nil {
		return nil, internalerrors.Validationf(op, req.ImagePath, "image path: %v", err)
	}
	info, err := os.Stat(imagePath)
	if err != nil {
		return nil, internalerrors.Validationf(op, imagePath, "image path: %v", err)
	}
	if !info.Mode().IsRegular() {
		return nil, internalerrors.Validationf(op, imagePath, "image path: not a regular file")
	}
	img, err := os.Open(imagePath)
	if err != nil {
		return nil, internalerrors.Validationf(op, imagePath, "image not readable: %v", err)
	}
	defer img.Close()

	mountPoint, err := m.validateMountPoint(op, req.MountPoint)
	if err != nil {
		return nil, err
	}

	offset, err := ParseOffset(req.Offset)
	if err != nil {
		return nil, internalerrors.Validationf(op, imagePath, "%v", err)
	}
	if offset > info.Size() {
		return nil, internalerrors.Validationf(op, imagePath,
			"offset %d exceeds image size %d", offset, info.Size())
	}

	hint := req.FSTypeHint
	if hint == "" {
		hint = models.FSTypeAuto
	}
	fsType := hint
	if hint == models.FSTypeAuto {
		fsType, err = DetectFilesystem(img, offset)
		if err != nil {
			return nil, internalerrors.Internal(op, imagePath, err)
		}
	}
	if fsType == models.FSTypeUnknown && !m.backend.CanMountRaw() {
		return nil, internalerrors.UnsupportedFilesystem(op, imagePath, fsType)
	}

	unlock := m.locks.lock(mountPoint)
	defer unlock()

	spec := MountSpec{
		ImagePath:  imagePath,
		Offset:     offset,
		FSType:     fsType,
		MountPoint: mountPoint,
	}
	if err := m.backend.Mount(ctx, spec); err != nil {
		return nil, internalerrors.Internal(op, mountPoint, err)
	}

	m.logger.Info().
		Str("image", imagePath).
		Str("mount_point", mountPoint).
		Int64("offset", offset).
		Str("fs_type", fsType).
		Str("backend", m.backend.Name()).
		Msg("image mounted")

	return &models.MountRecord{
		ImagePath:  imagePath,
		Offset:     offset,
		FSTypeHint: hint,
		FSType:     fsType,
		MountPoint: mountPoint,
		ReadOnly:   true,
		Status:     models.MountActive,
		MountedAt:  time.Now().UTC(),
	}, nil
}

// Remount re-establishes a mount from a persisted record's original
// parameters. Offsets are already parsed in records, so the request is
// rebuilt verbatim.
func (m *Manager) Remount(ctx context.Context, rec models.MountRecord) (*models.MountRecord, error) {
	return m.Mount(ctx, MountRequest{
		ImagePath:  rec.ImagePath,
		Offset:     formatOffset(rec.Offset),
		FSTypeHint: rec.FSTypeHint,
		MountPoint: rec.MountPoint,
	})
}

// Unmount releases the mount at the record's mount point. Unmounting an
// already-unmounted record succeeds.
func (m *Manager) Unmount(ctx context.Context, rec models.MountRecord) error {
	const op = "unmount"

	unlock := m.locks.lock(rec.MountPoint)
	defer unlock()

	err := m.backend.Unmount(ctx, rec.MountPoint)
	if err != nil && !errors.Is(err, ErrNotMounted) {
		return internalerrors.Internal(op, rec.MountPoint, err)
	}

	m.logger.Info().
		Str("mount_point", rec.MountPoint).
		Bool("was_mounted", err == nil).
		Msg("image unmounted")
	return nil
}

func (m *Manager) validateMountPoint(op, mountPoint string) (string, error) {
	if mountPoint == "" {
		return "", internalerrors.Validationf(op, mountPoint, "mount point: required")
	}
	mountPoint, err := filepath.Abs(mountPoint)
	if err != nil {
		return "", internalerrors.Validationf(op, mountPoint, "mount point: %v", err)
	}

	info, err := os.Stat(mountPoint)
	switch {
	case err == nil:
		if !info.IsDir() {
			return "", internalerrors.Validationf(op, mountPoint, "mount point: not a directory")
		}
		entries, err := os.ReadDir(mountPoint)
		if err != nil {
			return "", internalerrors.Validationf(op, mountPoint, "mount point: %v", err)
		}
		if len(entries) > 0 {
			return "", internalerrors.Validationf(op, mountPoint, "mount point: directory not empty")
		}
		if !dirWritable(mountPoint) {
			return "", internalerrors.Validationf(op, mountPoint, "mount point: not writable")
		}
	case os.IsNotExist(err):
		if err := os.MkdirAll(mountPoint, 0o755); err != nil {
			return "", internalerrors.Validationf(op, mountPoint, "mount point: cannot create: %v", err)
		}
	default:
		return "", internalerrors.Validationf(op, mountPoint, "mount point: %v", err)
	}
	return mountPoint, nil
}

func formatOffset(offset int64) string {
	if offset == 0 {
		return ""
	}
	return strconv.FormatInt(offset, 10)
}

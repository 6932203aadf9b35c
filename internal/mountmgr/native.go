package mountmgr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/custodian-dfir/custodian/internal/models"
	"github.com/custodian-dfir/custodian/internal/utils"
)

// commandTimeout bounds mount(8)/umount(8); a hung NTFS driver should not
// freeze the whole session.
const commandTimeout = 30 * time.Second

// NativeBackend drives the platform's loop-mount machinery through
// mount(8) and umount(8). Only selected when the process runs as root on
// a platform with loop mounts.
type NativeBackend struct {
	logger zerolog.Logger
}

// NewNativeBackend returns the loop-mount backend.
func NewNativeBackend(logger zerolog.Logger) *NativeBackend {
	return &NativeBackend{logger: logger}
}

func (b *NativeBackend) Name() string { return "native" }

// CanMountRaw is false: the kernel needs a recognized filesystem to mount
// anything, so an unknown signature is refused rather than guessed at.
func (b *NativeBackend) CanMountRaw() bool { return false }

func (b *NativeBackend) Mount(ctx context.Context, spec MountSpec) error {
	args := []string{"-o", fmt.Sprintf("ro,loop,offset=%d", spec.Offset)}
	if t := kernelFSType(spec.FSType); t != "" {
		args = append(args, "-t", t)
	}
	args = append(args, spec.ImagePath, spec.MountPoint)

	b.logger.Info().
		Str("image", spec.ImagePath).
		Str("mount_point", spec.MountPoint).
		Int64("offset", spec.Offset).
		Str("fs_type", spec.FSType).
		Msg("mounting image read-only")

	if _, err := utils.RunCommand(ctx, commandTimeout, "mount", args...); err != nil {
		return err
	}
	return nil
}

func (b *NativeBackend) Unmount(ctx context.Context, mountPoint string) error {
	res, err := utils.RunCommand(ctx, commandTimeout, "umount", mountPoint)
	if err != nil {
		if strings.Contains(res.Stderr, "not mounted") ||
			strings.Contains(res.Stderr, "not currently mounted") {
			return ErrNotMounted
		}
		return err
	}
	return nil
}

// kernelFSType maps a detected filesystem name to the type string
// mount(8) expects. Empty means let the kernel probe.
func kernelFSType(fsType string) string {
	switch fsType {
	case "fat32", "fat16", "fat12":
		return "vfat"
	case "hfsx":
		return "hfsplus"
	case models.FSTypeUnknown, models.FSTypeAuto, "":
		return ""
	default:
		return fsType
	}
}

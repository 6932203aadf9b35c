package mountmgr

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog"

	"github.com/custodian-dfir/custodian/internal/models"
	"github.com/custodian-dfir/custodian/internal/mountprobe"
	"github.com/custodian-dfir/custodian/internal/utils"
)

// ErrNotMounted is reported by backends when asked to unmount a target
// that is not mounted. Callers treat it as success to keep unmount
// idempotent.
var ErrNotMounted = errors.New("not mounted")

// MountSpec is the validated, parsed request handed to a backend. All
// precondition checks have already passed by the time a backend sees it.
type MountSpec struct {
	ImagePath  string
	Offset     int64
	FSType     string
	MountPoint string
}

// Backend performs or simulates the OS-level mount operation. Two
// implementations exist: the native Linux loop-mount backend and the
// simulated backend used on platforms (or under privileges) where no real
// mount primitive is available.
type Backend interface {
	Name() string
	// CanMountRaw reports whether an image region with no recognized
	// filesystem can still be attached read-only.
	CanMountRaw() bool
	Mount(ctx context.Context, spec MountSpec) error
	Unmount(ctx context.Context, mountPoint string) error
}

// simulateEnv forces the simulated backend regardless of platform, for
// development and tests.
const simulateEnv = "CUSTODIAN_SIMULATE_MOUNTS"

// SelectBackend picks the backend once at startup: native when the
// platform has loop mounts and the process runs as root, simulated
// otherwise. Every other component is backend-agnostic.
func SelectBackend(registry *mountprobe.Registry, logger zerolog.Logger) Backend {
	if utils.ParseBool(utils.GetenvTrim(simulateEnv)) {
		logger.Info().Str("reason", simulateEnv).Msg("using simulated mount backend")
		return NewSimulatedBackend(registry, logger)
	}
	if nativeSupported() && os.Geteuid() == 0 {
		return NewNativeBackend(logger)
	}
	logger.Info().
		Bool("platform_support", nativeSupported()).
		Int("euid", os.Geteuid()).
		Msg("native mounts unavailable, using simulated mount backend")
	return NewSimulatedBackend(registry, logger)
}

// SimulatedBackend validates everything a real mount would and registers
// a synthetic live mount instead of touching the kernel. Reconciliation
// behaves identically against synthetic and native mounts.
type SimulatedBackend struct {
	registry *mountprobe.Registry
	logger   zerolog.Logger
}

// NewSimulatedBackend returns a backend backed by the synthetic registry.
func NewSimulatedBackend(registry *mountprobe.Registry, logger zerolog.Logger) *SimulatedBackend {
	return &SimulatedBackend{registry: registry, logger: logger}
}

func (b *SimulatedBackend) Name() string { return "simulated" }

// CanMountRaw is always true for simulation; there is no kernel to refuse
// an unrecognized filesystem.
func (b *SimulatedBackend) CanMountRaw() bool { return true }

func (b *SimulatedBackend) Mount(_ context.Context, spec MountSpec) error {
	fsType := spec.FSType
	if fsType == "" {
		fsType = models.FSTypeUnknown
	}
	b.registry.Register(models.LiveMount{
		MountPoint: spec.MountPoint,
		Device:     spec.ImagePath,
		FSType:     fsType,
		ReadOnly:   true,
	})
	b.logger.Debug().
		Str("image", spec.ImagePath).
		Str("mount_point", spec.MountPoint).
		Int64("offset", spec.Offset).
		Msg("registered simulated mount")
	return nil
}

func (b *SimulatedBackend) Unmount(_ context.Context, mountPoint string) error {
	b.registry.Unregister(mountPoint)
	return nil
}

package mountprobe

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	godisk "github.com/shirou/gopsutil/v4/disk"

	"github.com/custodian-dfir/custodian/internal/models"
)

// Function variables for testing
var (
	diskPartitions  = godisk.PartitionsWithContext
	loopBackingFile = readLoopBackingFile
)

// Prober reports the operating environment's current mount table. Probing
// never fails wholesale: entries that cannot be read are skipped and
// counted, since partial visibility is expected in containers and under
// restricted permissions.
type Prober interface {
	ListLiveMounts(ctx context.Context) (mounts []models.LiveMount, skipped int)
}

// virtualFSTypes are pseudo filesystems that can never back evidence and
// only add noise to reconciliation.
var virtualFSTypes = map[string]bool{
	"proc":       true,
	"sysfs":      true,
	"devtmpfs":   true,
	"devpts":     true,
	"tmpfs":      true,
	"cgroup":     true,
	"cgroup2":    true,
	"securityfs": true,
	"debugfs":    true,
	"tracefs":    true,
	"fusectl":    true,
	"configfs":   true,
	"pstore":     true,
	"hugetlbfs":  true,
	"mqueue":     true,
	"bpf":        true,
	"autofs":     true,
	"overlay":    true,
	"overlayfs":  true,
}

// systemMountPrefixes are mount point prefixes owned by the OS; evidence
// mounts never live there.
var systemMountPrefixes = []string{"/dev", "/proc", "/sys", "/run"}

// SystemProber reads the native mount table.
type SystemProber struct {
	logger zerolog.Logger
}

// NewSystemProber returns a Prober over the host mount table.
func NewSystemProber(logger zerolog.Logger) *SystemProber {
	return &SystemProber{logger: logger}
}

// ListLiveMounts queries the OS once and returns current truth, filtered
// of pseudo filesystems and system mount points, sorted by mount point.
func (p *SystemProber) ListLiveMounts(ctx context.Context) ([]models.LiveMount, int) {
	partitions, err := diskPartitions(ctx, true)
	if err != nil {
		// gopsutil may return partial results alongside the error; use
		// whatever came back rather than failing the probe.
		p.logger.Warn().Err(err).Msg("mount table partially unreadable")
	}

	skipped := 0
	seen := make(map[string]bool, len(partitions))
	mounts := make([]models.LiveMount, 0, len(partitions))
	for _, part := range partitions {
		mountPoint := strings.TrimSpace(part.Mountpoint)
		if mountPoint == "" || seen[mountPoint] {
			skipped++
			continue
		}
		if shouldSkip(part.Fstype, mountPoint) {
			skipped++
			continue
		}
		seen[mountPoint] = true

		device := part.Device
		if backing, ok := loopBackingFile(device); ok {
			device = backing
		}

		mounts = append(mounts, models.LiveMount{
			MountPoint: mountPoint,
			Device:     device,
			FSType:     part.Fstype,
			ReadOnly:   hasOpt(part.Opts, "ro"),
		})
	}

	sort.Slice(mounts, func(i, j int) bool {
		return mounts[i].MountPoint < mounts[j].MountPoint
	})
	return mounts, skipped
}

func shouldSkip(fsType, mountPoint string) bool {
	if virtualFSTypes[strings.ToLower(strings.TrimSpace(fsType))] {
		return true
	}
	for _, prefix := range systemMountPrefixes {
		if mountPoint == prefix || strings.HasPrefix(mountPoint, prefix+"/") {
			return true
		}
	}
	return false
}

func hasOpt(opts []string, want string) bool {
	for _, opt := range opts {
		if opt == want {
			return true
		}
	}
	return false
}

// readLoopBackingFile maps a loop device back to the image file behind it,
// so reconciliation can compare records against image paths instead of
// /dev/loopN names.
func readLoopBackingFile(device string) (string, bool) {
	name := strings.TrimPrefix(device, "/dev/")
	if name == device || !strings.HasPrefix(name, "loop") {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join("/sys/block", name, "loop/backing_file"))
	if err != nil {
		return "", false
	}
	backing := strings.TrimSpace(string(data))
	if backing == "" {
		return "", false
	}
	return backing, true
}

package mountprobe

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	godisk "github.com/shirou/gopsutil/v4/disk"

	"github.com/custodian-dfir/custodian/internal/models"
)

func stubPartitions(t *testing.T, parts []godisk.PartitionStat, err error) {
	t.Helper()
	origPartitions := diskPartitions
	origBacking := loopBackingFile
	diskPartitions = func(ctx context.Context, all bool) ([]godisk.PartitionStat, error) {
		return parts, err
	}
	loopBackingFile = func(device string) (string, bool) { return "", false }
	t.Cleanup(func() {
		diskPartitions = origPartitions
		loopBackingFile = origBacking
	})
}

func TestSystemProberFiltersAndSorts(t *testing.T) {
	stubPartitions(t, []godisk.PartitionStat{
		{Device: "/dev/sda1", Mountpoint: "/", Fstype: "ext4", Opts: []string{"rw"}},
		{Device: "proc", Mountpoint: "/proc", Fstype: "proc", Opts: []string{"rw"}},
		{Device: "tmpfs", Mountpoint: "/tmp", Fstype: "tmpfs", Opts: []string{"rw"}},
		{Device: "/dev/sdb1", Mountpoint: "/mnt/laptop_c", Fstype: "ntfs", Opts: []string{"ro"}},
		{Device: "/dev/sdb1", Mountpoint: "/mnt/laptop_c", Fstype: "ntfs", Opts: []string{"ro"}}, // dup
		{Device: "none", Mountpoint: "", Fstype: "ext4"},                                         // unreadable entry
		{Device: "udev", Mountpoint: "/dev/shm", Fstype: "devtmpfs"},
	}, nil)

	prober := NewSystemProber(zerolog.Nop())
	mounts, skipped := prober.ListLiveMounts(context.Background())

	if len(mounts) != 2 {
		t.Fatalf("mounts = %d (%v), want 2", len(mounts), mounts)
	}
	if mounts[0].MountPoint != "/" || mounts[1].MountPoint != "/mnt/laptop_c" {
		t.Errorf("mounts not sorted by mount point: %v", mounts)
	}
	if !mounts[1].ReadOnly {
		t.Errorf("ro option not reflected: %+v", mounts[1])
	}
	if mounts[0].ReadOnly {
		t.Errorf("rw mount reported read-only: %+v", mounts[0])
	}
	if skipped != 5 {
		t.Errorf("skipped = %d, want 5", skipped)
	}
}

func TestSystemProberToleratesProbeError(t *testing.T) {
	stubPartitions(t, []godisk.PartitionStat{
		{Device: "/dev/sda1", Mountpoint: "/data", Fstype: "ext4", Opts: []string{"rw"}},
	}, errors.New("permission denied"))

	prober := NewSystemProber(zerolog.Nop())
	mounts, _ := prober.ListLiveMounts(context.Background())
	if len(mounts) != 1 {
		t.Fatalf("partial results dropped on probe error: %v", mounts)
	}
}

func TestSystemProberResolvesLoopBacking(t *testing.T) {
	stubPartitions(t, []godisk.PartitionStat{
		{Device: "/dev/loop7", Mountpoint: "/mnt/laptop_c", Fstype: "ntfs", Opts: []string{"ro"}},
	}, nil)
	loopBackingFile = func(device string) (string, bool) {
		if device != "/dev/loop7" {
			t.Errorf("backing lookup for %q", device)
		}
		return "/evidence/laptop.dd", true
	}

	prober := NewSystemProber(zerolog.Nop())
	mounts, _ := prober.ListLiveMounts(context.Background())
	if len(mounts) != 1 || mounts[0].Device != "/evidence/laptop.dd" {
		t.Fatalf("loop device not resolved to backing file: %v", mounts)
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.Register(models.LiveMount{MountPoint: "/mnt/b", Device: "/e/b.dd", FSType: "ntfs", ReadOnly: true})
	reg.Register(models.LiveMount{MountPoint: "/mnt/a", Device: "/e/a.dd", FSType: "ext4", ReadOnly: true})

	mounts, skipped := reg.ListLiveMounts(context.Background())
	if skipped != 0 {
		t.Errorf("registry skipped = %d, want 0", skipped)
	}
	if len(mounts) != 2 || mounts[0].MountPoint != "/mnt/a" {
		t.Fatalf("registry list = %v", mounts)
	}

	reg.Unregister("/mnt/a")
	reg.Unregister("/mnt/never-registered")
	mounts, _ = reg.ListLiveMounts(context.Background())
	if len(mounts) != 1 || mounts[0].MountPoint != "/mnt/b" {
		t.Fatalf("registry after unregister = %v", mounts)
	}
}

func TestCompositeMergesWithOverride(t *testing.T) {
	stubPartitions(t, []godisk.PartitionStat{
		{Device: "/dev/sda1", Mountpoint: "/mnt/shared", Fstype: "ext4", Opts: []string{"rw"}},
		{Device: "/dev/sda2", Mountpoint: "/mnt/system-only", Fstype: "ext4", Opts: []string{"rw"}},
	}, nil)

	reg := NewRegistry()
	reg.Register(models.LiveMount{MountPoint: "/mnt/shared", Device: "/e/img.dd", FSType: "ntfs", ReadOnly: true})
	reg.Register(models.LiveMount{MountPoint: "/mnt/synthetic", Device: "/e/mem.raw", FSType: "raw", ReadOnly: true})

	composite := NewComposite(NewSystemProber(zerolog.Nop()), reg)
	mounts, _ := composite.ListLiveMounts(context.Background())

	if len(mounts) != 3 {
		t.Fatalf("composite mounts = %v, want 3 entries", mounts)
	}
	byPoint := make(map[string]models.LiveMount)
	for _, m := range mounts {
		byPoint[m.MountPoint] = m
	}
	if byPoint["/mnt/shared"].Device != "/e/img.dd" {
		t.Errorf("registry entry did not shadow system entry: %+v", byPoint["/mnt/shared"])
	}
	if _, ok := byPoint["/mnt/system-only"]; !ok {
		t.Errorf("system-only entry lost in merge")
	}
	if _, ok := byPoint["/mnt/synthetic"]; !ok {
		t.Errorf("synthetic entry lost in merge")
	}
}

package mountprobe

import (
	"context"
	"sort"
	"sync"

	"github.com/custodian-dfir/custodian/internal/models"
)

// Registry holds synthesized live mounts on platforms without a native
// mount primitive. The simulated mount backend registers entries here so
// reconciliation sees the same shape of truth on every platform.
type Registry struct {
	mu     sync.RWMutex
	mounts map[string]models.LiveMount // keyed by mount point
}

// NewRegistry returns an empty synthetic mount registry.
func NewRegistry() *Registry {
	return &Registry{mounts: make(map[string]models.LiveMount)}
}

// Register records a synthetic mount, replacing any previous entry at the
// same mount point.
func (r *Registry) Register(m models.LiveMount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mounts[m.MountPoint] = m
}

// Unregister removes the entry for a mount point. Removing an absent
// entry is a no-op.
func (r *Registry) Unregister(mountPoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mounts, mountPoint)
}

// ListLiveMounts returns the registered synthetic mounts, sorted by mount
// point. It never skips entries.
func (r *Registry) ListLiveMounts(_ context.Context) ([]models.LiveMount, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mounts := make([]models.LiveMount, 0, len(r.mounts))
	for _, m := range r.mounts {
		mounts = append(mounts, m)
	}
	sort.Slice(mounts, func(i, j int) bool {
		return mounts[i].MountPoint < mounts[j].MountPoint
	})
	return mounts, 0
}

// Composite merges several probers into one mount table. Later probers
// win on mount point collisions, so a synthetic registry layered over the
// system prober can shadow stale OS entries.
type Composite struct {
	probers []Prober
}

// NewComposite returns a Prober that merges the given probers in order.
func NewComposite(probers ...Prober) *Composite {
	return &Composite{probers: probers}
}

// ListLiveMounts merges all child probers' tables, deduplicated by mount
// point, sorted by mount point.
func (c *Composite) ListLiveMounts(ctx context.Context) ([]models.LiveMount, int) {
	merged := make(map[string]models.LiveMount)
	skipped := 0
	for _, p := range c.probers {
		mounts, s := p.ListLiveMounts(ctx)
		skipped += s
		for _, m := range mounts {
			merged[m.MountPoint] = m
		}
	}

	out := make([]models.LiveMount, 0, len(merged))
	for _, m := range merged {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MountPoint < out[j].MountPoint
	})
	return out, skipped
}

package reconcile

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/custodian-dfir/custodian/internal/models"
	"github.com/custodian-dfir/custodian/internal/mountprobe"
)

// Remounter re-establishes a previously recorded mount. Satisfied by
// mountmgr.Manager.
type Remounter interface {
	Remount(ctx context.Context, rec models.MountRecord) (*models.MountRecord, error)
}

// Options control a reconciliation pass.
type Options struct {
	// AutoRemount attempts to re-establish mounts whose images are still
	// present but which are no longer in the live mount table.
	AutoRemount bool
}

// Report summarizes what one pass found and did. Counts cover the case's
// records after the pass; Activated lists image paths whose mounts came
// back, which callers use to schedule integrity re-verification.
type Report struct {
	CaseNumber  string             `json:"case_number"`
	StartedAt   time.Time          `json:"started_at"`
	Duration    time.Duration      `json:"duration"`
	Active      int                `json:"active"`
	Missing     int                `json:"missing"`
	Errored     int                `json:"errored"`
	Remounted   int                `json:"remounted"`
	SkippedLive int                `json:"skipped_live"`
	Activated   []string           `json:"activated,omitempty"`
	Candidates  []models.LiveMount `json:"candidates,omitempty"`
}

// Reconciler merges a case's persisted mount records with the live mount
// table. The merge is deterministic: same records and same live table
// always produce the same statuses.
type Reconciler struct {
	prober    mountprobe.Prober
	remounter Remounter
	logger    zerolog.Logger
}

func New(prober mountprobe.Prober, remounter Remounter, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		prober:    prober,
		remounter: remounter,
		logger:    logger,
	}
}

// Reconcile resolves every mount record in the case against the live
// mount table, mutating the records in place. The caller holds whatever
// lock protects the case. Remount failures are recorded on the mount,
// never returned: a reconciliation pass itself cannot fail.
func (r *Reconciler) Reconcile(ctx context.Context, c *models.Case, opts Options) Report {
	started := time.Now()

	live, skipped := r.prober.ListLiveMounts(ctx)
	byMountPoint := make(map[string]models.LiveMount, len(live))
	for _, lm := range live {
		byMountPoint[lm.MountPoint] = lm
	}

	report := Report{
		CaseNumber:  c.CaseNumber,
		StartedAt:   started.UTC(),
		SkippedLive: skipped,
	}
	claimed := make(map[string]bool, len(c.Mounts))

	for i := range c.Mounts {
		rec := &c.Mounts[i]
		wasActive := rec.Status == models.MountActive
		claimed[rec.MountPoint] = true

		lm, found := byMountPoint[rec.MountPoint]
		switch {
		case found && !deviceMatches(lm, *rec):
			rec.Status = models.MountError
			rec.LastError = "mount point occupied by " + lm.Device
			r.logger.Warn().
				Str("mountpoint", rec.MountPoint).
				Str("expected", rec.ImagePath).
				Str("found", lm.Device).
				Msg("mount point occupied by a different device")

		case found && !lm.ReadOnly:
			rec.Status = models.MountError
			rec.LastError = "mounted writable"
			r.logger.Error().
				Str("mountpoint", rec.MountPoint).
				Str("image", rec.ImagePath).
				Msg("evidence mount is writable")

		case found:
			rec.Status = models.MountActive
			rec.LastError = ""
			if !wasActive {
				report.Activated = append(report.Activated, rec.ImagePath)
			}

		default:
			rec.Status = models.MountMissing
			if opts.AutoRemount && r.remounter != nil {
				r.remount(ctx, rec, &report)
			}
		}
	}

	for i := range c.Mounts {
		switch c.Mounts[i].Status {
		case models.MountActive:
			report.Active++
		case models.MountMissing:
			report.Missing++
		case models.MountError:
			report.Errored++
		}
	}

	report.Candidates = r.candidates(c, live, claimed)
	report.Duration = time.Since(started)

	r.logger.Info().
		Str("case_number", c.CaseNumber).
		Int("active", report.Active).
		Int("missing", report.Missing).
		Int("errored", report.Errored).
		Int("remounted", report.Remounted).
		Int("candidates", len(report.Candidates)).
		Dur("duration", report.Duration).
		Msg("reconciliation pass complete")
	return report
}

func (r *Reconciler) remount(ctx context.Context, rec *models.MountRecord, report *Report) {
	fresh, err := r.remounter.Remount(ctx, *rec)
	if err != nil {
		// Recorded, not raised. The operator sees it on the record.
		rec.LastError = err.Error()
		r.logger.Warn().
			Err(err).
			Str("image", rec.ImagePath).
			Str("mountpoint", rec.MountPoint).
			Msg("auto-remount failed")
		return
	}

	*rec = *fresh
	report.Remounted++
	report.Activated = append(report.Activated, rec.ImagePath)
	r.logger.Info().
		Str("image", rec.ImagePath).
		Str("mountpoint", rec.MountPoint).
		Msg("auto-remounted evidence image")
}

// candidates returns live mounts that are not recorded in the case but
// whose backing device is one of the case's evidence sources. These are
// mounts made behind the engine's back.
func (r *Reconciler) candidates(c *models.Case, live []models.LiveMount, claimed map[string]bool) []models.LiveMount {
	sources := make(map[string]bool, len(c.Evidence))
	for i := range c.Evidence {
		sources[c.Evidence[i].SourcePath] = true
	}

	var out []models.LiveMount
	for _, lm := range live {
		if claimed[lm.MountPoint] {
			continue
		}
		if sources[lm.Device] {
			out = append(out, lm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MountPoint < out[j].MountPoint })
	return out
}

// deviceMatches reports whether a live mount is backed by the record's
// image. Loop devices the prober could not resolve to a backing file are
// treated as matching: an unresolvable device is unknown, not different.
func deviceMatches(lm models.LiveMount, rec models.MountRecord) bool {
	if lm.Device == rec.ImagePath {
		return true
	}
	return strings.HasPrefix(lm.Device, "/dev/loop")
}

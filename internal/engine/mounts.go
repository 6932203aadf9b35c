package engine

import (
	"context"
	"fmt"
	"path/filepath"

	internalerrors "github.com/custodian-dfir/custodian/internal/errors"
	"github.com/custodian-dfir/custodian/internal/models"
	"github.com/custodian-dfir/custodian/internal/mountmgr"
	"github.com/custodian-dfir/custodian/internal/reconcile"
	"github.com/custodian-dfir/custodian/pkg/audit"
)

// Mount establishes a read-only mount for the active case and records it.
// A mount point with an ACTIVE record is refused; mounting over a
// MISSING, STALE or ERROR record replaces that record.
func (e *Engine) Mount(ctx context.Context, req mountmgr.MountRequest) (*models.MountRecord, error) {
	const op = "mount"

	e.mu.Lock()
	caseNumber, cerr := e.requireCaseLocked(op)
	if cerr != nil {
		e.mu.Unlock()
		return nil, cerr
	}

	if abs, err := filepath.Abs(req.MountPoint); err == nil {
		if existing := e.current.MountByPoint(abs); existing != nil && existing.Status == models.MountActive {
			e.mu.Unlock()
			verr := internalerrors.Validationf(op, abs, "mount point already active in this case")
			e.metrics.RecordMountOp(op, verr)
			audit.Record(op, abs, caseNumber, audit.OutcomeFailure, verr.Error())
			return nil, verr
		}
	}
	e.mu.Unlock()

	// The manager serializes per mount point and does its own
	// validation; the engine lock is not held across the mount itself.
	rec, err := e.manager.Mount(ctx, req)
	e.metrics.RecordMountOp(op, err)
	if err != nil {
		audit.Record(op, req.ImagePath, caseNumber, audit.OutcomeFailure, err.Error())
		return nil, err
	}

	e.mu.Lock()
	if _, cerr := e.requireCaseLocked(op); cerr != nil || e.current.CaseNumber != caseNumber {
		// The case switched while the mount was in progress. Leave the
		// live mount alone but do not attach it to the wrong case.
		e.mu.Unlock()
		audit.Record(op, rec.ImagePath, caseNumber, audit.OutcomeFailure, "case switched during mount")
		return nil, internalerrors.Validationf(op, rec.MountPoint, "case switched during mount")
	}
	if existing := e.current.MountByPoint(rec.MountPoint); existing != nil {
		*existing = *rec
	} else {
		e.current.Mounts = append(e.current.Mounts, *rec)
	}
	needsBaseline := false
	if item, ok := e.ledger.Get(rec.ImagePath); ok && len(item.Digests) == 0 {
		needsBaseline = true
	}
	saveErr := e.saveLocked()
	e.mu.Unlock()

	if saveErr != nil {
		audit.Record(op, rec.ImagePath, caseNumber, audit.OutcomeFailure, saveErr.Error())
		return nil, saveErr
	}

	audit.Record(op, rec.ImagePath, caseNumber, audit.OutcomeSuccess,
		fmt.Sprintf("%s at %s (%s)", rec.ImagePath, rec.MountPoint, rec.FSType))
	e.publish(EventMountChanged, caseNumber, *rec)
	if needsBaseline {
		e.scheduleInitialHash(caseNumber, rec.ImagePath)
	}

	out := *rec
	return &out, nil
}

// Unmount releases the live mount behind a record. The record itself
// stays on the case with status MISSING; RemoveMountRecord drops it.
func (e *Engine) Unmount(ctx context.Context, mountPoint string) error {
	const op = "unmount"

	e.mu.Lock()
	caseNumber, cerr := e.requireCaseLocked(op)
	if cerr != nil {
		e.mu.Unlock()
		return cerr
	}
	if abs, err := filepath.Abs(mountPoint); err == nil {
		mountPoint = abs
	}
	rec := e.current.MountByPoint(mountPoint)
	if rec == nil {
		e.mu.Unlock()
		nerr := internalerrors.NotFound(op, mountPoint)
		e.metrics.RecordMountOp(op, nerr)
		return nerr
	}
	snapshot := *rec
	e.mu.Unlock()

	err := e.manager.Unmount(ctx, snapshot)
	e.metrics.RecordMountOp(op, err)
	if err != nil {
		audit.Record(op, mountPoint, caseNumber, audit.OutcomeFailure, err.Error())
		return err
	}

	e.mu.Lock()
	if e.current != nil && e.current.CaseNumber == caseNumber {
		if rec := e.current.MountByPoint(mountPoint); rec != nil {
			rec.Status = models.MountMissing
			rec.LastError = ""
		}
		if err := e.saveLocked(); err != nil {
			e.logger.Error().Err(err).Str("case_number", caseNumber).Msg("failed to save case after unmount")
		}
	}
	e.mu.Unlock()

	audit.Record(op, mountPoint, caseNumber, audit.OutcomeSuccess, snapshot.ImagePath)
	e.publish(EventMountChanged, caseNumber, map[string]interface{}{
		"mount_point": mountPoint,
		"status":      models.MountMissing,
	})
	return nil
}

// RemoveMountRecord drops a mount record from the active case. ACTIVE
// records are refused; unmount first.
func (e *Engine) RemoveMountRecord(mountPoint string) error {
	const op = "remove_mount_record"

	e.mu.Lock()
	caseNumber, cerr := e.requireCaseLocked(op)
	if cerr != nil {
		e.mu.Unlock()
		return cerr
	}
	if abs, err := filepath.Abs(mountPoint); err == nil {
		mountPoint = abs
	}
	idx := -1
	for i := range e.current.Mounts {
		if e.current.Mounts[i].MountPoint == mountPoint {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return internalerrors.NotFound(op, mountPoint)
	}
	if e.current.Mounts[idx].Status == models.MountActive {
		e.mu.Unlock()
		return internalerrors.Validationf(op, mountPoint, "mount is active; unmount first")
	}
	e.current.Mounts = append(e.current.Mounts[:idx], e.current.Mounts[idx+1:]...)
	saveErr := e.saveLocked()
	e.mu.Unlock()

	if saveErr != nil {
		return saveErr
	}
	audit.Record(op, mountPoint, caseNumber, audit.OutcomeSuccess, "")
	return nil
}

// Reconcile resolves the active case's mount records against the live
// mount table. With autoRemount, MISSING mounts are re-established where
// possible; failures land on the record, never as an error. Evidence
// behind a mount that just came back is re-verified in the background
// unless it was already checked this session.
func (e *Engine) Reconcile(ctx context.Context, autoRemount bool) (reconcile.Report, error) {
	const op = "reconcile"

	e.mu.Lock()
	caseNumber, cerr := e.requireCaseLocked(op)
	if cerr != nil {
		e.mu.Unlock()
		return reconcile.Report{}, cerr
	}

	report := e.reconciler.Reconcile(ctx, e.current, reconcile.Options{AutoRemount: autoRemount})
	saveErr := e.saveLocked()

	var reverify []string
	for _, imagePath := range report.Activated {
		if _, ok := e.ledger.Get(imagePath); !ok {
			continue
		}
		if e.ledger.VerifiedThisSession(imagePath) || e.hashing[imagePath] {
			continue
		}
		reverify = append(reverify, imagePath)
	}
	e.mu.Unlock()

	e.metrics.RecordReconcile(report.Active, report.Missing, report.Errored, report.Remounted, report.Duration)
	if saveErr != nil {
		audit.Record(op, caseNumber, caseNumber, audit.OutcomeFailure, saveErr.Error())
		return report, saveErr
	}

	audit.Record(op, caseNumber, caseNumber, audit.OutcomeSuccess,
		fmt.Sprintf("active=%d missing=%d errored=%d remounted=%d", report.Active, report.Missing, report.Errored, report.Remounted))
	e.publish(EventReconcileReport, caseNumber, report)

	for _, imagePath := range reverify {
		e.scheduleVerify(caseNumber, imagePath)
	}
	return report, nil
}

// AutoRemount reports the configured reconcile default.
func (e *Engine) AutoRemount() bool {
	return e.autoRemount
}

// ListPartitions reads the partition table of a disk image so the
// operator can pick a mount offset.
func (e *Engine) ListPartitions(imagePath string) ([]mountmgr.PartitionInfo, error) {
	abs, err := filepath.Abs(imagePath)
	if err != nil {
		return nil, internalerrors.Validationf("list_partitions", imagePath, "image path: %v", err)
	}
	return mountmgr.ListPartitions(abs)
}

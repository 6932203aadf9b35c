package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	internalerrors "github.com/custodian-dfir/custodian/internal/errors"
	"github.com/custodian-dfir/custodian/internal/hasher"
	"github.com/custodian-dfir/custodian/internal/models"
	"github.com/custodian-dfir/custodian/pkg/audit"
)

// hashFile is swappable in tests.
var hashFile = hasher.File

// EvidenceInput describes a new evidence item.
type EvidenceInput struct {
	SourcePath  string
	Type        models.EvidenceType
	Description string
}

// RecordEvidence registers an artifact with the active case and schedules
// its baseline digests on the worker pool. The returned item has no
// digests yet; EventEvidenceHashed announces when they land.
func (e *Engine) RecordEvidence(ctx context.Context, input EvidenceInput) (*models.EvidenceItem, error) {
	const op = "record_evidence"

	abs, err := filepath.Abs(input.SourcePath)
	if err != nil {
		return nil, internalerrors.Validationf(op, input.SourcePath, "source path: %v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, internalerrors.Validationf(op, abs, "source path: %v", err)
	}
	if info.IsDir() {
		return nil, internalerrors.Validationf(op, abs, "source path: is a directory")
	}

	item := models.EvidenceItem{
		SourcePath:  abs,
		Type:        input.Type,
		Description: input.Description,
		SizeBytes:   info.Size(),
		AcquiredAt:  time.Now().UTC(),
		Digests:     map[string]string{},
	}

	e.mu.Lock()
	caseNumber, cerr := e.requireCaseLocked(op)
	if cerr != nil {
		e.mu.Unlock()
		return nil, cerr
	}
	led := e.ledger
	if err := led.Record(item); err != nil {
		e.mu.Unlock()
		audit.Record(op, abs, caseNumber, audit.OutcomeFailure, err.Error())
		return nil, err
	}
	saveErr := e.saveLocked()
	e.mu.Unlock()

	if saveErr != nil {
		audit.Record(op, abs, caseNumber, audit.OutcomeFailure, saveErr.Error())
		return nil, saveErr
	}

	audit.Record(op, abs, caseNumber, audit.OutcomeSuccess, string(item.Type))
	e.publish(EventEvidenceAdded, caseNumber, item)
	e.scheduleInitialHash(caseNumber, abs)

	return &item, nil
}

// scheduleInitialHash computes baseline digests for a source path in the
// background. At most one initial hash per path is in flight; repeat
// requests while one runs are dropped.
func (e *Engine) scheduleInitialHash(caseNumber, sourcePath string) {
	e.mu.Lock()
	if e.hashing[sourcePath] {
		e.mu.Unlock()
		return
	}
	e.hashing[sourcePath] = true
	led := e.ledger
	e.mu.Unlock()

	jobName := "hash " + filepath.Base(sourcePath)
	_, err := e.pool.Submit(jobName, func(ctx context.Context) error {
		defer func() {
			e.mu.Lock()
			delete(e.hashing, sourcePath)
			e.mu.Unlock()
		}()

		e.metrics.IncActiveJobs()
		defer e.metrics.DecActiveJobs()

		start := time.Now()
		digests, read, err := hashFile(ctx, sourcePath, e.hashAlgorithms, nil)
		e.metrics.RecordHash(read, time.Since(start), err)
		if err != nil {
			e.logger.Warn().Err(err).Str("source", sourcePath).Msg("baseline hash failed")
			return err
		}

		if err := led.SetDigests(sourcePath, digests); err != nil {
			return err
		}
		e.saveCaptured(caseNumber, led)

		audit.Record("baseline_hash", sourcePath, caseNumber, audit.OutcomeSuccess,
			fmt.Sprintf("%d bytes, %d algorithms", read, len(digests)))
		e.publish(EventEvidenceHashed, caseNumber, map[string]interface{}{
			"source_path": sourcePath,
			"digests":     digests,
		})
		return nil
	})
	if err != nil {
		e.mu.Lock()
		delete(e.hashing, sourcePath)
		e.mu.Unlock()
		e.logger.Warn().Err(err).Str("source", sourcePath).Msg("could not schedule baseline hash")
	}
}

// AddDigest records an externally computed digest (an acquisition
// worksheet, a vendor manifest) for an evidence item. Existing digests
// are immutable; conflicts are refused.
func (e *Engine) AddDigest(sourcePath, algorithm, value string) error {
	const op = "add_digest"

	e.mu.Lock()
	caseNumber, cerr := e.requireCaseLocked(op)
	if cerr != nil {
		e.mu.Unlock()
		return cerr
	}
	if err := e.ledger.AddDigest(sourcePath, algorithm, value); err != nil {
		e.mu.Unlock()
		audit.Record(op, sourcePath, caseNumber, audit.OutcomeFailure, err.Error())
		return err
	}
	saveErr := e.saveLocked()
	e.mu.Unlock()

	if saveErr != nil {
		return saveErr
	}
	audit.Record(op, sourcePath, caseNumber, audit.OutcomeSuccess, algorithm)
	return nil
}

// VerifyEvidence recomputes an item's digests and compares them to the
// recorded baselines. MISMATCH means the bytes changed since acquisition
// and is surfaced on the record, in the audit trail and to subscribers.
func (e *Engine) VerifyEvidence(ctx context.Context, sourcePath string) (models.VerificationResult, error) {
	const op = "verify_evidence"

	e.mu.RLock()
	caseNumber, cerr := e.requireCaseLocked(op)
	led := e.ledger
	e.mu.RUnlock()
	if cerr != nil {
		return "", cerr
	}

	result, err := led.Verify(ctx, sourcePath)
	if err != nil {
		audit.Record(op, sourcePath, caseNumber, audit.OutcomeFailure, err.Error())
		return "", err
	}
	e.metrics.RecordVerification(string(result))

	outcome := audit.OutcomeSuccess
	if result != models.VerifyMatch {
		outcome = audit.OutcomeFailure
	}
	audit.Record(op, sourcePath, caseNumber, outcome, "result="+string(result))

	e.saveCaptured(caseNumber, led)
	e.publish(EventEvidenceVerified, caseNumber, map[string]interface{}{
		"source_path": sourcePath,
		"result":      result,
	})
	return result, nil
}

// scheduleVerify runs VerifyEvidence on the worker pool, used by
// reconciliation when a mount comes back and its evidence has not been
// checked this session.
func (e *Engine) scheduleVerify(caseNumber, sourcePath string) {
	jobName := "verify " + filepath.Base(sourcePath)
	_, err := e.pool.Submit(jobName, func(ctx context.Context) error {
		e.metrics.IncActiveJobs()
		defer e.metrics.DecActiveJobs()

		_, err := e.VerifyEvidence(ctx, sourcePath)
		return err
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("source", sourcePath).Msg("could not schedule verification")
	}
}

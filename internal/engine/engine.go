// Package engine coordinates the case store, evidence ledger, mount
// manager and reconciler behind one facade. It owns the active case: all
// mutations flow through here so persistence, auditing and event
// notifications stay consistent with each other.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/custodian-dfir/custodian/internal/casestore"
	internalerrors "github.com/custodian-dfir/custodian/internal/errors"
	"github.com/custodian-dfir/custodian/internal/evidence"
	"github.com/custodian-dfir/custodian/internal/hasher"
	"github.com/custodian-dfir/custodian/internal/metrics"
	"github.com/custodian-dfir/custodian/internal/models"
	"github.com/custodian-dfir/custodian/internal/mountmgr"
	"github.com/custodian-dfir/custodian/internal/mountprobe"
	"github.com/custodian-dfir/custodian/internal/reconcile"
	"github.com/custodian-dfir/custodian/internal/workers"
	"github.com/custodian-dfir/custodian/pkg/audit"
)

// Config wires the engine's collaborators.
type Config struct {
	Store   *casestore.Store
	Manager *mountmgr.Manager
	Prober  mountprobe.Prober
	Pool    *workers.Pool
	Logger  zerolog.Logger

	// HashAlgorithms computed for new evidence. Defaults to the standard
	// trio when empty.
	HashAlgorithms []string

	// AutoRemount makes reconciliation passes try to re-establish
	// missing mounts by default.
	AutoRemount bool
}

// Engine is the single writer for the active case. Reads hand out clones;
// long-running work (hashing, verification) runs on the worker pool
// against the ledger, which has its own locking.
type Engine struct {
	store      *casestore.Store
	manager    *mountmgr.Manager
	reconciler *reconcile.Reconciler
	pool       *workers.Pool
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	notifier   notifier

	hashAlgorithms []string
	autoRemount    bool

	mu      sync.RWMutex
	current *models.Case
	ledger  *evidence.Ledger
	hashing map[string]bool // source paths with an initial hash in flight
}

// New assembles an engine from its collaborators.
func New(cfg Config) *Engine {
	algorithms := cfg.HashAlgorithms
	if len(algorithms) == 0 {
		algorithms = hasher.DefaultAlgorithms()
	}
	e := &Engine{
		store:          cfg.Store,
		manager:        cfg.Manager,
		pool:           cfg.Pool,
		logger:         cfg.Logger,
		metrics:        metrics.Get(),
		hashAlgorithms: algorithms,
		autoRemount:    cfg.AutoRemount,
		hashing:        make(map[string]bool),
	}
	e.reconciler = reconcile.New(cfg.Prober, cfg.Manager, cfg.Logger)
	return e
}

// Subscribe registers a listener for engine events.
func (e *Engine) Subscribe(fn func(Event)) {
	e.notifier.Subscribe(fn)
}

// CreateCase creates and persists a new case, which becomes the active
// case.
func (e *Engine) CreateCase(meta models.CaseMetadata) (*models.Case, error) {
	const op = "create_case"

	c, err := e.store.CreateCase(meta)
	e.metrics.RecordCaseOp(op, err)
	if err != nil {
		audit.Record(op, meta.CaseNumber, meta.CaseNumber, audit.OutcomeFailure, err.Error())
		return nil, err
	}
	audit.Record(op, c.CaseNumber, c.CaseNumber, audit.OutcomeSuccess, "")

	e.mu.Lock()
	if e.current != nil {
		if err := e.saveLocked(); err != nil {
			e.logger.Error().Err(err).
				Str("case_number", e.current.CaseNumber).
				Msg("failed to save case while switching")
		}
	}
	e.setCurrentLocked(c)
	e.mu.Unlock()

	e.publish(EventCaseOpened, c.CaseNumber, c.Summary())
	return c.Clone(), nil
}

// OpenCase loads a case from disk and makes it the active case. A
// previously active case is saved first. Every mount record comes back
// STALE; run Reconcile to resolve them against the live mount table.
func (e *Engine) OpenCase(caseNumber string) (*models.Case, error) {
	const op = "open_case"

	c, err := e.store.LoadCase(caseNumber)
	e.metrics.RecordCaseOp(op, err)
	if err != nil {
		audit.Record(op, caseNumber, caseNumber, audit.OutcomeFailure, err.Error())
		return nil, err
	}

	e.mu.Lock()
	if e.current != nil && e.current.CaseNumber != c.CaseNumber {
		if err := e.saveLocked(); err != nil {
			e.logger.Error().Err(err).
				Str("case_number", e.current.CaseNumber).
				Msg("failed to save case while switching")
		}
	}
	e.setCurrentLocked(c)
	e.mu.Unlock()

	audit.Record(op, caseNumber, caseNumber, audit.OutcomeSuccess, "")
	e.publish(EventCaseOpened, c.CaseNumber, c.Summary())

	// Evidence without digests means an earlier baseline hash never
	// finished. Pick it up again.
	for i := range c.Evidence {
		if len(c.Evidence[i].Digests) == 0 {
			e.scheduleInitialHash(c.CaseNumber, c.Evidence[i].SourcePath)
		}
	}
	return c.Clone(), nil
}

// setCurrentLocked installs a case as active with a fresh ledger. Callers
// hold e.mu.
func (e *Engine) setCurrentLocked(c *models.Case) {
	e.current = c
	e.ledger = evidence.NewLedger(e.logger)
	e.ledger.Load(c.Evidence)
	e.hashing = make(map[string]bool)
}

// ActiveCase returns a clone of the active case, or nil when none is
// open. The clone carries the ledger's current view of the evidence.
func (e *Engine) ActiveCase() *models.Case {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return nil
	}
	out := e.current.Clone()
	out.Evidence = e.ledger.Snapshot()
	return out
}

// Save persists the active case.
func (e *Engine) Save() error {
	const op = "save_case"

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return internalerrors.Validationf(op, "", "no active case")
	}
	err := e.saveLocked()
	e.metrics.RecordCaseOp(op, err)
	if err != nil {
		audit.Record(op, e.current.CaseNumber, e.current.CaseNumber, audit.OutcomeFailure, err.Error())
		return err
	}
	return nil
}

// saveLocked syncs the ledger into the case record and writes it out.
// Callers hold e.mu.
func (e *Engine) saveLocked() error {
	e.current.Evidence = e.ledger.Snapshot()
	if err := e.store.SaveCase(e.current); err != nil {
		return err
	}
	e.publish(EventCaseSaved, e.current.CaseNumber, e.current.Summary())
	return nil
}

// saveCaptured persists the case the job was started for, skipping the
// write if the operator has since switched cases. The captured ledger
// identifies the session the job belongs to.
func (e *Engine) saveCaptured(caseNumber string, led *evidence.Ledger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.ledger != led || e.current.CaseNumber != caseNumber {
		e.logger.Debug().Str("case_number", caseNumber).Msg("case switched before background save, skipping")
		return
	}
	if err := e.saveLocked(); err != nil {
		e.logger.Error().Err(err).Str("case_number", caseNumber).Msg("background save failed")
	}
}

// NotifyRecordChanged reacts to a case record changing on disk. The
// engine's own saves are recognized by checksum and ignored. An external
// edit is never merged into the active case automatically: the record on
// disk may be missing digests that are still being computed here.
// Subscribers get the event and the operator decides whether to re-open.
func (e *Engine) NotifyRecordChanged(caseNumber string) {
	if e.store.RecordMatchesLastWrite(caseNumber) {
		return
	}

	e.mu.RLock()
	active := e.current != nil && e.current.CaseNumber == caseNumber
	e.mu.RUnlock()

	if active {
		e.logger.Warn().
			Str("case_number", caseNumber).
			Msg("active case record changed on disk outside this session")
	} else {
		e.logger.Debug().
			Str("case_number", caseNumber).
			Msg("case record changed on disk")
	}
	e.publish(EventCaseChangedOnDisk, caseNumber, map[string]bool{"active": active})
}

// ListCases returns case summaries matching the wildcard pattern.
func (e *Engine) ListCases(pattern string) ([]models.CaseSummary, error) {
	return e.store.ListCases(pattern)
}

// Store exposes the underlying case store for read-only consumers.
func (e *Engine) Store() *casestore.Store {
	return e.store
}

// requireCase returns the active case number or a validation error.
// Callers hold e.mu in read or write mode.
func (e *Engine) requireCaseLocked(op string) (string, error) {
	if e.current == nil {
		return "", internalerrors.Validationf(op, "", "no active case")
	}
	return e.current.CaseNumber, nil
}

// Shutdown saves the active case and drains the worker pool. Mounts are
// left in place: evidence stays accessible across engine restarts and the
// next session reconciles them.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.pool.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	err := e.saveLocked()
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to save active case during shutdown")
	} else {
		e.logger.Info().Str("case_number", e.current.CaseNumber).Msg("active case saved on shutdown")
	}
	return err
}

func (e *Engine) publish(t EventType, caseNumber string, data interface{}) {
	e.notifier.publish(Event{
		Type:       t,
		CaseNumber: caseNumber,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	})
}

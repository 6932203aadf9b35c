package evidence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	internalerrors "github.com/custodian-dfir/custodian/internal/errors"
	"github.com/custodian-dfir/custodian/internal/hasher"
	"github.com/custodian-dfir/custodian/internal/models"
)

// Function variable for testing
var hashFile = hasher.File

// Ledger tracks evidence items and their integrity digests for one loaded
// case. Digests are append-only per (item, algorithm) pair; verification
// compares, never rewrites. Concurrent verifies of the same source path
// share a single hash computation.
type Ledger struct {
	mu    sync.RWMutex
	items map[string]*models.EvidenceItem
	order []string // insertion order, keeps persisted records stable

	group    singleflight.Group
	verified map[string]bool // source paths with a definitive result this session

	logger zerolog.Logger
}

// NewLedger returns an empty ledger.
func NewLedger(logger zerolog.Logger) *Ledger {
	return &Ledger{
		items:    make(map[string]*models.EvidenceItem),
		verified: make(map[string]bool),
		logger:   logger,
	}
}

// Load replaces the ledger contents with a case's persisted items. The
// session verification set resets: nothing is trusted until re-verified.
func (l *Ledger) Load(items []models.EvidenceItem) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = make(map[string]*models.EvidenceItem, len(items))
	l.order = l.order[:0]
	l.verified = make(map[string]bool)
	for i := range items {
		item := items[i].Clone()
		if item.Digests == nil {
			item.Digests = make(map[string]string)
		}
		if _, dup := l.items[item.SourcePath]; dup {
			continue
		}
		l.items[item.SourcePath] = &item
		l.order = append(l.order, item.SourcePath)
	}
}

// Snapshot returns the items in insertion order, deep-copied.
func (l *Ledger) Snapshot() []models.EvidenceItem {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.EvidenceItem, 0, len(l.order))
	for _, source := range l.order {
		out = append(out, l.items[source].Clone())
	}
	return out
}

// Record adds a new evidence item. Duplicate source paths are rejected;
// the source path is an item's identity.
func (l *Ledger) Record(item models.EvidenceItem) error {
	const op = "record_evidence"

	if item.SourcePath == "" {
		return internalerrors.Validationf(op, "", "source path: required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.items[item.SourcePath]; exists {
		return internalerrors.DuplicateEvidence(op, item.SourcePath)
	}

	stored := item.Clone()
	if stored.Digests == nil {
		stored.Digests = make(map[string]string)
	}
	if stored.AcquiredAt.IsZero() {
		stored.AcquiredAt = time.Now().UTC()
	}
	l.items[stored.SourcePath] = &stored
	l.order = append(l.order, stored.SourcePath)
	return nil
}

// Get returns a copy of the item for a source path.
func (l *Ledger) Get(sourcePath string) (models.EvidenceItem, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	item, ok := l.items[sourcePath]
	if !ok {
		return models.EvidenceItem{}, false
	}
	return item.Clone(), true
}

// AddDigest records a digest for an algorithm. Recording the identical
// value again is a no-op; recording a different value for an existing
// algorithm is refused, since recorded digests are immutable.
func (l *Ledger) AddDigest(sourcePath, algorithm, value string) error {
	const op = "add_digest"

	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[sourcePath]
	if !ok {
		return internalerrors.NotFound(op, sourcePath)
	}
	if existing, recorded := item.Digests[algorithm]; recorded {
		if existing == value {
			return nil
		}
		return internalerrors.Validationf(op, sourcePath,
			"digest %s already recorded; refusing to overwrite", algorithm)
	}
	item.Digests[algorithm] = value
	return nil
}

// SetDigests applies a batch of freshly computed digests, typically the
// output of the initial background hash after a mount. Same append-only
// rules as AddDigest; the batch is applied atomically or not at all.
func (l *Ledger) SetDigests(sourcePath string, digests map[string]string) error {
	const op = "add_digest"

	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[sourcePath]
	if !ok {
		return internalerrors.NotFound(op, sourcePath)
	}
	for alg, value := range digests {
		if existing, recorded := item.Digests[alg]; recorded && existing != value {
			return internalerrors.Validationf(op, sourcePath,
				"digest %s already recorded; refusing to overwrite", alg)
		}
	}
	for alg, value := range digests {
		item.Digests[alg] = value
	}
	return nil
}

// Verify recomputes every recorded digest for the item in one pass and
// compares. A mismatch signals a potential custody break and is never
// re-baselined. An unreachable backing file is the UNREADABLE result, not
// an error; cancellation is an error and records nothing.
func (l *Ledger) Verify(ctx context.Context, sourcePath string) (models.VerificationResult, error) {
	const op = "verify_evidence"

	l.mu.RLock()
	item, ok := l.items[sourcePath]
	var recorded map[string]string
	if ok {
		recorded = make(map[string]string, len(item.Digests))
		for alg, hex := range item.Digests {
			// Externally recorded digests under algorithms we cannot
			// compute stay on the record but are skipped here.
			if hasher.Supported(alg) {
				recorded[alg] = hex
			}
		}
	}
	l.mu.RUnlock()

	if !ok {
		return "", internalerrors.NotFound(op, sourcePath)
	}
	if len(recorded) == 0 {
		return "", internalerrors.Validationf(op, sourcePath, "no verifiable digests recorded yet")
	}

	v, err, _ := l.group.Do(sourcePath, func() (interface{}, error) {
		fresh, _, err := hashFile(ctx, sourcePath, hasher.Algorithms(recorded), nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.logger.Warn().Err(err).Str("source", sourcePath).Msg("evidence unreadable during verification")
			return models.VerifyUnreadable, nil
		}
		for alg, want := range recorded {
			if fresh[alg] != want {
				l.logger.Error().
					Str("source", sourcePath).
					Str("algorithm", alg).
					Str("recorded", want).
					Str("computed", fresh[alg]).
					Msg("evidence digest mismatch")
				return models.VerifyMismatch, nil
			}
		}
		return models.VerifyMatch, nil
	})
	if err != nil {
		return "", err
	}
	result := v.(models.VerificationResult)

	l.recordOutcome(sourcePath, result)
	return result, nil
}

func (l *Ledger) recordOutcome(sourcePath string, result models.VerificationResult) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[sourcePath]
	if !ok {
		return
	}
	now := time.Now().UTC()
	item.LastVerifiedAt = &now
	item.LastVerification = result

	// UNREADABLE is inconclusive: nothing was compared, so the item
	// still needs a verification once its backing file is reachable.
	if result != models.VerifyUnreadable {
		l.verified[sourcePath] = true
	}
}

// VerifiedThisSession reports whether a definitive verification (match
// or mismatch) has completed for the source path since Load.
func (l *Ledger) VerifiedThisSession(sourcePath string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verified[sourcePath]
}

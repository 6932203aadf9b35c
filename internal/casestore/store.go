package casestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/rs/zerolog"

	internalerrors "github.com/custodian-dfir/custodian/internal/errors"
	"github.com/custodian-dfir/custodian/internal/models"
)

const (
	caseFileName   = "case.json"
	checksumSuffix = ".sha256"

	caseFilePerm = 0o600
	caseDirPerm  = 0o755

	stagingPrefix = ".staging-"
)

// caseSubdirs is the working layout created inside every case directory.
var caseSubdirs = []string{"evidence", "exports", "notes", "reports"}

// Store persists case records under a single root directory, one
// subdirectory per case. All writes are atomic: a reader never sees a
// half-written case.json.
type Store struct {
	root   string
	logger zerolog.Logger

	mu          sync.Mutex
	saveLocks   map[string]*sync.Mutex // per case directory
	lastWritten map[string]string      // case directory -> checksum of last record written
}

// NewStore opens (creating if needed) the store root. An unusable root is
// fatal: nothing can be persisted without it.
func NewStore(root string, logger zerolog.Logger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, internalerrors.StoreRootUnavailable(root, err)
	}
	if err := os.MkdirAll(abs, caseDirPerm); err != nil {
		return nil, internalerrors.StoreRootUnavailable(abs, err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", abs)
		}
		return nil, internalerrors.StoreRootUnavailable(abs, err)
	}
	return &Store{
		root:        abs,
		logger:      logger,
		saveLocks:   make(map[string]*sync.Mutex),
		lastWritten: make(map[string]string),
	}, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string {
	return s.root
}

// CasePath returns the directory a case number maps to.
func (s *Store) CasePath(caseNumber string) (string, error) {
	dir, err := caseDirName(caseNumber)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, dir), nil
}

// caseDirName maps a case number to its directory name. Case numbers
// become directory names verbatim, so anything that would escape the
// store root or hide the directory from listings is refused outright.
func caseDirName(caseNumber string) (string, error) {
	const op = "case_path"

	trimmed := strings.TrimSpace(caseNumber)
	if trimmed == "" {
		return "", internalerrors.Validationf(op, caseNumber, "case number: required")
	}
	if strings.ContainsAny(trimmed, `/\`) {
		return "", internalerrors.Validationf(op, caseNumber, "case number: must not contain path separators")
	}
	if strings.HasPrefix(trimmed, ".") {
		return "", internalerrors.Validationf(op, caseNumber, "case number: must not begin with a dot")
	}
	for _, r := range trimmed {
		if r < 0x20 || r == 0x7F {
			return "", internalerrors.Validationf(op, caseNumber, "case number: contains control characters")
		}
	}
	return trimmed, nil
}

// CreateCase materializes a new case directory with its working layout and
// initial record. Creation is all or nothing: the directory is staged
// under a hidden name and renamed into place only once every file inside
// it has been written, so a failed create leaves no partial case behind.
func (s *Store) CreateCase(meta models.CaseMetadata) (*models.Case, error) {
	const op = "create_case"

	if err := meta.Validate(); err != nil {
		return nil, internalerrors.Validationf(op, meta.CaseNumber, "%s", err.Error())
	}

	casePath, err := s.CasePath(meta.CaseNumber)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(casePath); err == nil {
		return nil, internalerrors.DuplicateCase(op, meta.CaseNumber)
	} else if !os.IsNotExist(err) {
		return nil, internalerrors.Persistence(op, casePath, err)
	}

	c := &models.Case{
		SchemaVersion: models.SchemaVersion,
		CaseName:      meta.CaseName,
		CaseNumber:    meta.CaseNumber,
		Investigator:  meta.Investigator,
		Description:   meta.Description,
		CreatedAt:     time.Now().UTC(),
		Evidence:      []models.EvidenceItem{},
		Mounts:        []models.MountRecord{},
		Path:          casePath,
	}

	data, err := marshalCase(c)
	if err != nil {
		return nil, internalerrors.Persistence(op, casePath, err)
	}

	staging := filepath.Join(s.root, fmt.Sprintf("%s%s-%d-%d",
		stagingPrefix, filepath.Base(casePath), os.Getpid(), time.Now().UnixNano()))

	if err := s.populateCaseDir(staging, data); err != nil {
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			s.logger.Warn().Err(rmErr).Str("staging", staging).Msg("failed to clean up staging directory")
		}
		return nil, internalerrors.Persistence(op, casePath, err)
	}

	if err := os.Rename(staging, casePath); err != nil {
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			s.logger.Warn().Err(rmErr).Str("staging", staging).Msg("failed to clean up staging directory")
		}
		// A concurrent create may have won the rename.
		if _, statErr := os.Stat(casePath); statErr == nil {
			return nil, internalerrors.DuplicateCase(op, meta.CaseNumber)
		}
		return nil, internalerrors.Persistence(op, casePath, err)
	}
	if err := syncDir(s.root); err != nil {
		s.logger.Warn().Err(err).Str("dir", s.root).Msg("failed to sync store root")
	}
	s.rememberWrite(casePath, data)

	s.logger.Info().
		Str("case_number", c.CaseNumber).
		Str("path", casePath).
		Msg("case created")
	return c, nil
}

func (s *Store) populateCaseDir(dir string, record []byte) error {
	if err := os.MkdirAll(dir, caseDirPerm); err != nil {
		return err
	}
	for _, sub := range caseSubdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), caseDirPerm); err != nil {
			return err
		}
	}
	if err := writeFileSynced(filepath.Join(dir, caseFileName), record, caseFilePerm); err != nil {
		return err
	}
	if err := writeFileSynced(filepath.Join(dir, caseFileName+checksumSuffix), checksumLine(record), caseFilePerm); err != nil {
		return err
	}
	return syncDir(dir)
}

// LoadCase reads a case record back from disk. A case directory that
// exists but cannot produce a valid record is reported as corrupt rather
// than missing, so the operator knows there is something to recover.
func (s *Store) LoadCase(caseNumber string) (*models.Case, error) {
	const op = "load_case"

	casePath, err := s.CasePath(caseNumber)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(casePath); err != nil {
		if os.IsNotExist(err) {
			return nil, internalerrors.NotFound(op, caseNumber)
		}
		return nil, internalerrors.Persistence(op, casePath, err)
	} else if !info.IsDir() {
		return nil, internalerrors.CorruptCase(op, caseNumber, fmt.Errorf("%s is not a directory", casePath))
	}

	c, err := s.readCaseRecord(casePath)
	if err != nil {
		return nil, err
	}
	if c.CaseNumber != caseNumber {
		return nil, internalerrors.CorruptCase(op, caseNumber,
			fmt.Errorf("record claims case number %q", c.CaseNumber))
	}
	return c, nil
}

// readCaseRecord parses and validates the case.json inside a case
// directory. Used by both LoadCase and the lazy listing.
func (s *Store) readCaseRecord(casePath string) (*models.Case, error) {
	const op = "load_case"

	recordPath := filepath.Join(casePath, caseFileName)
	data, err := os.ReadFile(recordPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, internalerrors.CorruptCase(op, casePath, fmt.Errorf("case record missing: %w", err))
		}
		return nil, internalerrors.Persistence(op, recordPath, err)
	}

	if err := s.verifyChecksum(recordPath, data); err != nil {
		return nil, internalerrors.CorruptCase(op, casePath, err)
	}

	var c models.Case
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, internalerrors.CorruptCase(op, casePath, fmt.Errorf("malformed case record: %w", err))
	}
	if err := validateRecord(&c); err != nil {
		return nil, internalerrors.CorruptCase(op, casePath, err)
	}

	// Persisted mount state is a claim, not a fact. Every mount comes
	// back STALE until a reconciliation pass checks it against the live
	// mount table.
	for i := range c.Mounts {
		c.Mounts[i].Status = models.MountStale
	}
	for i := range c.Evidence {
		if c.Evidence[i].Digests == nil {
			c.Evidence[i].Digests = make(map[string]string)
		}
	}

	c.Path = casePath
	return &c, nil
}

// verifyChecksum compares case.json against its sha256 sidecar. A missing
// sidecar is tolerated (records written by hand or by older versions); a
// present sidecar that disagrees is corruption.
func (s *Store) verifyChecksum(recordPath string, data []byte) error {
	sidecar := recordPath + checksumSuffix
	raw, err := os.ReadFile(sidecar)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug().Str("path", sidecar).Msg("checksum sidecar missing, skipping verification")
			return nil
		}
		return fmt.Errorf("read checksum sidecar: %w", err)
	}

	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return stderrors.New("checksum sidecar is empty")
	}
	want := strings.ToLower(fields[0])

	got := checksumHex(data)
	if got != want {
		return fmt.Errorf("case record checksum mismatch: recorded %s, computed %s", want, got)
	}
	return nil
}

func validateRecord(c *models.Case) error {
	if c.SchemaVersion > models.SchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", c.SchemaVersion, models.SchemaVersion)
	}
	if c.SchemaVersion == 0 {
		// Records from before versioning. Everything else must still hold.
		c.SchemaVersion = models.SchemaVersion
	}
	if strings.TrimSpace(c.CaseNumber) == "" {
		return stderrors.New("case record has no case number")
	}
	if strings.TrimSpace(c.CaseName) == "" {
		return stderrors.New("case record has no case name")
	}
	if c.CreatedAt.IsZero() {
		return stderrors.New("case record has no creation time")
	}
	return nil
}

// SaveCase atomically replaces a case's record on disk. Concurrent saves
// of the same case are serialized; the last completed write wins. The
// previous record survives any failure.
func (s *Store) SaveCase(c *models.Case) error {
	const op = "save_case"

	if c == nil {
		return internalerrors.Validationf(op, "", "nil case")
	}
	casePath := c.Path
	if casePath == "" {
		p, err := s.CasePath(c.CaseNumber)
		if err != nil {
			return err
		}
		casePath = p
	}
	if info, err := os.Stat(casePath); err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", casePath)
		}
		return internalerrors.NotFound(op, c.CaseNumber)
	}

	unlock := s.lockCase(casePath)
	defer unlock()

	data, err := marshalCase(c)
	if err != nil {
		return internalerrors.Persistence(op, casePath, err)
	}

	recordPath := filepath.Join(casePath, caseFileName)
	if err := replaceFileSynced(recordPath, data); err != nil {
		return internalerrors.Persistence(op, recordPath, err)
	}
	if err := replaceFileSynced(recordPath+checksumSuffix, checksumLine(data)); err != nil {
		return internalerrors.Persistence(op, recordPath+checksumSuffix, err)
	}
	if err := syncDir(casePath); err != nil {
		s.logger.Warn().Err(err).Str("dir", casePath).Msg("failed to sync case directory")
	}
	s.rememberWrite(casePath, data)

	s.logger.Debug().
		Str("case_number", c.CaseNumber).
		Int("evidence", len(c.Evidence)).
		Int("mounts", len(c.Mounts)).
		Msg("case saved")
	return nil
}

// rememberWrite keeps the checksum of the record bytes last written for a
// case, so a change notification can be traced back to this store's own
// save instead of an external edit.
func (s *Store) rememberWrite(casePath string, record []byte) {
	s.mu.Lock()
	s.lastWritten[casePath] = checksumHex(record)
	s.mu.Unlock()
}

// RecordMatchesLastWrite reports whether the case record on disk still
// holds the bytes this store last wrote for it. False for cases this
// store has never written in this process.
func (s *Store) RecordMatchesLastWrite(caseNumber string) bool {
	casePath, err := s.CasePath(caseNumber)
	if err != nil {
		return false
	}
	s.mu.Lock()
	want, ok := s.lastWritten[casePath]
	s.mu.Unlock()
	if !ok {
		return false
	}
	data, err := os.ReadFile(filepath.Join(casePath, caseFileName))
	if err != nil {
		return false
	}
	return checksumHex(data) == want
}

func (s *Store) lockCase(casePath string) func() {
	s.mu.Lock()
	lock, ok := s.saveLocks[casePath]
	if !ok {
		lock = &sync.Mutex{}
		s.saveLocks[casePath] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Cases iterates over every case directory under the root, yielding a
// summary per case. Records are read one at a time; corrupt or unreadable
// entries yield an error and iteration continues. Nothing is yielded for
// non-case files or hidden directories.
func (s *Store) Cases() iter.Seq2[models.CaseSummary, error] {
	return func(yield func(models.CaseSummary, error) bool) {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			yield(models.CaseSummary{}, internalerrors.StoreRootUnavailable(s.root, err))
			return
		}
		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			casePath := filepath.Join(s.root, entry.Name())
			if _, statErr := os.Stat(filepath.Join(casePath, caseFileName)); statErr != nil {
				if stderrors.Is(statErr, fs.ErrNotExist) {
					// Not a case directory. Stay quiet about it.
					continue
				}
				if !yield(models.CaseSummary{}, internalerrors.Persistence("list_cases", casePath, statErr)) {
					return
				}
				continue
			}
			c, loadErr := s.readCaseRecord(casePath)
			if loadErr != nil {
				if !yield(models.CaseSummary{}, loadErr) {
					return
				}
				continue
			}
			if !yield(c.Summary(), nil) {
				return
			}
		}
	}
}

// ListCases returns summaries for cases whose number or name matches the
// wildcard pattern, newest first. An empty pattern matches everything.
// Corrupt entries are logged and skipped rather than failing the listing.
func (s *Store) ListCases(pattern string) ([]models.CaseSummary, error) {
	var out []models.CaseSummary
	for summary, err := range s.Cases() {
		if err != nil {
			if !internalerrors.IsRecoverable(err) {
				return nil, err
			}
			s.logger.Warn().Err(err).Msg("skipping unreadable case during listing")
			continue
		}
		if pattern != "" && !wildcard.Match(pattern, summary.CaseNumber) && !wildcard.Match(pattern, summary.CaseName) {
			continue
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CaseNumber < out[j].CaseNumber
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func marshalCase(c *models.Case) ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func checksumHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func checksumLine(data []byte) []byte {
	return []byte(checksumHex(data) + "  " + caseFileName + "\n")
}

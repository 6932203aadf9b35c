package casestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/custodian-dfir/custodian/internal/errors"
	"github.com/custodian-dfir/custodian/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return store
}

func testMetadata(number string) models.CaseMetadata {
	return models.CaseMetadata{
		CaseName:     "Laptop Intrusion",
		CaseNumber:   number,
		Investigator: "J. Moreau",
		Description:  "Suspected lateral movement from workstation",
	}
}

func TestCreateCaseLayout(t *testing.T) {
	store := testStore(t)

	c, err := store.CreateCase(testMetadata("INV-2024-001"))
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, models.SchemaVersion, c.SchemaVersion)
	assert.Equal(t, "INV-2024-001", c.CaseNumber)
	assert.NotEmpty(t, c.Path)
	assert.False(t, c.CreatedAt.IsZero())
	assert.NotNil(t, c.Evidence)
	assert.NotNil(t, c.Mounts)

	for _, sub := range []string{"evidence", "exports", "notes", "reports"} {
		info, err := os.Stat(filepath.Join(c.Path, sub))
		require.NoError(t, err, "missing working directory %s", sub)
		assert.True(t, info.IsDir())
	}

	_, err = os.Stat(filepath.Join(c.Path, "case.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(c.Path, "case.json.sha256"))
	require.NoError(t, err)

	// No staging leftovers.
	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, entry.Name() != "INV-2024-001" && entry.IsDir(), "unexpected directory %s", entry.Name())
	}
}

func TestCreateCaseDuplicate(t *testing.T) {
	store := testStore(t)

	_, err := store.CreateCase(testMetadata("INV-2024-001"))
	require.NoError(t, err)

	_, err = store.CreateCase(testMetadata("INV-2024-001"))
	require.Error(t, err)
	assert.ErrorIs(t, err, internalerrors.ErrDuplicateCase)
}

func TestCreateCaseValidation(t *testing.T) {
	store := testStore(t)

	tests := []struct {
		name string
		meta models.CaseMetadata
	}{
		{"missing name", models.CaseMetadata{CaseNumber: "INV-1", Investigator: "X"}},
		{"missing number", models.CaseMetadata{CaseName: "A", Investigator: "X"}},
		{"missing investigator", models.CaseMetadata{CaseName: "A", CaseNumber: "INV-1"}},
		{"separator in number", models.CaseMetadata{CaseName: "A", CaseNumber: "2024/001", Investigator: "X"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.CreateCase(tt.meta)
			require.Error(t, err)
			assert.ErrorIs(t, err, internalerrors.ErrValidation)
		})
	}
}

func TestCaseDirNameRejectsEscapes(t *testing.T) {
	for _, bad := range []string{"", "  ", "../escape", `..\escape`, ".hidden", "evil\x00case", "a/b"} {
		_, err := caseDirName(bad)
		assert.Error(t, err, "case number %q must be rejected", bad)
	}

	dir, err := caseDirName("INV-2024-001")
	require.NoError(t, err)
	assert.Equal(t, "INV-2024-001", dir)
}

func TestCreateLoadRoundTrip(t *testing.T) {
	store := testStore(t)

	created, err := store.CreateCase(testMetadata("INV-2024-007"))
	require.NoError(t, err)

	created.Evidence = append(created.Evidence, models.EvidenceItem{
		SourcePath: "/evidence/laptop.dd",
		Type:       models.EvidenceDiskImage,
		SizeBytes:  4096,
		AcquiredAt: time.Now().UTC().Truncate(time.Second),
		Digests:    map[string]string{"sha256": "aabb"},
	})
	created.Mounts = append(created.Mounts, models.MountRecord{
		ImagePath:  "/evidence/laptop.dd",
		Offset:     1048576,
		FSType:     "ntfs",
		MountPoint: "/mnt/laptop",
		ReadOnly:   true,
		Status:     models.MountActive,
		MountedAt:  time.Now().UTC().Truncate(time.Second),
	})
	require.NoError(t, store.SaveCase(created))

	loaded, err := store.LoadCase("INV-2024-007")
	require.NoError(t, err)

	assert.Equal(t, created.CaseName, loaded.CaseName)
	assert.Equal(t, created.CaseNumber, loaded.CaseNumber)
	assert.Equal(t, created.Investigator, loaded.Investigator)
	assert.Equal(t, created.Description, loaded.Description)
	assert.True(t, created.CreatedAt.Equal(loaded.CreatedAt))
	require.Len(t, loaded.Evidence, 1)
	assert.Equal(t, "aabb", loaded.Evidence[0].Digests["sha256"])
	require.Len(t, loaded.Mounts, 1)
	assert.Equal(t, int64(1048576), loaded.Mounts[0].Offset)

	// Persisted mount state is unverified until reconciled.
	assert.Equal(t, models.MountStale, loaded.Mounts[0].Status)
	assert.Equal(t, created.Path, loaded.Path)
}

func TestLoadCaseNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.LoadCase("INV-9999-404")
	require.Error(t, err)
	assert.ErrorIs(t, err, internalerrors.ErrNotFound)
}

func TestLoadCaseMalformedRecord(t *testing.T) {
	store := testStore(t)
	c, err := store.CreateCase(testMetadata("INV-2024-002"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(c.Path, "case.json"), []byte("{ not json"), 0o600))
	// Remove the sidecar so the parse failure, not the checksum, is hit.
	require.NoError(t, os.Remove(filepath.Join(c.Path, "case.json.sha256")))

	_, err = store.LoadCase("INV-2024-002")
	require.Error(t, err)
	assert.ErrorIs(t, err, internalerrors.ErrCorruptCase)
}

func TestLoadCaseChecksumMismatch(t *testing.T) {
	store := testStore(t)
	c, err := store.CreateCase(testMetadata("INV-2024-003"))
	require.NoError(t, err)

	// Valid JSON, but it no longer matches the recorded checksum.
	record := filepath.Join(c.Path, "case.json")
	data, err := os.ReadFile(record)
	require.NoError(t, err)
	tampered := append([]byte(nil), data...)
	tampered[len(tampered)-2] = ' '
	require.NoError(t, os.WriteFile(record, tampered, 0o600))

	_, err = store.LoadCase("INV-2024-003")
	require.Error(t, err)
	assert.ErrorIs(t, err, internalerrors.ErrCorruptCase)
}

func TestLoadCaseToleratesMissingChecksum(t *testing.T) {
	store := testStore(t)
	c, err := store.CreateCase(testMetadata("INV-2024-004"))
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(c.Path, "case.json.sha256")))

	loaded, err := store.LoadCase("INV-2024-004")
	require.NoError(t, err)
	assert.Equal(t, "INV-2024-004", loaded.CaseNumber)
}

func TestLoadCaseFutureSchemaVersion(t *testing.T) {
	store := testStore(t)
	c, err := store.CreateCase(testMetadata("INV-2024-005"))
	require.NoError(t, err)

	c.SchemaVersion = models.SchemaVersion + 1
	require.NoError(t, store.SaveCase(c))

	_, err = store.LoadCase("INV-2024-005")
	require.Error(t, err)
	assert.ErrorIs(t, err, internalerrors.ErrCorruptCase)
}

func TestLoadCaseNumberMismatch(t *testing.T) {
	store := testStore(t)
	c, err := store.CreateCase(testMetadata("INV-2024-006"))
	require.NoError(t, err)

	c.CaseNumber = "SOMETHING-ELSE"
	require.NoError(t, store.SaveCase(c))

	_, err = store.LoadCase("INV-2024-006")
	require.Error(t, err)
	assert.ErrorIs(t, err, internalerrors.ErrCorruptCase)
}

func TestSaveCaseMissingDirectory(t *testing.T) {
	store := testStore(t)

	err := store.SaveCase(&models.Case{
		SchemaVersion: models.SchemaVersion,
		CaseName:      "Ghost",
		CaseNumber:    "INV-0000-000",
		Investigator:  "X",
		CreatedAt:     time.Now().UTC(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, internalerrors.ErrNotFound)
}

func TestSaveCaseKeepsRecordLoadableUnderConcurrency(t *testing.T) {
	store := testStore(t)
	c, err := store.CreateCase(testMetadata("INV-2024-010"))
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clone := c.Clone()
			clone.Description = fmt.Sprintf("revision %d", i)
			assert.NoError(t, store.SaveCase(clone))
		}(i)
	}
	wg.Wait()

	loaded, err := store.LoadCase("INV-2024-010")
	require.NoError(t, err)
	assert.Contains(t, loaded.Description, "revision", "one completed write must win intact")
}

func TestCasesSkipsNonCaseEntries(t *testing.T) {
	store := testStore(t)

	_, err := store.CreateCase(testMetadata("INV-2024-020"))
	require.NoError(t, err)
	_, err = store.CreateCase(testMetadata("INV-2024-021"))
	require.NoError(t, err)

	// Clutter that must not surface: a stray file, a hidden directory,
	// and a directory without a record.
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "README.txt"), []byte("notes"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(store.Root(), ".staging-leftover"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(store.Root(), "lost+found"), 0o755))

	var numbers []string
	for summary, err := range store.Cases() {
		require.NoError(t, err)
		numbers = append(numbers, summary.CaseNumber)
	}
	assert.ElementsMatch(t, []string{"INV-2024-020", "INV-2024-021"}, numbers)
}

func TestCasesContinuesPastCorruptEntry(t *testing.T) {
	store := testStore(t)

	_, err := store.CreateCase(testMetadata("INV-2024-030"))
	require.NoError(t, err)
	broken, err := store.CreateCase(testMetadata("INV-2024-031"))
	require.NoError(t, err)
	_, err = store.CreateCase(testMetadata("INV-2024-032"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(broken.Path, "case.json"), []byte("garbage"), 0o600))

	var good []string
	var failures int
	for summary, err := range store.Cases() {
		if err != nil {
			failures++
			assert.ErrorIs(t, err, internalerrors.ErrCorruptCase)
			continue
		}
		good = append(good, summary.CaseNumber)
	}
	assert.Equal(t, 1, failures)
	assert.ElementsMatch(t, []string{"INV-2024-030", "INV-2024-032"}, good)
}

func TestListCasesPatternAndOrder(t *testing.T) {
	store := testStore(t)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, number := range []string{"INV-2024-100", "INV-2024-101", "AUDIT-2024-001"} {
		c, err := store.CreateCase(models.CaseMetadata{
			CaseName:     "Case " + number,
			CaseNumber:   number,
			Investigator: "J. Moreau",
		})
		require.NoError(t, err)
		c.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.SaveCase(c))
	}

	all, err := store.ListCases("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "AUDIT-2024-001", all[0].CaseNumber, "newest first")

	inv, err := store.ListCases("INV-2024-*")
	require.NoError(t, err)
	require.Len(t, inv, 2)
	assert.Equal(t, "INV-2024-101", inv[0].CaseNumber)
	assert.Equal(t, "INV-2024-100", inv[1].CaseNumber)

	none, err := store.ListCases("MISC-*")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSaveCaseRewritesChecksum(t *testing.T) {
	store := testStore(t)
	c, err := store.CreateCase(testMetadata("INV-2024-040"))
	require.NoError(t, err)

	before, err := os.ReadFile(filepath.Join(c.Path, "case.json.sha256"))
	require.NoError(t, err)

	c.Description = "updated after triage"
	require.NoError(t, store.SaveCase(c))

	after, err := os.ReadFile(filepath.Join(c.Path, "case.json.sha256"))
	require.NoError(t, err)
	assert.NotEqual(t, string(before), string(after))

	// And the record still loads cleanly.
	loaded, err := store.LoadCase("INV-2024-040")
	require.NoError(t, err)
	assert.Equal(t, "updated after triage", loaded.Description)
}

func TestRecordMatchesLastWrite(t *testing.T) {
	store := testStore(t)
	c, err := store.CreateCase(testMetadata("INV-2024-045"))
	require.NoError(t, err)

	// Records this store created or saved trace back to it.
	assert.True(t, store.RecordMatchesLastWrite("INV-2024-045"))

	c.Description = "triage notes"
	require.NoError(t, store.SaveCase(c))
	assert.True(t, store.RecordMatchesLastWrite("INV-2024-045"))

	// An edit by anything else breaks the match.
	record := filepath.Join(c.Path, "case.json")
	data, err := os.ReadFile(record)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(record, append(data, '\n'), 0o600))
	assert.False(t, store.RecordMatchesLastWrite("INV-2024-045"))

	// Cases this store never wrote do not match either.
	assert.False(t, store.RecordMatchesLastWrite("INV-9999-404"))
}

func TestRecordIsValidJSONOnDisk(t *testing.T) {
	store := testStore(t)
	c, err := store.CreateCase(testMetadata("INV-2024-050"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(c.Path, "case.json"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(models.SchemaVersion), decoded["schema_version"])
	assert.Equal(t, "INV-2024-050", decoded["case_number"])
	assert.Contains(t, decoded, "case_name")
	assert.Contains(t, decoded, "investigator")
	assert.Contains(t, decoded, "created_at")
	assert.Contains(t, decoded, "evidence")
	assert.Contains(t, decoded, "mounts")
}

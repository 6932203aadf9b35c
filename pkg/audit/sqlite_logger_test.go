package audit

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewSQLiteLogger(t *testing.T) {
	tempDir := t.TempDir()

	logger, err := NewSQLiteLogger(SQLiteLoggerConfig{
		DataDir:       tempDir,
		RetentionDays: 30,
	})
	if err != nil {
		t.Fatalf("NewSQLiteLogger failed: %v", err)
	}
	defer logger.Close()

	if logger.GetRetentionDays() != 30 {
		t.Errorf("Expected retention days 30, got %d", logger.GetRetentionDays())
	}
}

func TestNewSQLiteLoggerDefaultRetention(t *testing.T) {
	tempDir := t.TempDir()

	logger, err := NewSQLiteLogger(SQLiteLoggerConfig{
		DataDir: tempDir,
		// RetentionDays not set
	})
	if err != nil {
		t.Fatalf("NewSQLiteLogger failed: %v", err)
	}
	defer logger.Close()

	if logger.GetRetentionDays() != 90 {
		t.Errorf("Expected default retention days 90, got %d", logger.GetRetentionDays())
	}
}

func TestSQLiteLoggerRequiresDataDir(t *testing.T) {
	_, err := NewSQLiteLogger(SQLiteLoggerConfig{})
	if err == nil {
		t.Fatal("Expected error for missing data directory")
	}
}

func TestSQLiteLoggerLog(t *testing.T) {
	tempDir := t.TempDir()

	logger, err := NewSQLiteLogger(SQLiteLoggerConfig{
		DataDir:       tempDir,
		RetentionDays: 30,
	})
	if err != nil {
		t.Fatalf("NewSQLiteLogger failed: %v", err)
	}
	defer logger.Close()

	event := Event{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Operation:  "mount",
		Target:     "/evidence/laptop.dd",
		CaseNumber: "INV-2024-001",
		Outcome:    OutcomeSuccess,
		Details:    "mounted at /mnt/laptop",
	}

	if err := logger.Log(event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	events, err := logger.Query(QueryFilter{ID: event.ID})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}

	retrieved := events[0]
	if retrieved.ID != event.ID {
		t.Errorf("ID mismatch: expected %s, got %s", event.ID, retrieved.ID)
	}
	if retrieved.Operation != event.Operation {
		t.Errorf("Operation mismatch: expected %s, got %s", event.Operation, retrieved.Operation)
	}
	if retrieved.Target != event.Target {
		t.Errorf("Target mismatch: expected %s, got %s", event.Target, retrieved.Target)
	}
	if retrieved.CaseNumber != event.CaseNumber {
		t.Errorf("CaseNumber mismatch: expected %s, got %s", event.CaseNumber, retrieved.CaseNumber)
	}
	if retrieved.Outcome != event.Outcome {
		t.Errorf("Outcome mismatch: expected %s, got %s", event.Outcome, retrieved.Outcome)
	}

	// Event should have a signature
	if retrieved.Signature == "" {
		t.Error("Expected event to have a signature")
	}
}

func TestSQLiteLoggerQueryFilters(t *testing.T) {
	tempDir := t.TempDir()

	logger, err := NewSQLiteLogger(SQLiteLoggerConfig{
		DataDir:       tempDir,
		RetentionDays: 30,
	})
	if err != nil {
		t.Fatalf("NewSQLiteLogger failed: %v", err)
	}
	defer logger.Close()

	now := time.Now()
	seed := []Event{
		{ID: uuid.NewString(), Timestamp: now.Add(-2 * time.Hour), Operation: "create_case", Target: "INV-2024-001", CaseNumber: "INV-2024-001", Outcome: OutcomeSuccess},
		{ID: uuid.NewString(), Timestamp: now.Add(-1 * time.Hour), Operation: "mount", Target: "/evidence/laptop.dd", CaseNumber: "INV-2024-001", Outcome: OutcomeSuccess},
		{ID: uuid.NewString(), Timestamp: now, Operation: "mount", Target: "/evidence/usb.dd", CaseNumber: "INV-2024-002", Outcome: OutcomeFailure, Details: "write intent refused"},
	}
	for _, e := range seed {
		if err := logger.Log(e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	// Filter by operation
	mounts, err := logger.Query(QueryFilter{Operation: "mount"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(mounts) != 2 {
		t.Errorf("Expected 2 mount events, got %d", len(mounts))
	}

	// Filter by case number
	caseEvents, err := logger.Query(QueryFilter{CaseNumber: "INV-2024-001"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(caseEvents) != 2 {
		t.Errorf("Expected 2 events for INV-2024-001, got %d", len(caseEvents))
	}

	// Filter by outcome
	failures, err := logger.Query(QueryFilter{Outcome: OutcomeFailure})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("Expected 1 failure event, got %d", len(failures))
	}
	if failures[0].Details != "write intent refused" {
		t.Errorf("Unexpected details: %s", failures[0].Details)
	}

	// Time window covering only the newest event
	start := now.Add(-30 * time.Minute)
	recent, err := logger.Query(QueryFilter{StartTime: &start})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("Expected 1 recent event, got %d", len(recent))
	}

	// Newest first
	all, err := logger.Query(QueryFilter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(all))
	}
	if all[0].Target != "/evidence/usb.dd" {
		t.Errorf("Expected newest event first, got %s", all[0].Target)
	}

	// Limit and offset
	page, err := logger.Query(QueryFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(page))
	}
	if page[0].Target != "/evidence/laptop.dd" {
		t.Errorf("Unexpected page contents: %s", page[0].Target)
	}
}

func TestSQLiteLoggerCount(t *testing.T) {
	tempDir := t.TempDir()

	logger, err := NewSQLiteLogger(SQLiteLoggerConfig{
		DataDir:       tempDir,
		RetentionDays: 30,
	})
	if err != nil {
		t.Fatalf("NewSQLiteLogger failed: %v", err)
	}
	defer logger.Close()

	for i := 0; i < 5; i++ {
		outcome := OutcomeSuccess
		if i%2 == 1 {
			outcome = OutcomeFailure
		}
		err := logger.Log(Event{
			ID:        uuid.NewString(),
			Timestamp: time.Now(),
			Operation: "verify_evidence",
			Target:    "/evidence/laptop.dd",
			Outcome:   outcome,
		})
		if err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	total, err := logger.Count(QueryFilter{})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if total != 5 {
		t.Errorf("Expected 5 events, got %d", total)
	}

	failures, err := logger.Count(QueryFilter{Outcome: OutcomeFailure})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if failures != 2 {
		t.Errorf("Expected 2 failures, got %d", failures)
	}
}

func TestSQLiteLoggerSignatureRoundTrip(t *testing.T) {
	tempDir := t.TempDir()

	logger, err := NewSQLiteLogger(SQLiteLoggerConfig{
		DataDir:       tempDir,
		RetentionDays: 30,
	})
	if err != nil {
		t.Fatalf("NewSQLiteLogger failed: %v", err)
	}
	defer logger.Close()

	event := Event{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Operation:  "unmount",
		Target:     "/mnt/laptop",
		CaseNumber: "INV-2024-001",
		Outcome:    OutcomeSuccess,
	}
	if err := logger.Log(event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	events, err := logger.Query(QueryFilter{ID: event.ID})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}

	if !logger.VerifySignature(events[0]) {
		t.Error("Stored event signature should verify")
	}

	// Tampering with any signed field must break verification
	tampered := events[0]
	tampered.CaseNumber = "INV-2024-999"
	if logger.VerifySignature(tampered) {
		t.Error("Tampered event signature should not verify")
	}
}

func TestSQLiteLoggerPersistsAcrossReopen(t *testing.T) {
	tempDir := t.TempDir()

	logger, err := NewSQLiteLogger(SQLiteLoggerConfig{DataDir: tempDir})
	if err != nil {
		t.Fatalf("NewSQLiteLogger failed: %v", err)
	}

	event := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Operation: "create_case",
		Target:    "INV-2024-003",
		Outcome:   OutcomeSuccess,
	}
	if err := logger.Log(event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteLogger(SQLiteLoggerConfig{DataDir: tempDir})
	if err != nil {
		t.Fatalf("NewSQLiteLogger reopen failed: %v", err)
	}
	defer reopened.Close()

	events, err := reopened.Query(QueryFilter{ID: event.ID})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected persisted event after reopen, got %d", len(events))
	}

	// Same key file, so signatures made before the reopen still verify.
	if !reopened.VerifySignature(events[0]) {
		t.Error("Signature should verify with the reloaded key")
	}
}

func TestSQLiteLoggerCleanup(t *testing.T) {
	tempDir := t.TempDir()

	logger, err := NewSQLiteLogger(SQLiteLoggerConfig{
		DataDir:       tempDir,
		RetentionDays: 30,
	})
	if err != nil {
		t.Fatalf("NewSQLiteLogger failed: %v", err)
	}
	defer logger.Close()

	old := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().AddDate(0, 0, -60),
		Operation: "mount",
		Target:    "/evidence/old.dd",
		Outcome:   OutcomeSuccess,
	}
	fresh := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Operation: "mount",
		Target:    "/evidence/new.dd",
		Outcome:   OutcomeSuccess,
	}
	if err := logger.Log(old); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Log(fresh); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	logger.cleanupOldEvents()

	if events, _ := logger.Query(QueryFilter{ID: old.ID}); len(events) != 0 {
		t.Error("Event older than retention should be deleted")
	}
	if events, _ := logger.Query(QueryFilter{ID: fresh.ID}); len(events) != 1 {
		t.Error("Recent event should survive cleanup")
	}
}

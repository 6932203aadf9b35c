package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testEvent() Event {
	return Event{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Operation:  "mount",
		Target:     "/evidence/laptop.dd",
		CaseNumber: "INV-2024-001",
		Outcome:    OutcomeSuccess,
		Details:    "mounted at /mnt/laptop",
	}
}

func TestNewSignerGeneratesKey(t *testing.T) {
	dir := t.TempDir()

	signer, err := NewSigner(dir)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	if !signer.SigningEnabled() {
		t.Fatal("Expected signing to be enabled")
	}

	keyPath := filepath.Join(dir, signingKeyFile)
	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("Key file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Expected key file mode 0600, got %o", perm)
	}
}

func TestNewSignerReloadsSameKey(t *testing.T) {
	dir := t.TempDir()

	first, err := NewSigner(dir)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	event := testEvent()
	sig := first.Sign(event)
	if sig == "" {
		t.Fatal("Expected a signature")
	}

	second, err := NewSigner(dir)
	if err != nil {
		t.Fatalf("NewSigner reload failed: %v", err)
	}

	event.Signature = sig
	if !second.Verify(event) {
		t.Error("Signature from first signer should verify with reloaded key")
	}
}

func TestNewSignerRejectsBadKeyFile(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, signingKeyFile)

	if err := os.WriteFile(keyPath, []byte("not hex at all"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := NewSigner(dir); err == nil {
		t.Error("Expected error for undecodable key file")
	}

	// Decodable but wrong length
	if err := os.WriteFile(keyPath, []byte("aabbccdd"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := NewSigner(dir); err == nil {
		t.Error("Expected error for short key")
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, err := NewSigner(t.TempDir())
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	event := testEvent()
	event.Signature = signer.Sign(event)
	if event.Signature == "" {
		t.Fatal("Expected a signature")
	}

	if !signer.Verify(event) {
		t.Error("Signature should verify")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	signer, err := NewSigner(t.TempDir())
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	original := testEvent()
	original.Signature = signer.Sign(original)

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"operation", func(e *Event) { e.Operation = "unmount" }},
		{"target", func(e *Event) { e.Target = "/evidence/other.dd" }},
		{"case number", func(e *Event) { e.CaseNumber = "INV-2024-999" }},
		{"outcome", func(e *Event) { e.Outcome = OutcomeFailure }},
		{"details", func(e *Event) { e.Details = "rewritten history" }},
		{"timestamp", func(e *Event) { e.Timestamp = e.Timestamp.Add(time.Hour) }},
		{"signature", func(e *Event) { e.Signature = strings.Repeat("0", 64) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := original
			tt.mutate(&tampered)
			if signer.Verify(tampered) {
				t.Errorf("Tampered %s should not verify", tt.name)
			}
		})
	}
}

func TestVerifyWithoutSignature(t *testing.T) {
	signer, err := NewSigner(t.TempDir())
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	event := testEvent()
	if signer.Verify(event) {
		t.Error("Event without signature should not verify")
	}
}

func TestCanonicalFormIsStable(t *testing.T) {
	signer := &Signer{key: make([]byte, 32)}

	event := testEvent()
	a := signer.canonicalForm(event)
	b := signer.canonicalForm(event)
	if a != b {
		t.Error("Canonical form must be deterministic")
	}

	if !strings.Contains(a, event.Operation) || !strings.Contains(a, event.Target) {
		t.Errorf("Canonical form missing fields: %s", a)
	}
}

package audit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Signer handles HMAC-SHA256 signing and verification for audit events.
// The key lives as a hex file in the audit directory with 0600
// permissions, like an SSH private key. Anyone who can read the key can
// forge signatures, so the audit directory must stay operator-only.
type Signer struct {
	key []byte // 32-byte HMAC signing key
}

const signingKeyFile = ".audit-signing.key"

// NewSigner loads the HMAC key from the data directory, generating and
// persisting one on first use.
func NewSigner(dataDir string) (*Signer, error) {
	keyPath := filepath.Join(dataDir, signingKeyFile)

	if raw, err := os.ReadFile(keyPath); err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode audit signing key: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("invalid audit signing key length: got %d, want 32", len(key))
		}
		log.Debug().Msg("Loaded existing audit signing key")
		return &Signer{key: key}, nil
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate audit signing key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory for audit signing key: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("failed to save audit signing key: %w", err)
	}

	log.Info().Msg("Generated new audit signing key")
	return &Signer{key: key}, nil
}

// Sign computes an HMAC-SHA256 signature over the event's canonical form.
func (s *Signer) Sign(event Event) string {
	if s.key == nil {
		return ""
	}

	canonical := s.canonicalForm(event)
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks if the event's signature matches its content.
func (s *Signer) Verify(event Event) bool {
	if s.key == nil || event.Signature == "" {
		return false
	}

	expected := s.Sign(event)
	return hmac.Equal([]byte(expected), []byte(event.Signature))
}

// canonicalForm creates a deterministic string representation of an event
// for signing.
// Format: ID|Timestamp(Unix)|Operation|Target|CaseNumber|Outcome|Details
func (s *Signer) canonicalForm(event Event) string {
	return event.ID + "|" +
		strconv.FormatInt(event.Timestamp.Unix(), 10) + "|" +
		event.Operation + "|" +
		event.Target + "|" +
		event.CaseNumber + "|" +
		string(event.Outcome) + "|" +
		event.Details
}

// SigningEnabled returns true if the signer has a valid key.
func (s *Signer) SigningEnabled() bool {
	return s.key != nil
}

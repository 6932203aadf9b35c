// Package audit records who did what to which case. Every state-changing
// operation on a case, its evidence, or its mounts produces one event.
//
// The Logger interface has two implementations: ConsoleLogger writes
// events to zerolog only, SQLiteLogger persists them with HMAC-SHA256
// signatures so a tampered trail is detectable. The package is in pkg/ so
// external tooling can read an audit database with the same types.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Outcome is the result recorded for an audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is a single audit trail entry.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Operation  string    `json:"operation"` // "create_case", "mount", "verify_evidence", ...
	Target     string    `json:"target"`    // case number, image path, or mount point
	CaseNumber string    `json:"case_number,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	Details    string    `json:"details,omitempty"`
	Signature  string    `json:"signature,omitempty"` // empty for console logger
}

// QueryFilter selects audit events. Zero values mean "any".
type QueryFilter struct {
	ID         string
	StartTime  *time.Time
	EndTime    *time.Time
	Operation  string
	CaseNumber string
	Outcome    Outcome
	Limit      int
	Offset     int
}

// Logger is the interface audit backends implement.
type Logger interface {
	// Log records an audit event.
	Log(event Event) error

	// Query retrieves events matching the filter (empty for backends
	// without storage).
	Query(filter QueryFilter) ([]Event, error)

	// Count returns the number of events matching the filter.
	Count(filter QueryFilter) (int, error)

	// Close releases any resources held by the logger.
	Close() error
}

// Global logger instance with thread-safe access
var (
	globalLogger Logger
	loggerMu     sync.RWMutex
	loggerOnce   sync.Once
)

// SetLogger sets the global audit logger. Call during initialization;
// subsequent calls replace the previous logger.
func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	globalLogger = l
}

// GetLogger returns the current global audit logger, defaulting to a
// ConsoleLogger if none has been set.
func GetLogger() Logger {
	loggerMu.RLock()
	l := globalLogger
	loggerMu.RUnlock()

	if l != nil {
		return l
	}

	loggerOnce.Do(func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		if globalLogger == nil {
			globalLogger = NewConsoleLogger()
		}
	})

	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return globalLogger
}

// Close closes the global audit logger.
func Close() error {
	loggerMu.RLock()
	l := globalLogger
	loggerMu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Close()
}

// Record builds and logs an event through the global logger. Audit
// failures are logged but never propagate: an operation must not fail
// because its audit write did.
func Record(operation, target, caseNumber string, outcome Outcome, details string) {
	event := Event{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Operation:  operation,
		Target:     target,
		CaseNumber: caseNumber,
		Outcome:    outcome,
		Details:    details,
	}

	if err := GetLogger().Log(event); err != nil {
		log.Error().Err(err).Str("operation", operation).Msg("Failed to log audit event")
	}
}

// ConsoleLogger implements Logger by writing to zerolog. The default when
// no persistent backend is configured.
type ConsoleLogger struct{}

// NewConsoleLogger creates a new console-based audit logger.
func NewConsoleLogger() *ConsoleLogger {
	return &ConsoleLogger{}
}

// Log writes an audit event to zerolog.
func (c *ConsoleLogger) Log(event Event) error {
	logEvent := log.With().
		Str("audit_id", event.ID).
		Str("operation", event.Operation).
		Str("target", event.Target).
		Str("case_number", event.CaseNumber).
		Time("timestamp", event.Timestamp).
		Str("details", event.Details).
		Logger()

	if event.Outcome == OutcomeSuccess {
		logEvent.Info().Msg("Audit event")
	} else {
		logEvent.Warn().Msg("Audit event - FAILED")
	}

	return nil
}

// Query returns an empty slice; console events are not queryable.
func (c *ConsoleLogger) Query(filter QueryFilter) ([]Event, error) {
	return []Event{}, nil
}

// Count returns zero for the console logger.
func (c *ConsoleLogger) Count(filter QueryFilter) (int, error) {
	return 0, nil
}

// Close is a no-op for the console logger.
func (c *ConsoleLogger) Close() error {
	return nil
}

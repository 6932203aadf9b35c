package engine

import (
	"sync"
	"time"
)

// EventType identifies a state change the engine announces to listeners.
type EventType string

const (
	EventCaseOpened        EventType = "case_opened"
	EventCaseSaved         EventType = "case_saved"
	EventCaseChangedOnDisk EventType = "case_changed_on_disk"
	EventEvidenceAdded     EventType = "evidence_added"
	EventEvidenceHashed    EventType = "evidence_hashed"
	EventEvidenceVerified  EventType = "evidence_verified"
	EventMountChanged      EventType = "mount_changed"
	EventReconcileReport   EventType = "reconcile_report"
)

// Event is a state change notification. Data carries the payload the
// event type implies: a case summary, a mount record, a verification
// result, a reconciliation report.
type Event struct {
	Type       EventType   `json:"type"`
	CaseNumber string      `json:"case_number,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// notifier fans events out to subscribers without blocking engine
// operations on slow consumers.
type notifier struct {
	mu   sync.RWMutex
	subs []func(Event)
}

// Subscribe registers fn for every future event. fn runs on its own
// goroutine per event; it must tolerate out-of-order delivery.
func (n *notifier) Subscribe(fn func(Event)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, fn)
}

func (n *notifier) publish(evt Event) {
	n.mu.RLock()
	subs := n.subs
	n.mu.RUnlock()

	for _, fn := range subs {
		go fn(evt)
	}
}

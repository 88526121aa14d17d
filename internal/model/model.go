// Package model defines the wire and storage types shared across the
// replication engine's components (§3 of the spec).
package model

import (
	"encoding/json"
	"time"
)

// Operation is the kind of mutation a SyncMessage carries.
type Operation string

const (
	OpCreate    Operation = "create"
	OpUpdate    Operation = "update"
	OpDelete    Operation = "delete"
	OpPublish   Operation = "publish"
	OpUnpublish Operation = "unpublish"
)

// SyncMessage is the unit of replication (§3).
type SyncMessage struct {
	MessageID   string          `json:"messageId"`
	ShipID      string          `json:"shipId,omitempty"` // empty/omitted = master-originated
	ContentType string          `json:"contentType"`
	DocumentID  string          `json:"documentId"`
	Locale      string          `json:"locale,omitempty"`
	Operation   Operation       `json:"operation"`
	Payload     json.RawMessage `json:"payload,omitempty"` // nil for delete
	BaseVersion int64           `json:"baseVersion"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Attempt     int             `json:"attempt"`

	// Supersedes lists messageIds coalesced into this one by the sync
	// service's debounce window (§4.10). Additive, forward-compatible field.
	Supersedes []string `json:"supersedes,omitempty"`

	// Extra preserves any wire fields this build doesn't know about, so a
	// mixed-version fleet stays forward-compatible (§6 "unknown fields are
	// preserved").
	Extra map[string]json.RawMessage `json:"-"`
}

// Validate checks the invariants listed in §3.
func (m *SyncMessage) Validate() error {
	if m.MessageID == "" {
		return errRequired("messageId")
	}
	if m.ContentType == "" {
		return errRequired("contentType")
	}
	if m.DocumentID == "" {
		return errRequired("documentId")
	}
	if m.BaseVersion < 0 {
		return errInvalid("baseVersion", "must be >= 0")
	}
	if m.Operation == OpDelete && len(m.Payload) > 0 && string(m.Payload) != "null" {
		return errInvalid("payload", "must be null for delete")
	}
	switch m.Operation {
	case OpCreate, OpUpdate, OpDelete, OpPublish, OpUnpublish:
	default:
		return errInvalid("operation", "unrecognized operation "+string(m.Operation))
	}
	return nil
}

// QueueState is the lifecycle state of a replica-side outbound QueueEntry.
type QueueState string

const (
	QueuePending QueueState = "pending"
	QueueSending QueueState = "sending"
	QueueSent    QueueState = "sent"
	QueueFailed  QueueState = "failed"
)

// QueueEntry wraps a SyncMessage with its outbound delivery state (§3).
type QueueEntry struct {
	ID            int64      `db:"id"`
	MessageID     string     `db:"message_id"`
	ShipID        string     `db:"ship_id"`
	ContentType   string     `db:"content_type"`
	DocumentID    string     `db:"document_id"`
	Locale        string     `db:"locale"`
	Operation     Operation  `db:"operation"`
	Payload       []byte     `db:"payload"`
	BaseVersion   int64      `db:"base_version"`
	OccurredAt    time.Time  `db:"occurred_at"`
	Attempt       int        `db:"attempt"`
	State         QueueState `db:"state"`
	NextAttemptAt time.Time  `db:"next_attempt_at"`
	LastError     string     `db:"last_error"`
	CreatedAt     time.Time  `db:"created_at"`
}

// SyncMessage reconstructs the wire message carried by this entry.
func (q *QueueEntry) SyncMessage() SyncMessage {
	return SyncMessage{
		MessageID:   q.MessageID,
		ShipID:      q.ShipID,
		ContentType: q.ContentType,
		DocumentID:  q.DocumentID,
		Locale:      q.Locale,
		Operation:   q.Operation,
		Payload:     q.Payload,
		BaseVersion: q.BaseVersion,
		OccurredAt:  q.OccurredAt,
		Attempt:     q.Attempt,
	}
}

// DeadLetterState is the lifecycle state of a parked DeadLetterEntry.
type DeadLetterState string

const (
	DeadLetterPending   DeadLetterState = "pending"
	DeadLetterRetrying  DeadLetterState = "retrying"
	DeadLetterExhausted DeadLetterState = "exhausted"
	DeadLetterResolved  DeadLetterState = "resolved"
)

// DeadLetterEntry wraps a SyncMessage that could not be applied (§3).
type DeadLetterEntry struct {
	ID          int64           `db:"id"`
	MessageID   string          `db:"message_id"`
	ShipID      string          `db:"ship_id"`
	ContentType string          `db:"content_type"`
	DocumentID  string          `db:"document_id"`
	Operation   Operation       `db:"operation"`
	Payload     []byte          `db:"payload"`
	Reason      string          `db:"reason"`
	State       DeadLetterState `db:"state"`
	Attempts    int             `db:"attempts"`
	LastError   string          `db:"last_error"`
	FirstSeenAt time.Time       `db:"first_seen_at"`
	LastSeenAt  time.Time       `db:"last_seen_at"`
}

// ProcessedStatus is the apply outcome recorded for a delivered message.
type ProcessedStatus string

const (
	ProcessedOK     ProcessedStatus = "processed"
	ProcessedFailed ProcessedStatus = "failed"
)

// ProcessedMessage records that a messageId has been seen (§3, §4.1).
type ProcessedMessage struct {
	MessageID   string          `db:"message_id"`
	ShipID      string          `db:"ship_id"`
	ContentType string          `db:"content_type"`
	DocumentID  string          `db:"document_id"`
	Operation   Operation       `db:"operation"`
	Status      ProcessedStatus `db:"status"`
	ProcessedAt time.Time       `db:"processed_at"`
}

// IdentityMapping binds a cross-site documentId to a local database row (§3, §4.2).
type IdentityMapping struct {
	ContentType string `db:"content_type"`
	DocumentID  string `db:"document_id"`
	LocalID     string `db:"local_id"`
}

// ConnectivityStatus is a ship's last-observed link state.
type ConnectivityStatus string

const (
	ShipOnline  ConnectivityStatus = "online"
	ShipOffline ConnectivityStatus = "offline"
)

// Ship is a known replica (§3, §4.5).
type Ship struct {
	ShipID             string             `db:"ship_id"`
	ShipName           string             `db:"ship_name"`
	ConnectivityStatus ConnectivityStatus `db:"connectivity_status"`
	LastSeenAt         time.Time          `db:"last_seen_at"`
	CreatedAt          time.Time          `db:"created_at"`
}

// ConflictState is the lifecycle state of a ConflictRecord.
type ConflictState string

const (
	ConflictOpen     ConflictState = "open"
	ConflictResolved ConflictState = "resolved"
)

// ConflictRecord captures a detected write-write conflict (§3, §4.6).
type ConflictRecord struct {
	ID             int64         `db:"id"`
	MessageID      string        `db:"message_id"`
	ContentType    string        `db:"content_type"`
	DocumentID     string        `db:"document_id"`
	LocalSnapshot  []byte        `db:"local_snapshot"`
	RemoteSnapshot []byte        `db:"remote_snapshot"`
	DetectedAt     time.Time     `db:"detected_at"`
	State          ConflictState `db:"state"`
	Resolution     string        `db:"resolution"`
}

func errRequired(field string) error { return &validationErr{field: field, reason: "is required"} }
func errInvalid(field, reason string) error {
	return &validationErr{field: field, reason: reason}
}

type validationErr struct {
	field  string
	reason string
}

func (e *validationErr) Error() string { return e.field + " " + e.reason }

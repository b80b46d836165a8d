package models

import "time"

// EntryKind distinguishes the three kinds of pending work.
type EntryKind string

const (
	KindResponses  EntryKind = "responses"
	KindAttachment EntryKind = "attachment"
	KindCompletion EntryKind = "completion"
)

// EntryStatus is the per-entry state machine:
// pending -> in_flight -> acknowledged | failed_permanent.
// Acknowledged entries are removed from the queue in the same transaction,
// so the status is only ever seen on entries a drain still holds.
type EntryStatus string

const (
	StatusPending         EntryStatus = "pending"
	StatusInFlight        EntryStatus = "in_flight"
	StatusAcknowledged    EntryStatus = "acknowledged"
	StatusFailedPermanent EntryStatus = "failed_permanent"
)

// QueueEntry is a durable unit of work awaiting server acknowledgment.
// For responses, SeqStart..SeqEnd is the inclusive sequence range and Payload
// is the JSON encoded []api.Draft. For attachments, RowID and AttachmentID
// identify the evidence and Payload is empty. Payloads are never rewritten
// once the entry exists.
type QueueEntry struct {
	ID             int64
	InspectionID   string
	Kind           EntryKind
	RowID          string
	AttachmentID   string
	SeqStart       int64
	SeqEnd         int64
	IdempotencyKey string
	Payload        []byte
	Status         EntryStatus
	RetryCount     int
	NextAttemptAt  *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Due reports whether the entry may be attempted at now.
func (e *QueueEntry) Due(now time.Time) bool {
	return e.NextAttemptAt == nil || !e.NextAttemptAt.After(now)
}

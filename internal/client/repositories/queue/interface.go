// Package queue is the durable log behind the capture queue: one row per
// queue entry plus a per-inspection sequence counter.
//
// The repository is deliberately dumb. Ordering, coalescing and the status
// state machine live in the services layer, which runs every mutation inside
// a transaction (see dbx.WithTx) under a single mutex.
package queue

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

// Filter narrows List and Count. Zero fields do not filter.
type Filter struct {
	InspectionID string
	RowID        string
	Kinds        []models.EntryKind
	Statuses     []models.EntryStatus
	// DueBefore, when set, keeps entries whose next attempt is not after it.
	DueBefore *time.Time
	Limit     uint64
}

type Repository interface {
	// ReserveSequences reserves n consecutive sequence numbers for the
	// inspection and returns the first one.
	ReserveSequences(ctx context.Context, inspectionID string, n int64) (int64, error)
	LastSequence(ctx context.Context, inspectionID string) (int64, error)
	// RewindSequences makes last the highest reserved sequence, so the next
	// reservation starts at last+1. It never moves the counter forward.
	RewindSequences(ctx context.Context, inspectionID string, last int64) error

	// Insert stores e and sets e.ID. A duplicate idempotency key is an error.
	Insert(ctx context.Context, e *models.QueueEntry) error
	// Get returns common.ErrNotFound when absent.
	Get(ctx context.Context, id int64) (*models.QueueEntry, error)
	GetByKey(ctx context.Context, key string) (*models.QueueEntry, error)
	List(ctx context.Context, f Filter) ([]*models.QueueEntry, error)
	Count(ctx context.Context, f Filter) (int, error)
	// Inspections lists inspection ids that still have entries.
	Inspections(ctx context.Context) ([]string, error)

	// UpdateState writes Status, RetryCount, NextAttemptAt, LastError.
	UpdateState(ctx context.Context, e *models.QueueEntry) error
	Delete(ctx context.Context, id int64) error
	// DeleteResponsesUpTo removes response entries whose range ends at or
	// below upTo.
	DeleteResponsesUpTo(ctx context.Context, inspectionID string, upTo int64) (int64, error)
	DeleteByInspection(ctx context.Context, inspectionID string) (int64, error)
	// ResetInFlight returns every in_flight entry to pending.
	ResetInFlight(ctx context.Context) (int64, error)
}

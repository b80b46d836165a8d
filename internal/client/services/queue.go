package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/attachments"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/sessions"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/filex"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/google/uuid"
)

// AttachmentMeta describes a blob handed to EnqueueAttachment.
type AttachmentMeta struct {
	MimeType string
	Filename string
}

// CaptureQueue is the durable log of pending work. All mutations are
// serialized by mu and run in one transaction each; the pending count of the
// touched inspection is published once the transaction has committed.
type CaptureQueue struct {
	mu      sync.Mutex
	db      *sql.DB
	blobDir string
	events  *Events
	log     logging.Logger
	now     func() time.Time
}

func NewCaptureQueue(db *sql.DB, blobDir string, events *Events, log logging.Logger) *CaptureQueue {
	return &CaptureQueue{
		db:      db,
		blobDir: blobDir,
		events:  events,
		log:     log.With("module", "queue"),
		now:     time.Now,
	}
}

func (q *CaptureQueue) entries(db dbx.DBTX) queue.Repository {
	return queue.NewSQLiteRepository(db)
}

// Do runs fn in a transaction serialized with every other queue mutation
// and, after commit, publishes the pending count of each inspection in
// touched.
func (q *CaptureQueue) Do(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error, touched ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := dbx.WithTx(ctx, q.db, nil, fn); err != nil {
		return err
	}

	for _, id := range touched {
		n, err := q.entries(q.db).Count(ctx, queue.Filter{InspectionID: id})
		if err != nil {
			q.log.Warn(ctx, "pending count unavailable", "inspection_id", id, "error", err)
			continue
		}
		q.events.publish(ctx, PendingCountChanged{InspectionID: id, Pending: n})
	}
	return nil
}

// EnqueueResponsesTx appends one entry carrying drafts, assigning them the
// next consecutive sequence numbers of the inspection. It returns the entry
// and the drafts with their sequences set. Callers run it inside Do so that
// the sequence assignment commits together with whatever records it.
func (q *CaptureQueue) EnqueueResponsesTx(ctx context.Context, tx dbx.DBTX, inspectionID string, drafts []models.Draft) (*models.QueueEntry, []models.Draft, error) {
	if len(drafts) == 0 {
		return nil, nil, nil
	}
	repo := q.entries(tx)

	start, err := repo.ReserveSequences(ctx, inspectionID, int64(len(drafts)))
	if err != nil {
		return nil, nil, err
	}

	assigned := make([]models.Draft, len(drafts))
	wire := make([]api.Draft, len(drafts))
	for i, d := range drafts {
		d.Sequence = start + int64(i)
		assigned[i] = d
		wire[i] = d.Wire()
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, nil, fmt.Errorf("encode drafts: %w", err)
	}

	end := start + int64(len(drafts)) - 1
	e := &models.QueueEntry{
		InspectionID:   inspectionID,
		Kind:           models.KindResponses,
		SeqStart:       start,
		SeqEnd:         end,
		IdempotencyKey: api.ResponsesKey(inspectionID, start, end),
		Payload:        payload,
		Status:         models.StatusPending,
	}
	if err := repo.Insert(ctx, e); err != nil {
		return nil, nil, err
	}
	return e, assigned, nil
}

// EnqueueResponses appends one entry for drafts outside of any session
// bookkeeping.
func (q *CaptureQueue) EnqueueResponses(ctx context.Context, inspectionID string, drafts []models.Draft) (*models.QueueEntry, error) {
	var entry *models.QueueEntry
	err := q.Do(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		entry, _, err = q.EnqueueResponsesTx(ctx, tx, inspectionID, drafts)
		return err
	}, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("enqueue responses of %s: %w", inspectionID, err)
	}
	return entry, nil
}

// EnqueueAttachment stores blob in the content-addressed blob directory and
// appends an attachment record plus its upload entry. Attachments carry no
// sequence; their idempotency key is contentHash:attachmentID.
func (q *CaptureQueue) EnqueueAttachment(ctx context.Context, inspectionID, rowID string, blob []byte, meta AttachmentMeta) (*models.Attachment, error) {
	hash := cryptox.ContentHash(blob)
	path := filepath.Join(q.blobDir, hash)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := filex.WriteFileAtomic(path, blob, 0o600); err != nil {
			return nil, fmt.Errorf("store blob: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat blob: %w", err)
	}

	a := &models.Attachment{
		ID:           uuid.NewString(),
		InspectionID: inspectionID,
		RowID:        rowID,
		ContentHash:  hash,
		MimeType:     meta.MimeType,
		Filename:     meta.Filename,
		Size:         int64(len(blob)),
		LocalPath:    path,
		CreatedAt:    q.now().UTC(),
	}

	err := q.Do(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := attachments.NewSQLiteRepository(tx).Insert(ctx, a); err != nil {
			return err
		}
		return q.entries(tx).Insert(ctx, &models.QueueEntry{
			InspectionID:   inspectionID,
			Kind:           models.KindAttachment,
			RowID:          rowID,
			AttachmentID:   a.ID,
			IdempotencyKey: api.AttachmentKey(hash, a.ID),
			Status:         models.StatusPending,
		})
	}, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("enqueue attachment for %s/%s: %w", inspectionID, rowID, err)
	}
	return a, nil
}

// EnqueueCompletionTx appends the completion signal of a completed session.
// It is a no-op when the signal is already queued.
func (q *CaptureQueue) EnqueueCompletionTx(ctx context.Context, tx dbx.DBTX, s *models.Session) error {
	repo := q.entries(tx)
	key := api.CompletionKey(s.InspectionID)

	if _, err := repo.GetByKey(ctx, key); err == nil {
		return nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	completedAt := q.now().UTC()
	if s.CompletedAt != nil {
		completedAt = *s.CompletedAt
	}
	payload, err := json.Marshal(api.CompletionRequest{
		TemplateID:     s.TemplateID,
		VersionID:      s.VersionID,
		FinalSequence:  s.LastSequence,
		CompletedAt:    completedAt,
		IdempotencyKey: key,
	})
	if err != nil {
		return fmt.Errorf("encode completion: %w", err)
	}

	return repo.Insert(ctx, &models.QueueEntry{
		InspectionID:   s.InspectionID,
		Kind:           models.KindCompletion,
		SeqStart:       s.LastSequence,
		SeqEnd:         s.LastSequence,
		IdempotencyKey: key,
		Payload:        payload,
		Status:         models.StatusPending,
	})
}

// GetPendingCount returns the number of unacknowledged entries of one
// inspection, or of all inspections when inspectionID is empty.
func (q *CaptureQueue) GetPendingCount(ctx context.Context, inspectionID string) (int, error) {
	return q.entries(q.db).Count(ctx, queue.Filter{InspectionID: inspectionID})
}

// GetPendingAttachmentCountForRow returns the unacknowledged attachment
// uploads of one row.
func (q *CaptureQueue) GetPendingAttachmentCountForRow(ctx context.Context, inspectionID, rowID string) (int, error) {
	return q.entries(q.db).Count(ctx, queue.Filter{
		InspectionID: inspectionID,
		RowID:        rowID,
		Kinds:        []models.EntryKind{models.KindAttachment},
	})
}

// List returns the entries of an inspection (all inspections when empty).
func (q *CaptureQueue) List(ctx context.Context, inspectionID string) ([]*models.QueueEntry, error) {
	return q.entries(q.db).List(ctx, queue.Filter{InspectionID: inspectionID})
}

// Failures returns the entries that need manual resolution.
func (q *CaptureQueue) Failures(ctx context.Context, inspectionID string) ([]*models.QueueEntry, error) {
	return q.entries(q.db).List(ctx, queue.Filter{
		InspectionID: inspectionID,
		Statuses:     []models.EntryStatus{models.StatusFailedPermanent},
	})
}

// Retry moves a failed_permanent entry back to pending so the next drain
// attempts it again.
func (q *CaptureQueue) Retry(ctx context.Context, entryID int64) error {
	var inspectionID string
	err := q.Do(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := q.entries(tx)
		e, err := repo.Get(ctx, entryID)
		if err != nil {
			return err
		}
		if e.Status != models.StatusFailedPermanent {
			return fmt.Errorf("entry %d is %s, only failed entries can be retried", entryID, e.Status)
		}
		inspectionID = e.InspectionID
		e.Status = models.StatusPending
		e.NextAttemptAt = nil
		return repo.UpdateState(ctx, e)
	})
	if err != nil {
		return err
	}
	q.notify(ctx, inspectionID)
	return nil
}

// Abandoned describes what Abandon discarded.
type Abandoned struct {
	Entries int64
	// Acknowledged is the highest sequence the server holds for the
	// inspection; the next draft is assigned Acknowledged+1.
	Acknowledged int64
	// Attachments were never uploaded and are no longer recorded.
	Attachments []*models.Attachment
}

// AbandonTx drops every unacknowledged entry of an inspection together with
// the attachments still waiting for upload, and rewinds the sequence counter
// to the last sequence the server acknowledged. Response entries are only
// ever removed from the low end, so that is the start of the first one left
// minus one, or the counter itself when none is left.
func (q *CaptureQueue) AbandonTx(ctx context.Context, tx dbx.DBTX, inspectionID string) (*Abandoned, error) {
	repo := q.entries(tx)

	acked, err := repo.LastSequence(ctx, inspectionID)
	if err != nil {
		return nil, err
	}
	left, err := repo.List(ctx, queue.Filter{
		InspectionID: inspectionID,
		Kinds:        []models.EntryKind{models.KindResponses},
		Limit:        1,
	})
	if err != nil {
		return nil, err
	}
	if len(left) > 0 {
		acked = left[0].SeqStart - 1
	}

	res := &Abandoned{Acknowledged: acked}
	if res.Entries, err = repo.DeleteByInspection(ctx, inspectionID); err != nil {
		return nil, err
	}
	if err := repo.RewindSequences(ctx, inspectionID, acked); err != nil {
		return nil, err
	}
	if res.Attachments, err = attachments.NewSQLiteRepository(tx).DeletePending(ctx, inspectionID); err != nil {
		return nil, err
	}
	return res, nil
}

// Abandon runs AbandonTx on its own. Inspections with a runner session are
// abandoned through RunnerService.Abandon, which also resets the session.
func (q *CaptureQueue) Abandon(ctx context.Context, inspectionID string) (*Abandoned, error) {
	var res *Abandoned
	err := q.Do(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		res, err = q.AbandonTx(ctx, tx, inspectionID)
		return err
	}, inspectionID)
	if err != nil {
		return nil, err
	}
	q.log.Warn(ctx, "queue entries abandoned", "inspection_id", inspectionID,
		"count", res.Entries, "acknowledged", res.Acknowledged)
	return res, nil
}

// RecoverInFlight returns entries left in_flight by a killed process to
// pending. Replays are safe because the server deduplicates by idempotency
// key and sequence.
func (q *CaptureQueue) RecoverInFlight(ctx context.Context) (int64, error) {
	var n int64
	err := q.Do(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		n, err = q.entries(tx).ResetInFlight(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.log.Info(ctx, "in-flight entries returned to pending", "count", n)
	}
	return n, nil
}

func (q *CaptureQueue) notify(ctx context.Context, inspectionID string) {
	_ = q.Do(ctx, func(context.Context, dbx.DBTX) error { return nil }, inspectionID)
}

// The methods below implement the entry state machine for the sync engine.

func (q *CaptureQueue) inspections(ctx context.Context) ([]string, error) {
	return q.entries(q.db).Inspections(ctx)
}

func (q *CaptureQueue) list(ctx context.Context, f queue.Filter) ([]*models.QueueEntry, error) {
	return q.entries(q.db).List(ctx, f)
}

// setState applies mutate to every entry of es still in the queue.
// Acknowledged entries have been removed and are never touched again.
func (q *CaptureQueue) setState(ctx context.Context, es []*models.QueueEntry, mutate func(*models.QueueEntry)) error {
	live := make([]*models.QueueEntry, 0, len(es))
	for _, e := range es {
		if e.Status != models.StatusAcknowledged {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		return nil
	}
	return q.Do(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := q.entries(tx)
		for _, e := range live {
			mutate(e)
			if err := repo.UpdateState(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}, live[0].InspectionID)
}

func acknowledge(es ...*models.QueueEntry) {
	for _, e := range es {
		e.Status = models.StatusAcknowledged
		e.NextAttemptAt = nil
	}
}

func (q *CaptureQueue) markInFlight(ctx context.Context, es []*models.QueueEntry) error {
	return q.setState(ctx, es, func(e *models.QueueEntry) { e.Status = models.StatusInFlight })
}

func (q *CaptureQueue) recordFailure(ctx context.Context, es []*models.QueueEntry, cause error) error {
	return q.setState(ctx, es, func(e *models.QueueEntry) {
		e.RetryCount++
		e.LastError = cause.Error()
	})
}

func (q *CaptureQueue) release(ctx context.Context, es []*models.QueueEntry, next *time.Time) error {
	return q.setState(ctx, es, func(e *models.QueueEntry) {
		if e.Status == models.StatusInFlight {
			e.Status = models.StatusPending
		}
		e.NextAttemptAt = next
	})
}

func (q *CaptureQueue) fail(ctx context.Context, es []*models.QueueEntry, cause error) error {
	return q.setState(ctx, es, func(e *models.QueueEntry) {
		e.Status = models.StatusFailedPermanent
		e.LastError = cause.Error()
		e.NextAttemptAt = nil
	})
}

// ackResponses removes every response entry of the inspection whose range
// ends at or below upTo and returns the rest of the batch to pending. The
// removed entries of batch are marked acknowledged.
func (q *CaptureQueue) ackResponses(ctx context.Context, inspectionID string, upTo int64, batch []*models.QueueEntry) (int64, error) {
	var n int64
	err := q.Do(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := q.entries(tx)
		var err error
		if n, err = repo.DeleteResponsesUpTo(ctx, inspectionID, upTo); err != nil {
			return err
		}
		for _, e := range batch {
			if e.SeqEnd <= upTo {
				continue
			}
			e.Status = models.StatusPending
			e.NextAttemptAt = nil
			if err := repo.UpdateState(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}, inspectionID)
	if err != nil {
		return 0, err
	}
	for _, e := range batch {
		if e.SeqEnd <= upTo {
			acknowledge(e)
		}
	}
	return n, nil
}

// ackAttachment removes the upload entry and records the server reference
// on the attachment in one transaction.
func (q *CaptureQueue) ackAttachment(ctx context.Context, e *models.QueueEntry, ref *api.AttachmentRef) error {
	err := q.Do(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := attachments.NewSQLiteRepository(tx).SetRef(ctx, e.AttachmentID, ref); err != nil {
			return err
		}
		return q.entries(tx).Delete(ctx, e.ID)
	}, e.InspectionID)
	if err == nil {
		acknowledge(e)
	}
	return err
}

// ackCompletion removes the completion entry and marks the session synced.
func (q *CaptureQueue) ackCompletion(ctx context.Context, e *models.QueueEntry) error {
	err := q.Do(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := sessions.NewSQLiteRepository(tx)
		s, err := repo.Load(ctx, e.InspectionID)
		if err != nil {
			return err
		}
		if s != nil {
			synced := q.now().UTC()
			s.SyncedAt = &synced
			if err := repo.Save(ctx, s); err != nil {
				return err
			}
		}
		return q.entries(tx).Delete(ctx, e.ID)
	}, e.InspectionID)
	if err == nil {
		acknowledge(e)
	}
	return err
}

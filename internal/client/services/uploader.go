package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/attachments"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// UploadReport counts the outcome of one attachment drain.
type UploadReport struct {
	Uploaded int
	Deferred int
	Failed   int
}

// Uploader sends attachment blobs. Uploads of one inspection run
// concurrently, bounded by concurrency; a failed upload restarts from the
// first byte on its next attempt.
type Uploader struct {
	*delivery
	client      client.Client
	concurrency int
}

func NewUploader(q *CaptureQueue, c client.Client, policy RetryPolicy, timeout time.Duration, concurrency int, log logging.Logger) *Uploader {
	return &Uploader{
		delivery:    newDelivery(q, policy, timeout, log.With("module", "uploader")),
		client:      c,
		concurrency: max(concurrency, 1),
	}
}

// Upload reads the blob of a, checks it against the recorded hash and sends
// it. A missing or altered blob is common.ErrCorruptState.
func (u *Uploader) Upload(ctx context.Context, a *models.Attachment) (*api.AttachmentRef, error) {
	data, err := os.ReadFile(a.LocalPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("blob of attachment %s missing: %w", a.ID, common.ErrCorruptState)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob of attachment %s: %w", a.ID, err)
	}
	if !cryptox.Verify(data, a.ContentHash) {
		return nil, fmt.Errorf("blob of attachment %s does not match %s: %w", a.ID, a.ContentHash, common.ErrCorruptState)
	}

	return u.client.UploadAttachment(ctx, &client.AttachmentUpload{
		InspectionID:   a.InspectionID,
		RowID:          a.RowID,
		AttachmentID:   a.ID,
		ContentHash:    a.ContentHash,
		MimeType:       a.MimeType,
		Filename:       a.Filename,
		IdempotencyKey: api.AttachmentKey(a.ContentHash, a.ID),
		Body:           data,
	})
}

// Drain uploads the pending attachments of an inspection. Unless force is
// set, entries whose next attempt lies in the future are skipped.
func (u *Uploader) Drain(ctx context.Context, inspectionID string, force bool) (UploadReport, error) {
	f := queue.Filter{
		InspectionID: inspectionID,
		Kinds:        []models.EntryKind{models.KindAttachment},
		Statuses:     []models.EntryStatus{models.StatusPending, models.StatusInFlight},
	}
	if !force {
		now := u.now().UTC()
		f.DueBefore = &now
	}
	entries, err := u.queue.list(ctx, f)
	if err != nil {
		return UploadReport{}, err
	}

	var (
		mu     sync.Mutex
		report UploadReport
		errs   error
		g      errgroup.Group
	)
	g.SetLimit(u.concurrency)

	for _, e := range entries {
		g.Go(func() error {
			err := u.uploadEntry(ctx, e)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Uploaded++
			case errors.Is(err, errDeferred):
				report.Deferred++
			case ctx.Err() != nil:
			default:
				if common.IsPermanent(err) || errors.Is(err, common.ErrCorruptState) {
					report.Failed++
				}
				errs = multierr.Append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, errs
}

func (u *Uploader) uploadEntry(ctx context.Context, e *models.QueueEntry) error {
	a, err := attachments.NewSQLiteRepository(u.queue.db).Get(ctx, e.AttachmentID)
	if errors.Is(err, common.ErrNotFound) {
		err = fmt.Errorf("attachment %s of entry %d: %w", e.AttachmentID, e.ID, common.ErrCorruptState)
		if ferr := u.queue.fail(ctx, []*models.QueueEntry{e}, err); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}
	if err != nil {
		return err
	}

	var ref *api.AttachmentRef
	err = u.deliver(ctx, []*models.QueueEntry{e}, func(ctx context.Context) error {
		var err error
		ref, err = u.Upload(ctx, a)
		return err
	})
	if err != nil {
		return err
	}
	return u.queue.ackAttachment(context.WithoutCancel(ctx), e, ref)
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/config"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/sessions"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type DrainState string

const (
	StateIdle     DrainState = "idle"
	StateDraining DrainState = "draining"
)

// DrainReport summarizes one drain of one inspection.
type DrainReport struct {
	InspectionID string
	// Acknowledged counts response entries removed from the queue.
	Acknowledged int
	Uploaded     int
	Completed    bool
	Deferred     int
	Failed       int
	// Blocked is set when a failed_permanent response entry holds back
	// every later response of the inspection.
	Blocked bool
}

// SyncEngine drains the capture queue to the server. Response entries go
// out strictly in sequence order, attachments independently of them, and
// the completion signal last.
type SyncEngine struct {
	*delivery
	client   client.Client
	uploader *Uploader
	maxBatch int

	onlineCheck time.Duration
	interval    time.Duration

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	draining map[string]bool

	online  atomic.Bool
	syncNow chan struct{}
}

func NewSyncEngine(q *CaptureQueue, c client.Client, cfg *config.Config, log logging.Logger) *SyncEngine {
	policy := NewRetryPolicy(cfg)
	return &SyncEngine{
		delivery:    newDelivery(q, policy, cfg.RequestTimeout, log.With("module", "sync")),
		client:      c,
		uploader:    NewUploader(q, c, policy, cfg.RequestTimeout, cfg.AttachmentConcurrency, log),
		maxBatch:    max(cfg.MaxBatchDrafts, 1),
		onlineCheck: cfg.OnlineCheckInterval,
		interval:    cfg.SyncInterval,
		locks:       make(map[string]*sync.Mutex),
		draining:    make(map[string]bool),
		syncNow:     make(chan struct{}, 1),
	}
}

// State reports whether a drain of the inspection is running.
func (e *SyncEngine) State(inspectionID string) DrainState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draining[inspectionID] {
		return StateDraining
	}
	return StateIdle
}

func (e *SyncEngine) lock(inspectionID string) (func(), bool) {
	e.mu.Lock()
	l, ok := e.locks[inspectionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[inspectionID] = l
	}
	e.mu.Unlock()

	if !l.TryLock() {
		return nil, false
	}
	e.mu.Lock()
	e.draining[inspectionID] = true
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.draining, inspectionID)
		e.mu.Unlock()
		l.Unlock()
	}, true
}

// Drain sends everything queued for an inspection now, ignoring backoff
// deadlines. A drain already running for the same inspection makes it return
// common.ErrDrainInProgress.
func (e *SyncEngine) Drain(ctx context.Context, inspectionID string) (*DrainReport, error) {
	return e.drain(ctx, inspectionID, true)
}

func (e *SyncEngine) drain(ctx context.Context, inspectionID string, force bool) (*DrainReport, error) {
	unlock, ok := e.lock(inspectionID)
	if !ok {
		return nil, fmt.Errorf("inspection %s: %w", inspectionID, common.ErrDrainInProgress)
	}
	defer unlock()

	report := &DrainReport{InspectionID: inspectionID}

	var (
		g       errgroup.Group
		respErr error
		upErr   error
		uploads UploadReport
	)
	g.Go(func() error {
		respErr = e.drainResponses(ctx, inspectionID, force, report)
		return nil
	})
	g.Go(func() error {
		uploads, upErr = e.uploader.Drain(ctx, inspectionID, force)
		return nil
	})
	_ = g.Wait()

	report.Uploaded = uploads.Uploaded
	report.Deferred += uploads.Deferred
	report.Failed += uploads.Failed

	err := multierr.Append(respErr, upErr)
	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	if err == nil {
		err = e.drainCompletion(ctx, inspectionID, force, report)
	}

	e.log.Info(ctx, "drain finished", "inspection_id", inspectionID,
		"acknowledged", report.Acknowledged, "uploaded", report.Uploaded,
		"completed", report.Completed, "deferred", report.Deferred,
		"failed", report.Failed, "blocked", report.Blocked)

	if err == nil && report.Deferred == 0 {
		if serr := metadata.NewSQLiteRepository(e.queue.db).SetTime(context.WithoutCancel(ctx), metadata.KeyLastSyncAt, e.now().UTC()); serr != nil {
			e.log.Warn(ctx, "last sync time not recorded", "error", serr)
		}
	}
	return report, err
}

// errReconciled means a sequence conflict moved the acknowledged watermark
// and the loop should re-read the queue.
var errReconciled = errors.New("reconciled")

func (e *SyncEngine) drainResponses(ctx context.Context, inspectionID string, force bool, report *DrainReport) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		entries, err := e.queue.list(ctx, queue.Filter{
			InspectionID: inspectionID,
			Kinds:        []models.EntryKind{models.KindResponses},
		})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		head := entries[0]
		if head.Status == models.StatusFailedPermanent {
			report.Blocked = true
			return nil
		}
		if !force && !head.Due(e.now().UTC()) {
			report.Deferred += len(entries)
			return nil
		}

		acked, err := e.sendBatch(ctx, inspectionID, e.coalesce(entries))
		report.Acknowledged += acked
		switch {
		case err == nil, errors.Is(err, errReconciled):
			if acked == 0 && err == nil {
				return fmt.Errorf("server did not advance past sequence %d", head.SeqStart)
			}
		case errors.Is(err, errDeferred):
			report.Deferred += len(entries)
			return nil
		case common.IsPermanent(err), errors.Is(err, common.ErrCorruptState):
			report.Failed++
			report.Blocked = len(entries) > 1
			return err
		default:
			return err
		}
	}
}

// coalesce takes the head entry and every following entry that continues
// its sequence range, up to maxBatch drafts.
func (e *SyncEngine) coalesce(entries []*models.QueueEntry) []*models.QueueEntry {
	batch := []*models.QueueEntry{entries[0]}
	drafts := entries[0].SeqEnd - entries[0].SeqStart + 1
	for _, next := range entries[1:] {
		prev := batch[len(batch)-1]
		n := next.SeqEnd - next.SeqStart + 1
		if next.Status == models.StatusFailedPermanent || next.SeqStart != prev.SeqEnd+1 || drafts+n > int64(e.maxBatch) {
			break
		}
		batch = append(batch, next)
		drafts += n
	}
	return batch
}

func (e *SyncEngine) sendBatch(ctx context.Context, inspectionID string, batch []*models.QueueEntry) (int, error) {
	req, err := e.buildBatch(ctx, inspectionID, batch)
	if errors.Is(err, common.ErrCorruptState) {
		if ferr := e.queue.fail(ctx, batch, err); ferr != nil {
			return 0, errors.Join(err, ferr)
		}
		return 0, err
	}
	if err != nil {
		return 0, err
	}

	var (
		ack      *api.BatchAck
		conflict *client.SequenceConflictError
	)
	err = e.deliver(ctx, batch, func(ctx context.Context) error {
		a, err := e.client.SubmitResponses(ctx, inspectionID, req)
		var c *client.SequenceConflictError
		if errors.As(err, &c) && c.Expected > req.SequenceStart {
			conflict = c
			return nil
		}
		ack = a
		return err
	})
	if err != nil {
		return 0, err
	}

	detached := context.WithoutCancel(ctx)
	if conflict != nil {
		n, err := e.queue.ackResponses(detached, inspectionID, conflict.Expected-1, batch)
		if err != nil {
			return 0, err
		}
		e.log.Info(ctx, "sequence conflict reconciled", "inspection_id", inspectionID,
			"expected", conflict.Expected, "acknowledged", n)
		return int(n), errReconciled
	}

	n, err := e.queue.ackResponses(detached, inspectionID, ack.AcknowledgedUpTo, batch)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// buildBatch concatenates the payloads of batch into one request bound to
// the session's template version.
func (e *SyncEngine) buildBatch(ctx context.Context, inspectionID string, batch []*models.QueueEntry) (*api.ResponseBatch, error) {
	sess, err := sessions.NewSQLiteRepository(e.queue.db).Load(ctx, inspectionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s missing for queued responses: %w", inspectionID, common.ErrCorruptState)
	}

	first, last := batch[0], batch[len(batch)-1]
	req := &api.ResponseBatch{
		TemplateID:     sess.TemplateID,
		VersionID:      sess.VersionID,
		JobID:          sess.JobID,
		SiteID:         sess.SiteID,
		SequenceStart:  first.SeqStart,
		SequenceEnd:    last.SeqEnd,
		IdempotencyKey: api.ResponsesKey(inspectionID, first.SeqStart, last.SeqEnd),
	}
	for _, entry := range batch {
		var drafts []api.Draft
		if err := json.Unmarshal(entry.Payload, &drafts); err != nil {
			return nil, fmt.Errorf("payload of %s: %w", entry.IdempotencyKey, common.ErrCorruptState)
		}
		req.Drafts = append(req.Drafts, drafts...)
	}
	return req, nil
}

func (e *SyncEngine) drainCompletion(ctx context.Context, inspectionID string, force bool, report *DrainReport) error {
	entries, err := e.queue.list(ctx, queue.Filter{
		InspectionID: inspectionID,
		Kinds:        []models.EntryKind{models.KindCompletion},
	})
	if err != nil || len(entries) == 0 {
		return err
	}
	rest, err := e.queue.entries(e.queue.db).Count(ctx, queue.Filter{
		InspectionID: inspectionID,
		Kinds:        []models.EntryKind{models.KindResponses, models.KindAttachment},
	})
	if err != nil || rest > 0 {
		return err
	}

	entry := entries[0]
	if entry.Status == models.StatusFailedPermanent {
		report.Blocked = true
		return nil
	}
	if !force && !entry.Due(e.now().UTC()) {
		report.Deferred++
		return nil
	}

	var req api.CompletionRequest
	if err := json.Unmarshal(entry.Payload, &req); err != nil {
		err = fmt.Errorf("payload of %s: %w", entry.IdempotencyKey, common.ErrCorruptState)
		return errors.Join(err, e.queue.fail(ctx, entries[:1], err))
	}

	err = e.deliver(ctx, entries[:1], func(ctx context.Context) error {
		_, err := e.client.CompleteInspection(ctx, inspectionID, &req)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, errDeferred):
		report.Deferred++
		return nil
	default:
		if common.IsPermanent(err) {
			report.Failed++
		}
		return err
	}

	if err := e.queue.ackCompletion(context.WithoutCancel(ctx), entry); err != nil {
		return err
	}
	report.Completed = true
	return nil
}

// DrainAll drains every inspection with queued work, concurrently.
// Inspections already being drained are skipped.
func (e *SyncEngine) DrainAll(ctx context.Context) ([]*DrainReport, error) {
	return e.drainAll(ctx, true)
}

func (e *SyncEngine) drainAll(ctx context.Context, force bool) ([]*DrainReport, error) {
	ids, err := e.queue.inspections(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		reports []*DrainReport
		errs    error
		g       errgroup.Group
	)
	for _, id := range ids {
		g.Go(func() error {
			r, err := e.drain(ctx, id, force)
			mu.Lock()
			defer mu.Unlock()
			if r != nil {
				reports = append(reports, r)
			}
			if err != nil && !errors.Is(err, common.ErrDrainInProgress) {
				errs = multierr.Append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports, errs
}

// SyncNow asks Run for an immediate drain of everything.
func (e *SyncEngine) SyncNow() {
	select {
	case e.syncNow <- struct{}{}:
	default:
	}
}

// Online reports the result of the last health check.
func (e *SyncEngine) Online() bool {
	return e.online.Load()
}

// checkOnline pings the server and reports whether it just came back.
func (e *SyncEngine) checkOnline(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	up := e.client.Ping(pctx) == nil
	was := e.online.Swap(up)
	if up != was {
		e.log.Info(ctx, "connectivity changed", "online", up)
	}
	return up && !was
}

// Run drains on demand (SyncNow), when the server becomes reachable, and
// every sync interval while it stays reachable. Periodic drains respect
// backoff deadlines. Run returns when ctx is done.
func (e *SyncEngine) Run(ctx context.Context) error {
	check := time.NewTicker(e.onlineCheck)
	defer check.Stop()
	periodic := time.NewTicker(e.interval)
	defer periodic.Stop()

	run := func(force bool) {
		if _, err := e.drainAll(ctx, force); err != nil && ctx.Err() == nil {
			e.log.Error(ctx, "sync failed", "error", err)
		}
	}

	if e.checkOnline(ctx) {
		run(true)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.syncNow:
			run(true)
		case <-check.C:
			if e.checkOnline(ctx) {
				run(true)
			}
		case <-periodic.C:
			if e.Online() {
				run(false)
			}
		}
	}
}

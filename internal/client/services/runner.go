package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/attachments"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/sessions"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/forms"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/google/uuid"
)

// CompletionError lists what prevents an inspection from being completed.
type CompletionError struct {
	MissingAnswers  []string
	MissingEvidence []string
}

func (e *CompletionError) Error() string {
	var parts []string
	if len(e.MissingAnswers) > 0 {
		parts = append(parts, fmt.Sprintf("unanswered rows: %s", strings.Join(e.MissingAnswers, ", ")))
	}
	if len(e.MissingEvidence) > 0 {
		parts = append(parts, fmt.Sprintf("rows missing evidence: %s", strings.Join(e.MissingEvidence, ", ")))
	}
	return "inspection incomplete: " + strings.Join(parts, "; ")
}

func (e *CompletionError) Unwrap() error { return common.ErrIncomplete }

type liveSession struct {
	// flushMu serializes flushes of one session so a draft is never
	// enqueued twice.
	flushMu sync.Mutex
	session *models.Session
	timer   *time.Timer
}

// RunnerService owns the lifecycle of Runner Sessions: answers are kept in
// memory, written durably after a debounce, and handed to the capture queue
// in the same transaction that persists them.
type RunnerService struct {
	db       *sql.DB
	catalog  *CatalogService
	queue    *CaptureQueue
	log      logging.Logger
	debounce time.Duration
	now      func() time.Time

	mu   sync.Mutex
	live map[string]*liveSession
}

func NewRunnerService(db *sql.DB, catalog *CatalogService, queue *CaptureQueue, debounce time.Duration, log logging.Logger) *RunnerService {
	return &RunnerService{
		db:       db,
		catalog:  catalog,
		queue:    queue,
		log:      log.With("module", "runner"),
		debounce: debounce,
		now:      time.Now,
		live:     make(map[string]*liveSession),
	}
}

func (s *RunnerService) getSessionRepo(db dbx.DBTX) sessions.Repository {
	return sessions.NewSQLiteRepository(db)
}

// Open starts an inspection bound to the current published version of the
// template.
func (s *RunnerService) Open(ctx context.Context, templateID, jobID, siteID string) (*models.Session, error) {
	v, err := s.catalog.GetPublishedVersion(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, v, jobID, siteID)
}

// OpenVersion starts an inspection bound to an explicit version, which must
// be published.
func (s *RunnerService) OpenVersion(ctx context.Context, templateID, versionID, jobID, siteID string) (*models.Session, error) {
	v, err := s.catalog.GetVersion(ctx, templateID, versionID)
	if err != nil {
		return nil, err
	}
	if !v.IsPublished() {
		return nil, fmt.Errorf("version %s: %w", versionID, common.ErrVersionNotPublished)
	}
	return s.open(ctx, v, jobID, siteID)
}

func (s *RunnerService) open(ctx context.Context, v *forms.Version, jobID, siteID string) (*models.Session, error) {
	now := s.now().UTC()
	sess := &models.Session{
		InspectionID: uuid.NewString(),
		TemplateID:   v.TemplateID,
		VersionID:    v.ID,
		JobID:        jobID,
		SiteID:       siteID,
		Status:       models.SessionOpen,
		Answers:      make(map[string]models.Draft),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.getSessionRepo(s.db).Save(ctx, sess); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.live[sess.InspectionID] = &liveSession{session: sess}
	s.mu.Unlock()

	s.log.Info(ctx, "inspection opened", "inspection_id", sess.InspectionID,
		"template_id", v.TemplateID, "version", v.Number)
	return sess.Clone(), nil
}

// lookup returns the live session, loading it from storage on first use.
func (s *RunnerService) lookup(ctx context.Context, inspectionID string) (*liveSession, error) {
	s.mu.Lock()
	ls, ok := s.live[inspectionID]
	s.mu.Unlock()
	if ok {
		return ls, nil
	}

	sess, err := s.getSessionRepo(s.db).Load(ctx, inspectionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("inspection %s: %w", inspectionID, common.ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ls, ok := s.live[inspectionID]; ok {
		return ls, nil
	}
	ls = &liveSession{session: sess}
	s.live[inspectionID] = ls
	return ls, nil
}

// LoadRunnerProgress returns the current state of an inspection, including
// answers not yet written to disk. It returns (nil, nil) when the inspection
// is unknown.
func (s *RunnerService) LoadRunnerProgress(ctx context.Context, inspectionID string) (*models.Session, error) {
	ls, err := s.lookup(ctx, inspectionID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return ls.session.Clone(), nil
}

// SaveRunnerProgress replaces the state of an inspection and writes it
// durably. Drafts without a sequence are enqueued in the same transaction.
func (s *RunnerService) SaveRunnerProgress(ctx context.Context, inspectionID string, state *models.Session) error {
	if state.InspectionID != inspectionID {
		return fmt.Errorf("save progress of %s: state belongs to %s", inspectionID, state.InspectionID)
	}

	ls, err := s.lookup(ctx, inspectionID)
	if errors.Is(err, common.ErrNotFound) {
		ls = &liveSession{}
		s.mu.Lock()
		s.live[inspectionID] = ls
		s.mu.Unlock()
	} else if err != nil {
		return err
	}

	s.mu.Lock()
	if ls.session != nil && ls.session.Status != models.SessionOpen {
		s.mu.Unlock()
		return fmt.Errorf("inspection %s: %w", inspectionID, common.ErrSessionLocked)
	}
	ls.session = state.Clone()
	if ls.session.Answers == nil {
		ls.session.Answers = make(map[string]models.Draft)
	}
	s.mu.Unlock()

	return s.Flush(ctx, inspectionID)
}

// SetAnswer validates raw against the row's field type and records it. The
// write to disk is debounced; Flush forces it.
func (s *RunnerService) SetAnswer(ctx context.Context, inspectionID, rowID, raw, notes string) (models.Draft, error) {
	ls, err := s.lookup(ctx, inspectionID)
	if err != nil {
		return models.Draft{}, err
	}

	s.mu.Lock()
	status := ls.session.Status
	templateID, versionID := ls.session.TemplateID, ls.session.VersionID
	s.mu.Unlock()
	if status != models.SessionOpen {
		return models.Draft{}, fmt.Errorf("inspection %s: %w", inspectionID, common.ErrSessionLocked)
	}

	v, err := s.catalog.GetVersion(ctx, templateID, versionID)
	if err != nil {
		return models.Draft{}, err
	}
	row, ok := v.Row(rowID)
	if !ok {
		return models.Draft{}, fmt.Errorf("row %s: %w", rowID, common.ErrNotFound)
	}
	value, err := forms.ParseValue(*row, raw)
	if err != nil {
		return models.Draft{}, err
	}

	s.mu.Lock()
	sess := ls.session
	if sess.Status != models.SessionOpen {
		s.mu.Unlock()
		return models.Draft{}, fmt.Errorf("inspection %s: %w", inspectionID, common.ErrSessionLocked)
	}
	if cur, ok := sess.Answers[rowID]; ok && cur.Value == value && cur.Notes == notes {
		s.mu.Unlock()
		return cur, nil
	}
	now := s.now().UTC()
	d := models.Draft{RowID: rowID, Value: value, Notes: notes, UpdatedAt: now}
	sess.Answers[rowID] = d
	sess.UpdatedAt = now
	s.mu.Unlock()

	if s.debounce <= 0 {
		return d, s.Flush(ctx, inspectionID)
	}
	s.schedule(inspectionID, ls)
	return d, nil
}

func (s *RunnerService) schedule(inspectionID string, ls *liveSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ls.timer != nil {
		ls.timer.Reset(s.debounce)
		return
	}
	ls.timer = time.AfterFunc(s.debounce, func() {
		ctx := context.Background()
		if err := s.Flush(ctx, inspectionID); err != nil {
			s.log.Error(ctx, "debounced save failed", "inspection_id", inspectionID, "error", err)
		}
	})
}

// Flush writes the session to disk and enqueues every draft that has no
// sequence yet, in one transaction.
func (s *RunnerService) Flush(ctx context.Context, inspectionID string) error {
	ls, err := s.lookup(ctx, inspectionID)
	if err != nil {
		return err
	}

	ls.flushMu.Lock()
	defer ls.flushMu.Unlock()

	s.mu.Lock()
	if ls.timer != nil {
		ls.timer.Stop()
		ls.timer = nil
	}
	snap := ls.session.Clone()
	s.mu.Unlock()

	assigned, err := s.persist(ctx, snap, nil)
	if err != nil {
		return fmt.Errorf("flush %s: %w", inspectionID, err)
	}
	s.merge(ls, snap, assigned)
	return nil
}

// persist enqueues the dirty drafts of snap, saves it and runs extra, all in
// one queue transaction. It returns the drafts that received sequences.
func (s *RunnerService) persist(ctx context.Context, snap *models.Session, extra func(ctx context.Context, tx dbx.DBTX) error) ([]models.Draft, error) {
	var assigned []models.Draft
	err := s.queue.Do(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		assigned = nil
		if dirty := snap.Dirty(); len(dirty) > 0 {
			var err error
			if _, assigned, err = s.queue.EnqueueResponsesTx(ctx, tx, snap.InspectionID, dirty); err != nil {
				return err
			}
			for _, d := range assigned {
				snap.Answers[d.RowID] = d
				snap.LastSequence = max(snap.LastSequence, d.Sequence)
			}
		}
		if err := s.getSessionRepo(tx).Save(ctx, snap); err != nil {
			return err
		}
		if extra != nil {
			return extra(ctx, tx)
		}
		return nil
	}, snap.InspectionID)
	return assigned, err
}

// merge copies assigned sequences into the live session unless the draft
// was edited again in the meantime.
func (s *RunnerService) merge(ls *liveSession, snap *models.Session, assigned []models.Draft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range assigned {
		cur, ok := ls.session.Answers[d.RowID]
		if ok && cur.Sequence == 0 && cur.UpdatedAt.Equal(d.UpdatedAt) {
			ls.session.Answers[d.RowID] = d
		}
	}
	ls.session.LastSequence = max(ls.session.LastSequence, snap.LastSequence)
}

// AddAttachment stores evidence for a row and enqueues its upload.
func (s *RunnerService) AddAttachment(ctx context.Context, inspectionID, rowID string, blob []byte, mimeType, filename string) (*models.Attachment, error) {
	ls, err := s.lookup(ctx, inspectionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	status := ls.session.Status
	templateID, versionID := ls.session.TemplateID, ls.session.VersionID
	s.mu.Unlock()
	if status != models.SessionOpen {
		return nil, fmt.Errorf("inspection %s: %w", inspectionID, common.ErrSessionLocked)
	}

	v, err := s.catalog.GetVersion(ctx, templateID, versionID)
	if err != nil {
		return nil, err
	}
	if _, ok := v.Row(rowID); !ok {
		return nil, fmt.Errorf("row %s: %w", rowID, common.ErrNotFound)
	}

	return s.queue.EnqueueAttachment(ctx, inspectionID, rowID, blob, AttachmentMeta{MimeType: mimeType, Filename: filename})
}

// Complete finishes an inspection: open -> completing -> completed. Every
// row of a required entity must be answered and every evidence row must
// have an attachment. Completing a completed inspection is a no-op.
func (s *RunnerService) Complete(ctx context.Context, inspectionID string) error {
	ls, err := s.lookup(ctx, inspectionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	switch ls.session.Status {
	case models.SessionCompleted:
		s.mu.Unlock()
		return nil
	case models.SessionCompleting:
		s.mu.Unlock()
		return fmt.Errorf("inspection %s is being completed: %w", inspectionID, common.ErrSessionLocked)
	}
	ls.session.Status = models.SessionCompleting
	snap := ls.session.Clone()
	s.mu.Unlock()

	if err := s.checkComplete(ctx, snap); err != nil {
		s.revert(ls)
		return err
	}

	ls.flushMu.Lock()
	s.mu.Lock()
	if ls.timer != nil {
		ls.timer.Stop()
		ls.timer = nil
	}
	s.mu.Unlock()
	assigned, err := s.persist(ctx, snap, nil)
	ls.flushMu.Unlock()
	if err != nil {
		s.revert(ls)
		return fmt.Errorf("complete %s: %w", inspectionID, err)
	}
	s.merge(ls, snap, assigned)

	return s.finish(ctx, ls)
}

func (s *RunnerService) revert(ls *liveSession) {
	s.mu.Lock()
	if ls.session.Status == models.SessionCompleting {
		ls.session.Status = models.SessionOpen
	}
	s.mu.Unlock()
}

func (s *RunnerService) checkComplete(ctx context.Context, snap *models.Session) error {
	v, err := s.catalog.GetVersion(ctx, snap.TemplateID, snap.VersionID)
	if err != nil {
		return err
	}
	repo := attachments.NewSQLiteRepository(s.db)

	cerr := &CompletionError{}
	for _, row := range v.Rows() {
		if v.IsRequired(row.ID) {
			if d, ok := snap.Answers[row.ID]; !ok || d.Value.IsBlank() {
				cerr.MissingAnswers = append(cerr.MissingAnswers, row.ID)
			}
		}
		if row.EvidenceRequired {
			n, err := repo.CountByRow(ctx, snap.InspectionID, row.ID)
			if err != nil {
				return err
			}
			if n == 0 {
				cerr.MissingEvidence = append(cerr.MissingEvidence, row.ID)
			}
		}
	}
	if len(cerr.MissingAnswers) > 0 || len(cerr.MissingEvidence) > 0 {
		return cerr
	}
	return nil
}

// finish moves a completing session to completed and enqueues the
// completion signal behind every response already queued.
func (s *RunnerService) finish(ctx context.Context, ls *liveSession) error {
	s.mu.Lock()
	snap := ls.session.Clone()
	s.mu.Unlock()

	completedAt := s.now().UTC()
	snap.Status = models.SessionCompleted
	snap.CompletedAt = &completedAt
	snap.UpdatedAt = completedAt

	_, err := s.persist(ctx, snap, func(ctx context.Context, tx dbx.DBTX) error {
		return s.queue.EnqueueCompletionTx(ctx, tx, snap)
	})
	if err != nil {
		return fmt.Errorf("complete %s: %w", snap.InspectionID, err)
	}

	s.mu.Lock()
	ls.session.Status = models.SessionCompleted
	ls.session.CompletedAt = &completedAt
	ls.session.UpdatedAt = completedAt
	ls.session.LastSequence = max(ls.session.LastSequence, snap.LastSequence)
	s.mu.Unlock()

	s.log.Info(ctx, "inspection completed", "inspection_id", snap.InspectionID, "final_sequence", snap.LastSequence)
	return nil
}

// Recover runs at start-up. It returns interrupted uploads to the queue,
// enqueues drafts that were saved but never enqueued, and finishes sessions
// left in completing.
func (s *RunnerService) Recover(ctx context.Context) error {
	if _, err := s.queue.RecoverInFlight(ctx); err != nil {
		return err
	}

	list, err := s.getSessionRepo(s.db).List(ctx, models.SessionOpen, models.SessionCompleting)
	if err != nil {
		return err
	}
	for _, sess := range list {
		if len(sess.Dirty()) > 0 {
			if err := s.Flush(ctx, sess.InspectionID); err != nil {
				return err
			}
		}
		if sess.Status == models.SessionCompleting {
			ls, err := s.lookup(ctx, sess.InspectionID)
			if err != nil {
				return err
			}
			if err := s.finish(ctx, ls); err != nil {
				return err
			}
		}
	}
	return nil
}

// Abandon discards the unsynced work of an inspection: its queued entries,
// attachments not yet uploaded, and every answer the server has not
// acknowledged. Those rows read as unanswered again. A session that was
// completed but whose completion never reached the server is reopened, so
// the technician can finish it again and it syncs from the server's
// acknowledged sequence onwards.
func (s *RunnerService) Abandon(ctx context.Context, inspectionID string) (*Abandoned, error) {
	ls, err := s.lookup(ctx, inspectionID)
	if errors.Is(err, common.ErrNotFound) {
		return s.queue.Abandon(ctx, inspectionID)
	}
	if err != nil {
		return nil, err
	}

	ls.flushMu.Lock()
	defer ls.flushMu.Unlock()

	s.mu.Lock()
	if ls.timer != nil {
		ls.timer.Stop()
		ls.timer = nil
	}
	snap := ls.session.Clone()
	s.mu.Unlock()

	var res *Abandoned
	err = s.queue.Do(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		if res, err = s.queue.AbandonTx(ctx, tx, inspectionID); err != nil {
			return err
		}
		for rowID, d := range snap.Answers {
			if d.Sequence == 0 || d.Sequence > res.Acknowledged {
				delete(snap.Answers, rowID)
			}
		}
		snap.LastSequence = res.Acknowledged
		if snap.Status != models.SessionOpen && snap.SyncedAt == nil {
			snap.Status = models.SessionOpen
			snap.CompletedAt = nil
		}
		snap.UpdatedAt = s.now().UTC()
		return s.getSessionRepo(tx).Save(ctx, snap)
	}, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("abandon %s: %w", inspectionID, err)
	}

	s.mu.Lock()
	ls.session = snap
	s.mu.Unlock()

	for _, a := range res.Attachments {
		s.removeBlob(ctx, a)
	}
	s.log.Warn(ctx, "unsynced work abandoned", "inspection_id", inspectionID,
		"entries", res.Entries, "acknowledged", res.Acknowledged, "attachments", len(res.Attachments))
	return res, nil
}

// Prune deletes completed inspections whose completion the server has
// acknowledged, together with their attachments and any blob no longer
// referenced. It returns the number of sessions removed.
func (s *RunnerService) Prune(ctx context.Context) (int, error) {
	list, err := s.getSessionRepo(s.db).List(ctx, models.SessionCompleted)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, sess := range list {
		if sess.SyncedAt == nil {
			continue
		}
		pending, err := s.queue.GetPendingCount(ctx, sess.InspectionID)
		if err != nil {
			return pruned, err
		}
		if pending > 0 {
			continue
		}

		atts, err := attachments.NewSQLiteRepository(s.db).ListByInspection(ctx, sess.InspectionID)
		if err != nil {
			return pruned, err
		}
		err = s.queue.Do(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			if err := attachments.NewSQLiteRepository(tx).DeleteByInspection(ctx, sess.InspectionID); err != nil {
				return err
			}
			return s.getSessionRepo(tx).Delete(ctx, sess.InspectionID)
		})
		if err != nil {
			return pruned, fmt.Errorf("prune %s: %w", sess.InspectionID, err)
		}

		s.mu.Lock()
		delete(s.live, sess.InspectionID)
		s.mu.Unlock()

		for _, a := range atts {
			s.removeBlob(ctx, a)
		}
		pruned++
	}
	return pruned, nil
}

func (s *RunnerService) removeBlob(ctx context.Context, a *models.Attachment) {
	n, err := attachments.NewSQLiteRepository(s.db).CountByHash(ctx, a.ContentHash)
	if err != nil || n > 0 {
		return
	}
	if err := os.Remove(a.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn(ctx, "blob not removed", "path", a.LocalPath, "error", err)
	}
}

// List returns every session stored on the device.
func (s *RunnerService) List(ctx context.Context) ([]*models.Session, error) {
	return s.getSessionRepo(s.db).List(ctx)
}

// Close flushes every session with a pending debounced save.
func (s *RunnerService) Close(ctx context.Context) error {
	s.mu.Lock()
	var ids []string
	for id, ls := range s.live {
		if ls.timer != nil {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.Flush(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

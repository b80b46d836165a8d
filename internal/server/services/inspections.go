package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
	"github.com/dmitrijs2005/fieldsync/internal/forms"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/server/blobstore"
	"github.com/dmitrijs2005/fieldsync/internal/server/models"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/repomanager"
)

// AttachmentUpload is one evidence file as received over HTTP.
type AttachmentUpload struct {
	InspectionID   string
	RowID          string
	AttachmentID   string
	ContentHash    string
	MimeType       string
	Filename       string
	IdempotencyKey string
	Body           []byte
}

// InspectionService accepts what field runners sync. Response batches are
// deduplicated by sequence so replays never apply twice.
type InspectionService struct {
	repomanager repomanager.RepositoryManager
	blobs       blobstore.Store
	maxBlob     int64
	log         logging.Logger
	now         func() time.Time
}

func NewInspectionService(m repomanager.RepositoryManager, blobs blobstore.Store, maxAttachmentBytes int64, log logging.Logger) *InspectionService {
	return &InspectionService{
		repomanager: m,
		blobs:       blobs,
		maxBlob:     maxAttachmentBytes,
		log:         log.With("module", "inspections"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func checkBatch(b *api.ResponseBatch) error {
	if b.SequenceStart < 1 || b.SequenceEnd < b.SequenceStart {
		return rejected("invalid sequence range %d-%d", b.SequenceStart, b.SequenceEnd)
	}
	if int64(len(b.Drafts)) != b.SequenceEnd-b.SequenceStart+1 {
		return rejected("batch %d-%d carries %d drafts", b.SequenceStart, b.SequenceEnd, len(b.Drafts))
	}
	for i, d := range b.Drafts {
		if d.Sequence != b.SequenceStart+int64(i) {
			return rejected("draft %d has sequence %d, expected %d", i, d.Sequence, b.SequenceStart+int64(i))
		}
	}
	return nil
}

// bindableVersion returns the version an inspection may be bound to.
func bindableVersion(ctx context.Context, r repomanager.Repositories, templateID, versionID string) (*forms.Version, error) {
	v, err := r.Templates().GetVersion(ctx, versionID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%w: version %s does not exist", common.ErrVersionUnavailable, versionID)
	}
	if err != nil {
		return nil, err
	}
	if !v.IsPublished() {
		return nil, fmt.Errorf("%w: version %s is not published", common.ErrVersionUnavailable, versionID)
	}
	if templateID != "" && v.TemplateID != templateID {
		return nil, fmt.Errorf("%w: version %s belongs to template %s", common.ErrVersionUnavailable, versionID, v.TemplateID)
	}
	return v, nil
}

// load returns the inspection, or nil when the server has not seen it yet.
func load(ctx context.Context, r repomanager.Repositories, technicianID, id string) (*models.Inspection, error) {
	insp, err := r.Inspections().Get(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if insp.TechnicianID != technicianID {
		return nil, ErrForbidden
	}
	return insp, nil
}

// SubmitResponses applies a response batch and returns the highest
// contiguous sequence stored for the inspection.
func (s *InspectionService) SubmitResponses(ctx context.Context, technicianID, inspectionID string, b *api.ResponseBatch) (*api.BatchAck, error) {
	if err := checkBatch(b); err != nil {
		return nil, err
	}

	var ack api.BatchAck
	var applied int
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		insp, err := load(ctx, r, technicianID, inspectionID)
		if err != nil {
			return err
		}

		if insp == nil {
			if b.SequenceStart != 1 {
				return &ConflictError{Expected: 1}
			}
			if _, err := bindableVersion(ctx, r, b.TemplateID, b.VersionID); err != nil {
				return err
			}
			now := s.now()
			insp = &models.Inspection{
				ID:           inspectionID,
				TechnicianID: technicianID,
				TemplateID:   b.TemplateID,
				VersionID:    b.VersionID,
				JobID:        b.JobID,
				SiteID:       b.SiteID,
				Status:       models.InspectionOpen,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := r.Inspections().Create(ctx, insp); err != nil {
				return err
			}
		} else if b.VersionID != "" && b.VersionID != insp.VersionID {
			return rejected("inspection %s is bound to version %s", inspectionID, insp.VersionID)
		}

		if insp.Completed() {
			return fmt.Errorf("inspection %s: %w", inspectionID, common.ErrInspectionClosed)
		}
		ack.AcknowledgedUpTo = insp.LastAcknowledged
		if b.SequenceEnd <= insp.LastAcknowledged {
			return nil
		}
		if b.SequenceStart > insp.LastAcknowledged+1 {
			return &ConflictError{Expected: insp.LastAcknowledged + 1}
		}

		v, err := r.Templates().GetVersion(ctx, insp.VersionID)
		if err != nil {
			return fmt.Errorf("load bound version: %w", err)
		}

		var rs []models.Response
		for _, d := range b.Drafts {
			if d.Sequence <= insp.LastAcknowledged {
				continue
			}
			row, ok := v.Row(d.RowID)
			if !ok {
				return fmt.Errorf("%w: row %s is not part of version %s", common.ErrInvalidValue, d.RowID, v.ID)
			}
			if d.Value.IsZero() {
				return rejected("draft %d for row %s carries no value", d.Sequence, d.RowID)
			}
			if err := forms.Validate(*row, d.Value); err != nil {
				return err
			}
			rs = append(rs, models.Response{
				InspectionID: inspectionID,
				Sequence:     d.Sequence,
				RowID:        d.RowID,
				Value:        d.Value,
				Notes:        d.Notes,
				UpdatedAt:    d.UpdatedAt,
			})
		}
		if err := r.Inspections().PutResponses(ctx, rs); err != nil {
			return err
		}

		insp.LastAcknowledged = b.SequenceEnd
		insp.UpdatedAt = s.now()
		if err := r.Inspections().Update(ctx, insp); err != nil {
			return err
		}
		ack.AcknowledgedUpTo = insp.LastAcknowledged
		applied = len(rs)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug(ctx, "responses accepted", "inspection_id", inspectionID, "key", b.IdempotencyKey,
		"applied", applied, "acknowledged_up_to", ack.AcknowledgedUpTo)
	return &ack, nil
}

// Complete closes an inspection once every response up to FinalSequence is
// stored. Completing a completed inspection is a no-op.
func (s *InspectionService) Complete(ctx context.Context, technicianID, inspectionID string, req *api.CompletionRequest) (*api.CompletionAck, error) {
	var ack api.CompletionAck
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		insp, err := load(ctx, r, technicianID, inspectionID)
		if err != nil {
			return err
		}

		completedAt := req.CompletedAt.UTC()
		if req.CompletedAt.IsZero() {
			completedAt = s.now()
		}

		if insp == nil {
			if req.FinalSequence != 0 {
				return &ConflictError{Expected: 1}
			}
			if _, err := bindableVersion(ctx, r, req.TemplateID, req.VersionID); err != nil {
				return err
			}
			now := s.now()
			insp = &models.Inspection{
				ID:           inspectionID,
				TechnicianID: technicianID,
				TemplateID:   req.TemplateID,
				VersionID:    req.VersionID,
				Status:       models.InspectionCompleted,
				CompletedAt:  &completedAt,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := r.Inspections().Create(ctx, insp); err != nil {
				return err
			}
			ack = api.CompletionAck{InspectionID: inspectionID, CompletedAt: completedAt}
			return nil
		}

		if insp.Completed() {
			ack = api.CompletionAck{InspectionID: inspectionID, CompletedAt: *insp.CompletedAt}
			return nil
		}
		if req.FinalSequence != insp.LastAcknowledged {
			return &ConflictError{Expected: insp.LastAcknowledged + 1}
		}

		insp.Status = models.InspectionCompleted
		insp.CompletedAt = &completedAt
		insp.UpdatedAt = s.now()
		if err := r.Inspections().Update(ctx, insp); err != nil {
			return err
		}
		ack = api.CompletionAck{InspectionID: inspectionID, CompletedAt: completedAt}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "inspection completed", "inspection_id", inspectionID, "final_sequence", req.FinalSequence)
	return &ack, nil
}

// UploadAttachment stores an evidence blob once per content hash and maps
// the idempotency key to its reference. Replaying a key returns the
// reference stored the first time.
func (s *InspectionService) UploadAttachment(ctx context.Context, technicianID string, up *AttachmentUpload) (*api.AttachmentRef, error) {
	if up.ContentHash == "" || up.AttachmentID == "" {
		return nil, rejected("content hash and attachment id are required")
	}
	if up.IdempotencyKey == "" {
		up.IdempotencyKey = api.AttachmentKey(up.ContentHash, up.AttachmentID)
	}
	if s.maxBlob > 0 && int64(len(up.Body)) > s.maxBlob {
		return nil, rejected("attachment of %d bytes exceeds %d", len(up.Body), s.maxBlob)
	}

	var existing *api.AttachmentRef
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		ref, err := r.Attachments().GetByKey(ctx, up.IdempotencyKey)
		if err == nil {
			existing = ref
			return nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return err
		}

		insp, err := load(ctx, r, technicianID, up.InspectionID)
		if err != nil {
			return err
		}
		if insp == nil {
			return nil
		}
		if insp.Completed() {
			return fmt.Errorf("inspection %s: %w", up.InspectionID, common.ErrInspectionClosed)
		}
		v, err := r.Templates().GetVersion(ctx, insp.VersionID)
		if err != nil {
			return fmt.Errorf("load bound version: %w", err)
		}
		if _, ok := v.Row(up.RowID); !ok {
			return rejected("row %s is not part of version %s", up.RowID, v.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if !cryptox.Verify(up.Body, up.ContentHash) {
		return nil, rejected("content hash mismatch for attachment %s", up.AttachmentID)
	}

	url, err := s.blobs.Put(ctx, up.ContentHash, up.MimeType, up.Body)
	if err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	ref := &api.AttachmentRef{
		ID:           up.AttachmentID,
		InspectionID: up.InspectionID,
		RowID:        up.RowID,
		ContentHash:  up.ContentHash,
		MimeType:     up.MimeType,
		Size:         int64(len(up.Body)),
		URL:          url,
		StoredAt:     s.now(),
	}
	err = s.repomanager.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		if err := r.Attachments().Insert(ctx, up.IdempotencyKey, ref); err != nil {
			return err
		}
		stored, err := r.Attachments().GetByKey(ctx, up.IdempotencyKey)
		if err != nil {
			return err
		}
		ref = stored
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "attachment stored", "inspection_id", up.InspectionID, "row_id", up.RowID,
		"attachment_id", up.AttachmentID, "size", ref.Size)
	return ref, nil
}

// Inspection returns the stored state of one inspection.
func (s *InspectionService) Inspection(ctx context.Context, technicianID, inspectionID string) (*api.InspectionView, error) {
	var view *api.InspectionView
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		insp, err := load(ctx, r, technicianID, inspectionID)
		if err != nil {
			return err
		}
		if insp == nil {
			return fmt.Errorf("inspection %s: %w", inspectionID, common.ErrNotFound)
		}
		rs, err := r.Inspections().ListResponses(ctx, inspectionID)
		if err != nil {
			return err
		}
		refs, err := r.Attachments().ListByInspection(ctx, inspectionID)
		if err != nil {
			return err
		}

		view = &api.InspectionView{
			ID:               insp.ID,
			TemplateID:       insp.TemplateID,
			VersionID:        insp.VersionID,
			JobID:            insp.JobID,
			SiteID:           insp.SiteID,
			Status:           string(insp.Status),
			LastAcknowledged: insp.LastAcknowledged,
			CompletedAt:      insp.CompletedAt,
			Responses:        make([]api.Draft, 0, len(rs)),
			Attachments:      refs,
		}
		for _, resp := range rs {
			view.Responses = append(view.Responses, api.Draft{
				RowID:     resp.RowID,
				Value:     resp.Value,
				Notes:     resp.Notes,
				Sequence:  resp.Sequence,
				UpdatedAt: resp.UpdatedAt,
			})
		}
		return nil
	})
	return view, err
}

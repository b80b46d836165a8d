// Package attachments records evidence captured on the device. The bytes
// themselves live in content-addressed files; this table tracks ownership
// (inspection, row) and the server reference once uploaded.
package attachments

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

type Repository interface {
	Insert(ctx context.Context, a *models.Attachment) error
	// Get returns common.ErrNotFound when absent.
	Get(ctx context.Context, id string) (*models.Attachment, error)
	ListByInspection(ctx context.Context, inspectionID string) ([]*models.Attachment, error)
	CountByRow(ctx context.Context, inspectionID, rowID string) (int, error)
	SetRef(ctx context.Context, id string, ref *api.AttachmentRef) error
	// DeletePending removes the attachments of an inspection that were never
	// uploaded and returns them.
	DeletePending(ctx context.Context, inspectionID string) ([]*models.Attachment, error)
	DeleteByInspection(ctx context.Context, inspectionID string) error
	// CountByHash returns how many attachments share a blob.
	CountByHash(ctx context.Context, contentHash string) (int, error)
}

// Package inspections stores the server side of each inspection: its
// binding, acknowledged sequence watermark and accepted responses.
package inspections

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/server/models"
)

type Repository interface {
	// Get returns common.ErrNotFound when absent. Inside a transaction the
	// row stays locked until commit.
	Get(ctx context.Context, id string) (*models.Inspection, error)
	Create(ctx context.Context, i *models.Inspection) error
	Update(ctx context.Context, i *models.Inspection) error
	// PutResponses stores rs, ignoring sequences already stored.
	PutResponses(ctx context.Context, rs []models.Response) error
	ListResponses(ctx context.Context, inspectionID string) ([]models.Response, error)
}

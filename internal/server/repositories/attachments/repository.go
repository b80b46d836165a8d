// Package attachments maps attachment idempotency keys to the reference of
// the stored blob, so a replayed upload returns the original reference.
package attachments

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/api"
)

type Repository interface {
	// GetByKey returns common.ErrNotFound when absent.
	GetByKey(ctx context.Context, key string) (*api.AttachmentRef, error)
	// Insert stores ref under key. An existing key is left untouched.
	Insert(ctx context.Context, key string, ref *api.AttachmentRef) error
	ListByInspection(ctx context.Context, inspectionID string) ([]api.AttachmentRef, error)
}

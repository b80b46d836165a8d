// Package sessions persists Runner Sessions, one record per inspection id.
//
// Answers are stored as a JSON document next to the session's scalar fields.
// A document that cannot be decoded is reported as common.ErrCorruptState;
// the repository never substitutes an empty session for unreadable data.
package sessions

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

type Repository interface {
	// Load returns (nil, nil) when no session exists for inspectionID.
	Load(ctx context.Context, inspectionID string) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) error
	List(ctx context.Context, statuses ...models.SessionStatus) ([]*models.Session, error)
	Delete(ctx context.Context, inspectionID string) error
}
